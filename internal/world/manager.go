package world

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockwire/classicserver/internal/entity"
)

// ErrWorldNotFound is returned by operations addressing a world by name
// that isn't registered with the Manager.
var ErrWorldNotFound = fmt.Errorf("world: not found")

const mainWorldName = "main"

type properties struct {
	Worlds []string `json:"worlds"`
}

// NotifyFunc is how Manager reports a physics-driven block change,
// scoped to the world it happened in, up to whatever owns the
// broadcast fabric (internal/server). It is the world-scoped analogue
// of BlockChangeFunc.
type NotifyFunc func(w *World, x, y, z int16, block uint8)

// Manager owns the set of loaded worlds and their on-disk persistence,
// grounded on original_source/redstone/world.py's WorldManagerIO/
// WorldManager. Directory layout and the properties.json bootstrap
// match the original; per-world byte arrays are gzip-framed the same
// way (see World.Serialize/Load).
type Manager struct {
	dir    string
	worlds map[string]*World
	notify NotifyFunc
}

// NewManager returns a Manager rooted at dir; Setup creates dir if it
// is missing.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:    dir,
		worlds: make(map[string]*World),
	}
}

// SetNotifier installs the callback used to relay physics-driven block
// changes for every world this Manager loads or creates in Setup. The
// relay reads the callback at the time of each change, so it may be
// installed before or after Setup. Worlds registered directly through
// AddWorld are not relayed.
func (m *Manager) SetNotifier(fn NotifyFunc) {
	m.notify = fn
}

func (m *Manager) propertiesPath() string {
	return filepath.Join(m.dir, "properties.json")
}

func (m *Manager) worldPath(name string) string {
	return filepath.Join(m.dir, name+".dat")
}

// Setup creates the world directory and properties.json if they don't
// exist (seeded with just "main"), then loads or generates every world
// named in properties.json.
func (m *Manager) Setup() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(m.propertiesPath()); os.IsNotExist(err) {
		props := properties{Worlds: []string{mainWorldName}}
		data, err := json.MarshalIndent(props, "", "    ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(m.propertiesPath(), data, 0o644); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	raw, err := os.ReadFile(m.propertiesPath())
	if err != nil {
		return err
	}
	var props properties
	if err := json.Unmarshal(raw, &props); err != nil {
		return err
	}

	for _, name := range props.Worlds {
		if _, err := os.Stat(m.worldPath(name)); os.IsNotExist(err) {
			if err := m.create(name); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if err := m.loadFromDisk(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) attach(w *World) {
	world := w
	world.SetNotifier(func(x, y, z int16, block uint8) {
		if m.notify != nil {
			m.notify(world, x, y, z, block)
		}
	})
	m.AddWorld(world)
}

func (m *Manager) create(name string) error {
	w := New(name)
	if err := m.save(w); err != nil {
		return err
	}
	m.attach(w)
	return nil
}

func (m *Manager) loadFromDisk(name string) error {
	raw, err := os.ReadFile(m.worldPath(name))
	if err != nil {
		return err
	}
	blocks, err := Load(raw)
	if err != nil {
		return err
	}
	m.attach(FromBlocks(name, blocks))
	return nil
}

// Save persists w to its .dat file.
func (m *Manager) save(w *World) error {
	data, err := w.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(m.worldPath(w.Name), data, 0o644)
}

// SaveWorld persists the named world, or ErrWorldNotFound.
func (m *Manager) SaveWorld(name string) error {
	w, ok := m.GetWorld(name)
	if !ok {
		return ErrWorldNotFound
	}
	return m.save(w)
}

// SaveAll persists every loaded world.
func (m *Manager) SaveAll() error {
	for _, w := range m.worlds {
		if err := m.save(w); err != nil {
			return err
		}
	}
	return nil
}

// GetMainWorld returns the "main" world, or ErrWorldNotFound if it was
// never loaded (shouldn't happen after a successful Setup).
func (m *Manager) GetMainWorld() (*World, error) {
	w, ok := m.worlds[mainWorldName]
	if !ok {
		return nil, ErrWorldNotFound
	}
	return w, nil
}

// GetWorld returns the world registered under name.
func (m *Manager) GetWorld(name string) (*World, bool) {
	w, ok := m.worlds[name]
	return w, ok
}

// Worlds returns every loaded world, keyed by name.
func (m *Manager) Worlds() map[string]*World {
	out := make(map[string]*World, len(m.worlds))
	for k, v := range m.worlds {
		out[k] = v
	}
	return out
}

// AddWorld registers w, unless a world of the same name is already
// registered.
func (m *Manager) AddWorld(w *World) {
	if _, exists := m.worlds[w.Name]; exists {
		return
	}
	m.worlds[w.Name] = w
}

// RemoveWorld unregisters the named world.
func (m *Manager) RemoveWorld(name string) {
	delete(m.worlds, name)
}

// GetWorldFromEntity returns the world containing the entity with the
// given id, if any.
func (m *Manager) GetWorldFromEntity(id uint8) (*World, bool) {
	for _, w := range m.worlds {
		if w.HasEntity(id) {
			return w, true
		}
	}
	return nil, false
}

// GetEntityFromWorld returns the entity with the given id, wherever it
// is registered.
func (m *Manager) GetEntityFromWorld(id uint8) (*entity.Entity, bool) {
	for _, w := range m.worlds {
		if e, ok := w.GetEntity(id); ok {
			return e, true
		}
	}
	return nil, false
}
