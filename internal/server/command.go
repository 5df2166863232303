package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/scheduler"
)

// joinWithSpaces implements the corrected contract spec §9 asks for in
// place of the legacy joinWithSpaces bug (the original compares
// chars.index(char) == len(char) instead of len(chars)-1, which drops
// or duplicates a separator depending on token content): plain
// single-space joining of tokens, noted here rather than reproduced.
func joinWithSpaces(tokens []string) string {
	return strings.Join(tokens, " ")
}

// commandDef is one entry in the keyword table spec §4.9 describes:
// a keyword, a required rank, a docstring, and a handler. handle
// returns the lines to reply to the caller with, or an error which
// becomes the templated "Failed to execute" reply.
type commandDef struct {
	keyword  string
	required classic.PlayerRank
	doc      string
	handle   func(f *Factory, c *Connection, args []string) ([]string, error)
}

// CommandDispatcher is spec §4.9's command table plus permission gate,
// grounded on original_source/redstone/command.py's CommandDispatcher/
// CommandParser.
type CommandDispatcher struct {
	factory *Factory
	defs    map[string]commandDef
	order   []string // registration order, for /help's listing
}

func newCommandDispatcher(f *Factory) *CommandDispatcher {
	cd := &CommandDispatcher{factory: f, defs: make(map[string]commandDef)}
	for _, def := range builtinCommands {
		cd.register(def)
	}
	return cd
}

func (cd *CommandDispatcher) register(def commandDef) {
	cd.defs[def.keyword] = def
	cd.order = append(cd.order, def.keyword)
}

// Dispatch parses text (which must start with "/"), logs it, checks
// permission, and invokes the matching handler, replying to the caller
// only, per spec §4.9.
func (cd *CommandDispatcher) Dispatch(c *Connection, text string) {
	e := c.Entity()
	if e == nil {
		return
	}

	tokens := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(tokens) == 0 {
		return
	}
	keyword, args := tokens[0], tokens[1:]

	cd.factory.log.Info().Str("user", e.Username).Str("command", keyword).Msg("issued server command")

	def, ok := cd.defs[keyword]
	if !ok {
		cd.reply(c, fmt.Sprintf("Couldn't execute unknown command %s!", keyword))
		return
	}
	if !classic.HasPermission(e.Rank(), def.required) {
		cd.reply(c, "You don't have access to that command!")
		return
	}

	lines, err := def.handle(cd.factory, c, args)
	if err != nil {
		cd.factory.log.Warn().Err(err).Str("command", keyword).Msg("command failed")
		cd.reply(c, fmt.Sprintf("Failed to execute command %s!", keyword))
		return
	}
	for _, line := range lines {
		cd.reply(c, line)
	}
}

// reply sends a server message to c alone (never broadcast), using the
// self-id sentinel as the sender since command output isn't attributed
// to a player entity.
func (cd *CommandDispatcher) reply(c *Connection, text string) {
	_ = c.SendUpstream(classic.IDMessage, MessageArgs{SenderID: classic.SelfID, Text: text})
}

var builtinCommands = []commandDef{
	{
		keyword:  "mute",
		required: classic.Administrator,
		doc:      "mute <username> [seconds] - silence a player's chat, optionally for a limited time",
		handle:   cmdMute,
	},
	{
		keyword:  "kick",
		required: classic.Administrator,
		doc:      "kick <username> [reason...] - disconnect a player",
		handle:   cmdKick,
	},
	{
		keyword:  "say",
		required: classic.Administrator,
		doc:      "say <message...> - broadcast a server announcement",
		handle:   cmdSay,
	},
	{
		keyword:  "goto",
		required: classic.Guest,
		doc:      "goto <world> - teleport yourself to another world",
		handle:   cmdGoto,
	},
	{
		keyword:  "saveall",
		required: classic.Administrator,
		doc:      "saveall - persist every loaded world",
		handle:   cmdSaveAll,
	},
	{
		keyword:  "save",
		required: classic.Administrator,
		doc:      "save [world] - persist a single world (default: your current one)",
		handle:   cmdSave,
	},
	{
		keyword:  "tp",
		required: classic.Administrator,
		doc:      "tp <username> - teleport yourself to another player",
		handle:   cmdTP,
	},
	{
		keyword:  "list",
		required: classic.Guest,
		doc:      "list - show who is currently online",
		handle:   cmdList,
	},
	{
		keyword:  "help",
		required: classic.Guest,
		doc:      "help [command] - show available commands, or detail on one",
		handle:   cmdHelp,
	},
}

func cmdMute(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("command: mute requires a username")
	}
	target, ok := f.FindConnectionByUsername(args[0])
	if !ok {
		return nil, fmt.Errorf("command: mute: %q is not online", args[0])
	}
	targetEntity := target.Entity()
	nowMuted := targetEntity.ToggleMuted()

	if len(args) >= 2 && nowMuted {
		seconds, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("command: mute: invalid timeout %q: %w", args[1], err)
		}
		generation := targetEntity.BeginMute()
		if f.scheduler != nil {
			taskName := fmt.Sprintf("unmute-%s-%d", targetEntity.Username, generation)
			_ = f.scheduler.Add(taskName, 0, time.Duration(seconds)*time.Second, func(t *scheduler.Task) scheduler.Result {
				// Only unmute if this is still the most recent mute
				// invocation for this player, per DESIGN.md's Open
				// Question decision (the legacy version unmutes
				// unconditionally, which can un-mute a player muted
				// again in the interim). The check and the write are
				// atomic inside UnmuteIfGeneration, since this callback
				// runs on the scheduler's own goroutine.
				targetEntity.UnmuteIfGeneration(generation)
				return scheduler.Done
			})
		}
		return []string{fmt.Sprintf("Muted %s for %d seconds.", targetEntity.Username, seconds)}, nil
	}

	if nowMuted {
		return []string{fmt.Sprintf("Muted %s.", targetEntity.Username)}, nil
	}
	return []string{fmt.Sprintf("Unmuted %s.", targetEntity.Username)}, nil
}

func cmdKick(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("command: kick requires a username")
	}
	target, ok := f.FindConnectionByUsername(args[0])
	if !ok {
		return nil, fmt.Errorf("command: kick: %q is not online", args[0])
	}
	reason := "Kicked by administrator."
	if len(args) > 1 {
		reason = joinWithSpaces(args[1:])
	}
	f.Drop(target, reason)
	return []string{fmt.Sprintf("Kicked %s.", args[0])}, nil
}

func cmdSay(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command: say requires a message")
	}
	e := c.Entity()
	text := fmt.Sprintf("%s[SERVER]%s: %s", classic.ChatColorRed, classic.ChatColorWhite, joinWithSpaces(args))
	f.Broadcast(classic.IDMessage, nil, MessageArgs{SenderID: e.ID, Text: text})
	return nil, nil
}

func cmdGoto(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("command: goto requires a world name")
	}
	e := c.Entity()
	dst, ok := f.worlds.GetWorld(args[0])
	if !ok {
		return nil, fmt.Errorf("command: goto: world %q not found", args[0])
	}
	username := e.Username
	if err := teleport(c, dst); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Successfully teleported %s to world %s", username, args[0])}, nil
}

func cmdSaveAll(f *Factory, c *Connection, args []string) ([]string, error) {
	if err := f.worlds.SaveAll(); err != nil {
		return nil, err
	}
	return []string{"Saved all worlds."}, nil
}

func cmdSave(f *Factory, c *Connection, args []string) ([]string, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	} else if e := c.Entity(); e != nil {
		name = e.World
	}
	if name == "" {
		return nil, fmt.Errorf("command: save: no world to save")
	}
	if err := f.worlds.SaveWorld(name); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Saved world %s.", name)}, nil
}

func cmdTP(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("command: tp requires a username")
	}
	target, ok := f.FindConnectionByUsername(args[0])
	if !ok {
		return nil, fmt.Errorf("command: tp: %q is not online", args[0])
	}
	targetEntity := target.Entity()
	selfEntity := c.Entity()

	if targetEntity.World != selfEntity.World {
		dst, ok := f.worlds.GetWorld(targetEntity.World)
		if !ok {
			return nil, fmt.Errorf("command: tp: world %q not found", targetEntity.World)
		}
		if err := teleport(c, dst); err != nil {
			return nil, err
		}
		selfEntity = c.Entity()
	}

	tx, ty, tz, tyaw, tpitch := targetEntity.Position()
	selfEntity.SwapPosition(tx, ty, tz, tyaw, tpitch)

	w, _ := f.worlds.GetWorld(selfEntity.World)
	f.worldBroadcast(w, classic.IDPositionAndOrientationStatic, nil, SpawnArgs{Entity: selfEntity})

	return []string{fmt.Sprintf("Teleported to %s.", args[0])}, nil
}

func cmdList(f *Factory, c *Connection, args []string) ([]string, error) {
	names := f.Usernames()
	if len(names) == 0 {
		return []string{"No players online."}, nil
	}
	return []string{fmt.Sprintf("Online (%d): %s", len(names), joinWithSpaces(names))}, nil
}

func cmdHelp(f *Factory, c *Connection, args []string) ([]string, error) {
	if len(args) > 0 {
		def, ok := f.commands.defs[args[0]]
		if !ok {
			return nil, fmt.Errorf("command: help: unknown command %q", args[0])
		}
		return []string{def.doc}, nil
	}

	lines := make([]string, 0, len(f.commands.order))
	for _, keyword := range f.commands.order {
		lines = append(lines, fmt.Sprintf("/%s", keyword))
	}
	return lines, nil
}
