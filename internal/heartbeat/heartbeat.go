// Package heartbeat implements the periodic classicube.net server
// advertisement described in spec §6, grounded on
// original_source/redstone/network.py's NetworkPinger.
package heartbeat

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/scheduler"
)

// DefaultURL is the classicube.net heartbeat endpoint.
const DefaultURL = "http://www.classicube.net/server/heartbeat"

// DefaultInterval is the task's delay between POSTs.
const DefaultInterval = 45 * time.Second

// postTimeout bounds a single heartbeat attempt so a slow or wedged
// endpoint can't stall the scheduler cycle it runs on.
const postTimeout = 10 * time.Second

// Source is the subset of *server.Factory the heartbeat needs: the
// live player count and the process-lifetime auth salt. Expressed as
// an interface here, rather than importing internal/server directly,
// to keep heartbeat a leaf package wireable from cmd/ without a
// dependency back on the connection/broadcast machinery.
type Source interface {
	PlayerCount() int
	Salt() string
}

// Config is the static identity posted on every heartbeat.
type Config struct {
	URL        string
	Port       int
	MaxPlayers int
	Name       string
	Public     bool
	Software   string
}

// Poster posts Config plus Source's live fields to Config.URL.
type Poster struct {
	cfg    Config
	source Source
	client *http.Client
	log    zerolog.Logger
}

// New builds a Poster. cfg.URL defaults to DefaultURL if empty.
func New(cfg Config, source Source, log zerolog.Logger) *Poster {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Poster{
		cfg:    cfg,
		source: source,
		client: &http.Client{Timeout: postTimeout},
		log:    log,
	}
}

// Post performs a single form-encoded heartbeat POST. Network errors
// are logged at debug and swallowed, per spec §7's NetworkError policy
// — the caller (the scheduler task) always re-arms regardless of
// outcome.
func (p *Poster) Post(ctx context.Context) {
	values := url.Values{}
	values.Set("port", strconv.Itoa(p.cfg.Port))
	values.Set("max", strconv.Itoa(p.cfg.MaxPlayers))
	values.Set("name", p.cfg.Name)
	values.Set("public", strconv.FormatBool(p.cfg.Public))
	values.Set("version", strconv.Itoa(classic.ProtocolVersion))
	values.Set("salt", p.source.Salt())
	values.Set("users", strconv.Itoa(p.source.PlayerCount()))
	values.Set("software", p.cfg.Software)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(values.Encode()))
	if err != nil {
		p.log.Debug().Err(err).Msg("heartbeat: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug().Err(err).Msg("heartbeat: post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.log.Debug().Int("status", resp.StatusCode).Msg("heartbeat: non-2xx response")
	}
}

// Task returns the scheduler.Callback that drives Poster from the
// cooperative scheduler, merging the original's separate LoopingCall
// into the one scheduler the rest of the periodic work runs on (see
// DESIGN.md).
func (p *Poster) Task() scheduler.Callback {
	return func(*scheduler.Task) scheduler.Result {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		defer cancel()
		p.Post(ctx)
		return scheduler.Wait
	}
}
