// Package config binds the server's CLI surface (spec §6, plus the two
// heartbeat flags supplementing the distilled spec per
// original_source/main.py, see SPEC_FULL.md §4.13) to a plain struct
// using github.com/spf13/pflag, the teacher-adjacent CLI library
// (r2northstar/atlas, go.minekube.com/gate) rather than stdlib flag.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config is the complete set of values the server needs at startup.
type Config struct {
	Backlog  int
	Address  string
	Port     int
	Name     string
	MOTD     string
	Software string
	Public   bool

	HeartbeatURL      string
	HeartbeatInterval time.Duration
}

// Defaults matches spec §6's CLI surface defaults, plus the two added
// heartbeat flags.
func Defaults() Config {
	return Config{
		Backlog:           1024,
		Address:           "0.0.0.0",
		Port:              25565,
		Name:              "A Classic server",
		MOTD:              "Powered by classicserver",
		Software:          "classicserver",
		Public:            false,
		HeartbeatURL:      "http://www.classicube.net/server/heartbeat",
		HeartbeatInterval: 45 * time.Second,
	}
}

// ParseFlags parses args (typically os.Args[1:]) into a Config seeded
// with Defaults.
func ParseFlags(args []string) (*Config, error) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("classicserver", pflag.ContinueOnError)
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "TCP accept backlog")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address to listen on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "server name advertised to clients and the heartbeat")
	fs.StringVar(&cfg.MOTD, "motd", cfg.MOTD, "message of the day advertised to clients")
	fs.StringVar(&cfg.Software, "software", cfg.Software, "software name advertised to the heartbeat")
	fs.BoolVar(&cfg.Public, "public", cfg.Public, "list this server publicly via the heartbeat")
	fs.StringVar(&cfg.HeartbeatURL, "heartbeat-url", cfg.HeartbeatURL, "heartbeat POST endpoint")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "delay between heartbeat POSTs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &cfg, nil
}
