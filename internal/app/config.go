package app

import (
	"github.com/avistalabs/columbus/internal/backend"
	"github.com/avistalabs/columbus/internal/scan"
	"github.com/avistalabs/columbus/internal/server"
	"github.com/avistalabs/columbus/internal/session"
)

// Config aggregates the runtime configuration of every module the agent
// wires together.
type Config struct {
	ServerCfg server.Config

	// StorageRoot is the base path for the sqlite store and the per-region
	// browser profiles.
	StorageRoot string

	// BackendCfg locates the reporting backend.
	BackendCfg backend.Config

	// SessionCfg controls browser session provisioning.
	SessionCfg session.Config

	// ScanCfg carries the scan core's timing knobs.
	ScanCfg scan.Config

	// AutoScan enables the background scheduler.
	AutoScan bool
}

// DefaultConfig returns a Config populated with production defaults. The
// backend location has no default and must come from the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServerCfg: server.Config{
			ListenAddr: "127.0.0.1:8717",
		},
		StorageRoot: "~/.config/columbus",
		BackendCfg:  backend.DefaultConfig(),
		SessionCfg:  session.DefaultConfig(),
		ScanCfg:     scan.DefaultConfig(),
		AutoScan:    true,
	}
}
