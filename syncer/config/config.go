// Package config holds the tunables of the synchronization core
// (spec.md §6 "Configuration") and an optional TOML loader, the
// teacher's alternate configuration format for standalone tools.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is every knob named in spec.md §6, with matching defaults.
type Config struct {
	TickPeriod              time.Duration `toml:"tick_period_ms"`
	LinearAncestorWindow    int           `toml:"linear_ancestor_window"`
	BlocksPerRequest        int           `toml:"blocks_per_request"`
	CandidatesPerMeasurement int          `toml:"candidates_per_measurement"`
	MaxMeasurementDelta     time.Duration `toml:"max_measurement_delta_ms"`
	InitialMeasurementDelta time.Duration `toml:"initial_measurement_delta_ms"`

	// SyncingPeerFilter, when non-empty, restricts measurement
	// candidates to peers whose display name appears in this list.
	SyncingPeerFilter []string `toml:"syncing_peer_filter"`
}

// Default returns the configuration with every value from spec.md §6.
func Default() Config {
	return Config{
		TickPeriod:               10 * time.Second,
		LinearAncestorWindow:     3,
		BlocksPerRequest:         20,
		CandidatesPerMeasurement: 8,
		MaxMeasurementDelta:      60 * time.Minute,
		InitialMeasurementDelta:  2 * time.Minute,
		SyncingPeerFilter:        nil,
	}
}

// Load reads a Config from a TOML file, applying Default() for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	raw := struct {
		TickPeriodMs              *int64   `toml:"tick_period_ms"`
		LinearAncestorWindow      *int     `toml:"linear_ancestor_window"`
		BlocksPerRequest          *int     `toml:"blocks_per_request"`
		CandidatesPerMeasurement  *int     `toml:"candidates_per_measurement"`
		MaxMeasurementDeltaMs     *int64   `toml:"max_measurement_delta_ms"`
		InitialMeasurementDeltaMs *int64   `toml:"initial_measurement_delta_ms"`
		SyncingPeerFilter         []string `toml:"syncing_peer_filter"`
	}{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, err
	}
	if raw.TickPeriodMs != nil {
		cfg.TickPeriod = time.Duration(*raw.TickPeriodMs) * time.Millisecond
	}
	if raw.LinearAncestorWindow != nil {
		cfg.LinearAncestorWindow = *raw.LinearAncestorWindow
	}
	if raw.BlocksPerRequest != nil {
		cfg.BlocksPerRequest = *raw.BlocksPerRequest
	}
	if raw.CandidatesPerMeasurement != nil {
		cfg.CandidatesPerMeasurement = *raw.CandidatesPerMeasurement
	}
	if raw.MaxMeasurementDeltaMs != nil {
		cfg.MaxMeasurementDelta = time.Duration(*raw.MaxMeasurementDeltaMs) * time.Millisecond
	}
	if raw.InitialMeasurementDeltaMs != nil {
		cfg.InitialMeasurementDelta = time.Duration(*raw.InitialMeasurementDeltaMs) * time.Millisecond
	}
	if raw.SyncingPeerFilter != nil {
		cfg.SyncingPeerFilter = raw.SyncingPeerFilter
	}
	return cfg, nil
}
