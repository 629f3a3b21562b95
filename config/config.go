/*
NAME
  config.go

DESCRIPTION
  config holds the process-wide settings read at startup and mutated at
  runtime via the `adjustment`/RPC `Update` path: capture device defaults,
  the LUT/calibration file locations, the RPC listen address, and logging
  verbosity. Plain typed fields plus a Logger, with Validate() applying
  defaults and Update(map[string]string) applying named runtime changes
  through the Variables table.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package config holds HyperHDR's process-wide configuration: capture
// device defaults, calibration file locations, RPC listen address, and
// logging verbosity, with a name-mapped Validate/Update
// pattern for applying RPC-delivered settings changes.
package config

import (
	"time"

	"github.com/ausocean/utils/logging"
)

// Config provides the settings shared across every Instance and the shared
// capture subsystem.
type Config struct {
	// UserDataPath is the root directory for the database, calibration
	// files and logs.
	UserDataPath string

	// CaptureDevice is the default V4L2 device key used by the shared
	// capture subsystem at startup.
	CaptureDevice string
	CaptureWidth  uint
	CaptureHeight uint
	CaptureFPS    uint
	CaptureInput  uint8

	// QFrame requests the 2x-downsampled quarter-frame decode path.
	QFrame bool

	// DecodeWorkers bounds the decode worker pool; 0 means
	// runtime.NumCPU().
	DecodeWorkers uint

	// Decimation is the software frame-skip factor; 0 or 1 means no
	// skipping.
	Decimation uint

	// ToneMappingLUTPath points at the 48 MiB 3D LUT file loaded by the
	// Frame Decoder when tone mapping is enabled. Empty
	// disables tone mapping.
	ToneMappingLUTPath string

	// RPCAddress is the JSON-RPC-over-HTTP/WebSocket listen address.
	RPCAddress string

	// Logger holds the logging.Logger every package threads through;
	// required for Validate/Update to report defaulted or rejected
	// fields.
	Logger logging.Logger

	// LogLevel is the process-wide logging verbosity
	// (logging.Debug/Info/Warning/Error/Fatal).
	LogLevel int8

	// WaitHyperHDR is a wait-for-a-running-instance duration, set from
	// whole seconds by Update. cmd/hyperhdr does not read it: its
	// --wait-hyperhdr flag polls the command endpoint instead.
	WaitHyperHDR time.Duration
}

// Validate checks every field against Variables' Validate functions,
// defaulting each invalid one and logging it at Info level through
// LogInvalidField.
func (c *Config) Validate() error {
	for _, v := range Variables {
		if v.Validate != nil {
			v.Validate(c)
		}
	}
	return nil
}

// Update applies a map of variable-name -> string-value pairs, parsing
// and setting the corresponding Config field for every recognized name in
// the Variables table. Unrecognized names are ignored: only named runtime
// settings are ever sent this way.
func (c *Config) Update(vars map[string]string) {
	for _, v := range Variables {
		if s, ok := vars[v.Name]; ok && v.Update != nil {
			v.Update(c, s)
		}
	}
}

// LogInvalidField logs that name was bad or unset and has been defaulted
// to def.
func (c *Config) LogInvalidField(name string, def interface{}) {
	c.Logger.Info(name+" bad or unset, defaulting", name, def)
}
