/*
NAME
  variables.go

DESCRIPTION
  variables.go maps each Config field to a name, a value-parsing Update
  function and an optional default-enforcing Validate function, the same
  shape as a name -> {Update, Validate} closure table.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config map keys, the RPC `adjustment`/`Update` variable names.
const (
	KeyUserDataPath       = "UserDataPath"
	KeyCaptureDevice      = "CaptureDevice"
	KeyCaptureWidth       = "CaptureWidth"
	KeyCaptureHeight      = "CaptureHeight"
	KeyCaptureFPS         = "CaptureFPS"
	KeyCaptureInput       = "CaptureInput"
	KeyQFrame             = "QFrame"
	KeyDecodeWorkers      = "DecodeWorkers"
	KeyDecimation         = "Decimation"
	KeyToneMappingLUTPath = "ToneMappingLUTPath"
	KeyRPCAddress         = "RPCAddress"
	KeyLogLevel           = "LogLevel"
	KeyWaitHyperHDR       = "WaitHyperHDR"
)

// Default variable values.
const (
	defaultCaptureWidth  = 640
	defaultCaptureHeight = 480
	defaultCaptureFPS    = 30
	defaultDecimation    = 1
	defaultRPCAddress    = ":19444"
)

// Variables maps every Config field to its RPC name, string-parsing Update
// function, and an optional Validate that enforces a default when the
// field is left zero.
var Variables = []struct {
	Name     string
	Type     string
	Update   func(*Config, string)
	Validate func(*Config)
}{
	{
		Name:   KeyUserDataPath,
		Type:   "string",
		Update: func(c *Config, v string) { c.UserDataPath = v },
	},
	{
		Name:   KeyCaptureDevice,
		Type:   "string",
		Update: func(c *Config, v string) { c.CaptureDevice = v },
	},
	{
		Name:   KeyCaptureWidth,
		Type:   "uint",
		Update: func(c *Config, v string) { c.CaptureWidth = parseUint(KeyCaptureWidth, v, c) },
		Validate: func(c *Config) {
			if c.CaptureWidth == 0 {
				c.LogInvalidField(KeyCaptureWidth, defaultCaptureWidth)
				c.CaptureWidth = defaultCaptureWidth
			}
		},
	},
	{
		Name:   KeyCaptureHeight,
		Type:   "uint",
		Update: func(c *Config, v string) { c.CaptureHeight = parseUint(KeyCaptureHeight, v, c) },
		Validate: func(c *Config) {
			if c.CaptureHeight == 0 {
				c.LogInvalidField(KeyCaptureHeight, defaultCaptureHeight)
				c.CaptureHeight = defaultCaptureHeight
			}
		},
	},
	{
		Name:   KeyCaptureFPS,
		Type:   "uint",
		Update: func(c *Config, v string) { c.CaptureFPS = parseUint(KeyCaptureFPS, v, c) },
		Validate: func(c *Config) {
			if c.CaptureFPS == 0 {
				c.LogInvalidField(KeyCaptureFPS, defaultCaptureFPS)
				c.CaptureFPS = defaultCaptureFPS
			}
		},
	},
	{
		Name:   KeyCaptureInput,
		Type:   "uint",
		Update: func(c *Config, v string) { c.CaptureInput = uint8(parseUint(KeyCaptureInput, v, c)) },
	},
	{
		Name:   KeyQFrame,
		Type:   "bool",
		Update: func(c *Config, v string) { c.QFrame = parseBool(KeyQFrame, v, c) },
	},
	{
		Name:   KeyDecodeWorkers,
		Type:   "uint",
		Update: func(c *Config, v string) { c.DecodeWorkers = parseUint(KeyDecodeWorkers, v, c) },
	},
	{
		Name:   KeyDecimation,
		Type:   "uint",
		Update: func(c *Config, v string) { c.Decimation = parseUint(KeyDecimation, v, c) },
		Validate: func(c *Config) {
			if c.Decimation == 0 {
				c.LogInvalidField(KeyDecimation, defaultDecimation)
				c.Decimation = defaultDecimation
			}
		},
	},
	{
		Name:   KeyToneMappingLUTPath,
		Type:   "string",
		Update: func(c *Config, v string) { c.ToneMappingLUTPath = v },
	},
	{
		Name:   KeyRPCAddress,
		Type:   "string",
		Update: func(c *Config, v string) { c.RPCAddress = v },
		Validate: func(c *Config) {
			if c.RPCAddress == "" {
				c.LogInvalidField(KeyRPCAddress, defaultRPCAddress)
				c.RPCAddress = defaultRPCAddress
			}
		},
	},
	{
		Name: KeyLogLevel,
		Type: "int",
		Update: func(c *Config, v string) {
			c.LogLevel = int8(parseInt(KeyLogLevel, v, c))
		},
	},
	{
		Name: KeyWaitHyperHDR,
		Type: "uint",
		Update: func(c *Config, v string) {
			secs, err := strconv.Atoi(v)
			if err != nil {
				c.Logger.Warning("invalid WaitHyperHDR param", "value", v)
				return
			}
			c.WaitHyperHDR = time.Duration(secs) * time.Second
		},
	},
}

func parseUint(n, v string, c *Config) uint {
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected unsigned int for param %s", n), "value", v)
	}
	return uint(u)
}

func parseInt(n, v string, c *Config) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected integer for param %s", n), "value", v)
	}
	return i
}

func parseBool(n, v string, c *Config) bool {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	default:
		c.Logger.Warning(fmt.Sprintf("expected bool for param %s", n), "value", v)
		return false
	}
}
