/*
NAME
  registry.go

DESCRIPTION
  registry.go names the built-in network transports so the RPC leddevice
  command can construct one by its
  configured type string.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import "fmt"

// Builders maps a device-type string to a constructor for it. The local
// SPI/serial drivers are absent: they need a physical bus handle and are
// constructed explicitly at the call site.
func Builders() map[string]func() Driver {
	return map[string]func() Driver{
		"udpraw":   func() Driver { return NewRawUDPDriver() },
		"artnet":   func() Driver { return NewArtNetDriver() },
		"e131":     func() Driver { return NewE131Driver() },
		"tpm2net":  func() Driver { return NewTPM2NetDriver() },
		"wled":     func() Driver { return NewWLEDDriver() },
		"hue":      func() Driver { return NewHueDriver() },
		"yeelight": func() Driver { return NewYeelightDriver() },
		"nanoleaf": func() Driver { return NewNanoleafDriver() },
	}
}

// New constructs a driver by type name.
func New(deviceType string) (Driver, error) {
	b, ok := Builders()[deviceType]
	if !ok {
		return nil, fmt.Errorf("driver: unknown device type %q", deviceType)
	}
	return b(), nil
}
