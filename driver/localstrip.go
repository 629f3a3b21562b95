/*
NAME
  localstrip.go

DESCRIPTION
  localstrip.go implements a Driver over a directly-wired NRZ LED strip
  (WS2812/SK6812-style) via a periph.io SPI display.Drawer, and a simple
  serial Adalight-protocol driver over periph.io's conn/uart.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import (
	stdimage "image"
	stdcolor "image/color"

	"encoding/json"
	"errors"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/display"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/uart"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// LocalStripDriver writes directly to an SPI-attached NRZ LED strip via a
// periph.io display.Drawer (satisfied by nrzled.Dev in a real deployment;
// any Drawer works, which keeps this package free of a direct periph
// device-family dependency and easy to unit test against a fake).
type LocalStripDriver struct {
	strip display.Drawer
	cfg   Config
}

// NewLocalStripDriver wraps an already-opened strip (e.g. one built with
// nrzled.NewSPI); Init/Open only validate configuration, since periph
// device construction happens once at the call site (it needs the
// physical SPI port handle).
func NewLocalStripDriver(strip display.Drawer) *LocalStripDriver {
	return &LocalStripDriver{strip: strip}
}

func (d *LocalStripDriver) Init(cfg Config) error {
	if d.strip == nil {
		return errors.New("localstrip: no strip attached")
	}
	d.cfg = cfg
	return nil
}

func (d *LocalStripDriver) Open() error         { return nil }
func (d *LocalStripDriver) Close() error        { return d.Write(make([]colorspace.Rgb, d.cfg.LEDCount)) }
func (d *LocalStripDriver) SwitchOn() error      { return nil }
func (d *LocalStripDriver) SwitchOff() error     { return d.Write(make([]colorspace.Rgb, d.cfg.LEDCount)) }
func (d *LocalStripDriver) StoreState() error    { return nil }
func (d *LocalStripDriver) RestoreState() error  { return nil }

// Write rasterizes colors into a 1-row image.Image and draws it to the
// strip, matching nrzled.Dev's image.Image-based Draw contract.
func (d *LocalStripDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.cfg.ByteOrder)
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, len(colors), 1))
	for i, c := range colors {
		img.Set(i, 0, stdcolor.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
	}
	return d.strip.Draw(img.Bounds(), img, stdimage.Point{})
}

func (d *LocalStripDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *LocalStripDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.cfg.LEDCount}, nil
}
func (d *LocalStripDriver) Identify(Properties) error { return d.Write(flashFrame(d.cfg.LEDCount)) }

// SerialDriver speaks the Adalight protocol over a periph.io uart.PortCloser:
// a fixed "Ada" + big-endian (ledCount-1) + checksum header, followed by
// packed RGB bytes.
type SerialDriver struct {
	port uart.PortCloser
	conn conn.Conn // the uart.Conn after Connect; written via Tx.
	cfg  Config
}

func NewSerialDriver(port uart.PortCloser) *SerialDriver {
	return &SerialDriver{port: port}
}

func (d *SerialDriver) Init(cfg Config) error {
	if d.port == nil {
		return errors.New("serial: no port attached")
	}
	d.cfg = cfg
	return nil
}

func (d *SerialDriver) Open() error {
	c, err := d.port.Connect(115200*physic.Hertz, uart.One, uart.NoParity, uart.NoFlow, 8)
	if err != nil {
		return err
	}
	d.conn = c
	return nil
}

func (d *SerialDriver) Close() error { return d.port.Close() }

func (d *SerialDriver) SwitchOn() error      { return nil }
func (d *SerialDriver) SwitchOff() error     { return d.Write(make([]colorspace.Rgb, d.cfg.LEDCount)) }
func (d *SerialDriver) StoreState() error    { return nil }
func (d *SerialDriver) RestoreState() error  { return nil }

// Write sends one Adalight frame: "Ada", (n-1) hi/lo, checksum, then the
// packed RGB payload.
func (d *SerialDriver) Write(colors []colorspace.Rgb) error {
	if d.conn == nil {
		return FatalError{errors.New("serial: write before open")}
	}
	colors = applyByteOrder(colors, d.cfg.ByteOrder)
	n := len(colors) - 1
	hi, lo := byte(n>>8), byte(n&0xff)
	header := []byte{'A', 'd', 'a', hi, lo, hi ^ lo ^ 0x55}
	payload := append(header, packRGB(colors)...)
	_, err := d.conn.Write(payload)
	return err
}

func (d *SerialDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *SerialDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.cfg.LEDCount}, nil
}
func (d *SerialDriver) Identify(Properties) error { return d.Write(flashFrame(d.cfg.LEDCount)) }
