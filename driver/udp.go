/*
NAME
  udp.go

DESCRIPTION
  udp.go implements the UDP-based LED transport family: raw UDP, ArtNet
  (DMX512-over-UDP with universe splitting), and TPM2.net.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// udpTransport is the shared dial/write/close plumbing every UDP-family
// driver embeds; it owns the socket and the shared RetryPolicy.
type udpTransport struct {
	mu    sync.Mutex
	cfg   Config
	conn  net.Conn
	state State
	retry *RetryPolicy
}

func (t *udpTransport) init(cfg Config) error {
	if cfg.Address == "" {
		return errors.New("driver: address required")
	}
	t.cfg = cfg
	t.retry = NewRetryPolicy(cfg)
	return nil
}

func (t *udpTransport) open(dial func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateOpen {
		return nil
	}
	t.state = StateOpening
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", t.cfg.Address, t.cfg.Port))
	if err != nil {
		t.state = StateClosed
		t.retry.Schedule(func() error { return t.open(dial) }, func() { t.state = StateInError })
		return err
	}
	t.conn = conn
	t.state = StateOpen
	if dial != nil {
		return dial()
	}
	return nil
}

func (t *udpTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retry != nil {
		t.retry.Stop()
	}
	if t.conn == nil {
		t.state = StateClosed
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.state = StateClosed
	return err
}

func (t *udpTransport) send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return FatalError{errors.New("driver: write before open")}
	}
	_, err := conn.Write(payload)
	return err
}

// RawUDPDriver sends the LED vector as flat packed RGB bytes, the simplest
// transport in the UDP family.
type RawUDPDriver struct {
	t udpTransport
}

func NewRawUDPDriver() *RawUDPDriver { return &RawUDPDriver{} }

func (d *RawUDPDriver) Init(cfg Config) error { return d.t.init(cfg) }
func (d *RawUDPDriver) Open() error           { return d.t.open(nil) }
func (d *RawUDPDriver) Close() error          { return d.t.close() }
func (d *RawUDPDriver) SwitchOn() error       { return nil }
func (d *RawUDPDriver) SwitchOff() error      { return d.Write(make([]colorspace.Rgb, d.t.cfg.LEDCount)) }
func (d *RawUDPDriver) StoreState() error     { return nil }
func (d *RawUDPDriver) RestoreState() error   { return nil }

func (d *RawUDPDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	return d.t.send(packRGB(colors))
}

func (d *RawUDPDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *RawUDPDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.t.cfg.LEDCount}, nil
}
func (d *RawUDPDriver) Identify(Properties) error { return d.Write(flashFrame(d.t.cfg.LEDCount)) }

// ArtNetDriver frames the LED vector as one or more ArtDMX packets, one per
// 512-channel (170-LED) DMX universe, with a running sequence number.
type ArtNetDriver struct {
	t          udpTransport
	sequence   uint8
	universe0  uint16
}

const artNetChannelsPerUniverse = 510 // 170 LEDs * 3 channels, DMX512 leaves 2 reserved.

func NewArtNetDriver() *ArtNetDriver { return &ArtNetDriver{} }

func (d *ArtNetDriver) Init(cfg Config) error { return d.t.init(cfg) }
func (d *ArtNetDriver) Open() error            { return d.t.open(nil) }
func (d *ArtNetDriver) Close() error           { return d.t.close() }
func (d *ArtNetDriver) SwitchOn() error        { return nil }
func (d *ArtNetDriver) SwitchOff() error       { return d.Write(make([]colorspace.Rgb, d.t.cfg.LEDCount)) }
func (d *ArtNetDriver) StoreState() error      { return nil }
func (d *ArtNetDriver) RestoreState() error    { return nil }

func (d *ArtNetDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	raw := packRGB(colors)
	d.sequence++
	if d.sequence == 0 {
		d.sequence = 1 // 0 is reserved for "sequencing disabled" in the ArtNet spec.
	}
	for universe := 0; ; universe++ {
		start := universe * artNetChannelsPerUniverse
		if start >= len(raw) {
			break
		}
		end := start + artNetChannelsPerUniverse
		if end > len(raw) {
			end = len(raw)
		}
		packet := artDMXPacket(d.sequence, d.universe0+uint16(universe), raw[start:end])
		if err := d.t.send(packet); err != nil {
			return err
		}
	}
	return nil
}

// artDMXPacket builds an ArtDMX packet per the Art-Net protocol: 8-byte
// "Art-Net\0" header, opcode 0x5000 (little-endian on the wire),
// protocol version, sequence, physical port, universe (little-endian),
// data length (big-endian), then the DMX data.
func artDMXPacket(sequence uint8, universe uint16, data []byte) []byte {
	p := make([]byte, 0, 18+len(data))
	p = append(p, 'A', 'r', 't', '-', 'N', 'e', 't', 0)
	p = append(p, 0x00, 0x50) // OpOutput/OpDmx.
	p = append(p, 0, 14)      // ProtVer (big-endian).
	p = append(p, sequence, 0)
	p = append(p, byte(universe), byte(universe>>8))
	p = append(p, byte(len(data)>>8), byte(len(data)))
	p = append(p, data...)
	return p
}

func (d *ArtNetDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *ArtNetDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.t.cfg.LEDCount}, nil
}
func (d *ArtNetDriver) Identify(Properties) error { return d.Write(flashFrame(d.t.cfg.LEDCount)) }

// TPM2NetDriver frames colors in the TPM2.net UDP protocol: a 6-byte
// header (start byte 0x9C, packet type 0xDA "data frame", 16-bit payload
// size, packet number, packet count) followed by the packed RGB payload
// and a trailing 0x36 footer.
type TPM2NetDriver struct{ t udpTransport }

func NewTPM2NetDriver() *TPM2NetDriver { return &TPM2NetDriver{} }

func (d *TPM2NetDriver) Init(cfg Config) error { return d.t.init(cfg) }
func (d *TPM2NetDriver) Open() error           { return d.t.open(nil) }
func (d *TPM2NetDriver) Close() error          { return d.t.close() }
func (d *TPM2NetDriver) SwitchOn() error       { return nil }
func (d *TPM2NetDriver) SwitchOff() error      { return d.Write(make([]colorspace.Rgb, d.t.cfg.LEDCount)) }
func (d *TPM2NetDriver) StoreState() error     { return nil }
func (d *TPM2NetDriver) RestoreState() error   { return nil }

func (d *TPM2NetDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	raw := packRGB(colors)
	packet := make([]byte, 0, len(raw)+7)
	packet = append(packet, 0x9C, 0xDA, byte(len(raw)>>8), byte(len(raw)), 1, 1)
	packet = append(packet, raw...)
	packet = append(packet, 0x36)
	return d.t.send(packet)
}

func (d *TPM2NetDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *TPM2NetDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.t.cfg.LEDCount}, nil
}
func (d *TPM2NetDriver) Identify(Properties) error { return d.Write(flashFrame(d.t.cfg.LEDCount)) }

func applyByteOrder(colors []colorspace.Rgb, order colorspace.ByteOrder) []colorspace.Rgb {
	out := make([]colorspace.Rgb, len(colors))
	for i, c := range colors {
		out[i] = colorspace.Swap(c, order)
	}
	return out
}

func packRGB(colors []colorspace.Rgb) []byte {
	buf := make([]byte, 0, len(colors)*3)
	for _, c := range colors {
		buf = append(buf, c.R, c.G, c.B)
	}
	return buf
}

func flashFrame(n int) []colorspace.Rgb {
	frame := make([]colorspace.Rgb, n)
	for i := range frame {
		frame[i] = colorspace.Rgb{R: 255, G: 255, B: 255}
	}
	return frame
}
