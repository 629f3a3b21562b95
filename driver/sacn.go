/*
NAME
  sacn.go

DESCRIPTION
  sacn.go implements the E1.31 (streaming ACN) driver: LED data framed as
  DMX512 universes inside the ACN root/framing/DMP layer stack, split
  across as many universes as the strip needs.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import (
	"encoding/json"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// sacnHeaderLen is the byte length of the root + framing + DMP layers
// including the DMX start code, preceding the channel data.
const sacnHeaderLen = 126

const sacnChannelsPerUniverse = 510 // 170 LEDs per universe, same split as ArtNet.

// E131Driver frames the LED vector as one or more E1.31 data packets, one
// per DMX universe, with a running per-packet sequence number and a fixed
// source CID.
type E131Driver struct {
	t         udpTransport
	sequence  uint8
	universe0 uint16
	cid       [16]byte
}

func NewE131Driver() *E131Driver {
	d := &E131Driver{universe0: 1}
	// A stable per-process CID; real deployments may persist one, but the
	// protocol only requires it to be consistent within a session.
	copy(d.cid[:], []byte("hyperhdr-e131-id"))
	return d
}

func (d *E131Driver) Init(cfg Config) error { return d.t.init(cfg) }
func (d *E131Driver) Open() error           { return d.t.open(nil) }
func (d *E131Driver) Close() error          { return d.t.close() }
func (d *E131Driver) SwitchOn() error       { return nil }
func (d *E131Driver) SwitchOff() error      { return d.Write(make([]colorspace.Rgb, d.t.cfg.LEDCount)) }
func (d *E131Driver) StoreState() error     { return nil }
func (d *E131Driver) RestoreState() error   { return nil }

func (d *E131Driver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	raw := packRGB(colors)
	d.sequence++
	for universe := 0; ; universe++ {
		start := universe * sacnChannelsPerUniverse
		if start >= len(raw) {
			break
		}
		end := start + sacnChannelsPerUniverse
		if end > len(raw) {
			end = len(raw)
		}
		packet := d.e131Packet(d.universe0+uint16(universe), raw[start:end])
		if err := d.t.send(packet); err != nil {
			return err
		}
	}
	return nil
}

// flagsLength encodes an ACN flags+length field: high nibble 0x7, low 12
// bits the byte count from this field to the end of the packet.
func flagsLength(n int) (hi, lo byte) {
	v := 0x7000 | uint16(n)
	return byte(v >> 8), byte(v)
}

// e131Packet builds one E1.31 data packet: ACN root layer, E1.31 framing
// layer, then a DMP layer carrying a zero start code and the channel data.
func (d *E131Driver) e131Packet(universe uint16, data []byte) []byte {
	total := sacnHeaderLen + len(data)
	p := make([]byte, total)

	// Root layer.
	p[0], p[1] = 0x00, 0x10 // RLP preamble size.
	p[2], p[3] = 0x00, 0x00 // RLP postamble size.
	copy(p[4:16], []byte("ASC-E1.17\x00\x00\x00"))
	p[16], p[17] = flagsLength(total - 16)
	p[21] = 0x04 // VECTOR_ROOT_E131_DATA (p[18:22] big-endian).
	copy(p[22:38], d.cid[:])

	// Framing layer.
	p[38], p[39] = flagsLength(total - 38)
	p[43] = 0x02 // VECTOR_E131_DATA_PACKET.
	copy(p[44:108], []byte("HyperHDR"))
	p[108] = 100 // priority.
	// p[109:111] synchronization address, zero.
	p[111] = d.sequence
	// p[112] options, zero.
	p[113], p[114] = byte(universe>>8), byte(universe)

	// DMP layer.
	p[115], p[116] = flagsLength(total - 115)
	p[117] = 0x02       // VECTOR_DMP_SET_PROPERTY.
	p[118] = 0xa1       // address & data type.
	p[119], p[120] = 0, 0 // first property address.
	p[121], p[122] = 0, 1 // address increment.
	count := len(data) + 1 // start code + channels.
	p[123], p[124] = byte(count>>8), byte(count)
	p[125] = 0x00 // DMX start code.
	copy(p[126:], data)
	return p
}

func (d *E131Driver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
func (d *E131Driver) GetProperties(Properties) (Properties, error) {
	return Properties{"ledCount": d.t.cfg.LEDCount}, nil
}
func (d *E131Driver) Identify(Properties) error { return d.Write(flashFrame(d.t.cfg.LEDCount)) }
