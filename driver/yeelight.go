/*
NAME
  yeelight.go

DESCRIPTION
  yeelight.go implements the Yeelight driver's music-mode state machine:
  Opened -> JsonCommand(set_music) -> AwaitReverseConnect ->
  MusicStreaming, with fallback to direct per-second-quota JSON writes if
  the reverse TCP connection never arrives or drops.

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
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// YeelightState names the music-mode state machine's states.
type YeelightState int

const (
	YeelightOpened YeelightState = iota
	YeelightJSONCommand
	YeelightAwaitReverseConnect
	YeelightMusicStreaming
	YeelightDirectFallback
)

// yeelightReverseConnectTimeout bounds the lamp's reverse connection.
const yeelightReverseConnectTimeout = time.Second

// yeelightQuotaInterval bounds direct JSON command writes to 1/s, the
// bridge-enforced quota the music-mode reverse connection exists to
// bypass.
const yeelightQuotaInterval = time.Second

// YeelightDriver implements the Yeelight transport: a direct TCP
// connection to port 55443 for JSON control commands, escalating to
// music mode (a reverse TCP connection the bulb dials back on) to bypass
// the per-second command quota.
type YeelightDriver struct {
	cfg Config

	mu          sync.Mutex
	state       YeelightState
	ctrlConn    net.Conn
	musicConn   net.Conn
	musicLn     net.Listener
	lastDirect  time.Time
	msgID       int
}

func NewYeelightDriver() *YeelightDriver { return &YeelightDriver{} }

func (d *YeelightDriver) Init(cfg Config) error {
	if cfg.Address == "" {
		return errors.New("yeelight: address required")
	}
	d.cfg = cfg
	return nil
}

// Open connects the control socket and attempts to escalate to music mode;
// failure to escalate is not fatal, it leaves the driver in direct-write
// fallback.
func (d *YeelightDriver) Open() error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:55443", d.cfg.Address), 3*time.Second)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.ctrlConn = conn
	d.state = YeelightOpened
	d.mu.Unlock()

	if err := d.enterMusicMode(); err != nil {
		d.mu.Lock()
		d.state = YeelightDirectFallback
		d.mu.Unlock()
	}
	return nil
}

func (d *YeelightDriver) enterMusicMode() error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.musicLn = ln
	d.state = YeelightJSONCommand
	d.mu.Unlock()

	port := ln.Addr().(*net.TCPAddr).Port
	cmd := map[string]interface{}{
		"id":     d.nextID(),
		"method": "set_music",
		"params": []interface{}{1, localIP(), port},
	}
	if err := d.sendCtrl(cmd); err != nil {
		ln.Close()
		return err
	}

	d.mu.Lock()
	d.state = YeelightAwaitReverseConnect
	d.mu.Unlock()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	result := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		result <- acceptResult{conn, err}
	}()

	select {
	case r := <-result:
		ln.Close()
		if r.err != nil {
			return r.err
		}
		d.mu.Lock()
		d.musicConn = r.conn
		d.state = YeelightMusicStreaming
		d.mu.Unlock()
		return nil
	case <-time.After(yeelightReverseConnectTimeout):
		ln.Close()
		return errors.New("yeelight: reverse connect timed out")
	}
}

func localIP() string {
	// Best-effort local address; a real deployment would pick the
	// interface that routes to the bulb's subnet.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func (d *YeelightDriver) nextID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgID++
	return d.msgID
}

func (d *YeelightDriver) sendCtrl(cmd map[string]interface{}) error {
	d.mu.Lock()
	conn := d.ctrlConn
	d.mu.Unlock()
	if conn == nil {
		return FatalError{errors.New("yeelight: control socket not open")}
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(body, '\r', '\n'))
	return err
}

func (d *YeelightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.musicConn != nil {
		d.musicConn.Close()
		d.musicConn = nil
	}
	if d.musicLn != nil {
		d.musicLn.Close()
		d.musicLn = nil
	}
	if d.ctrlConn != nil {
		d.ctrlConn.Close()
		d.ctrlConn = nil
	}
	d.state = YeelightOpened
	return nil
}

func (d *YeelightDriver) SwitchOn() error {
	return d.sendCtrl(map[string]interface{}{"id": d.nextID(), "method": "set_power", "params": []interface{}{"on", "smooth", 500}})
}

func (d *YeelightDriver) SwitchOff() error {
	return d.sendCtrl(map[string]interface{}{"id": d.nextID(), "method": "set_power", "params": []interface{}{"off", "smooth", 500}})
}

func (d *YeelightDriver) StoreState() error   { return nil }
func (d *YeelightDriver) RestoreState() error { return nil }

// Write sends the LED vector's mean color (a Yeelight bulb is one light,
// not a strip) either over the music-mode socket (unthrottled) or, in
// fallback, as a direct set_rgb command subject to the 1/s quota.
func (d *YeelightDriver) Write(colors []colorspace.Rgb) error {
	c := meanRgb(colors)
	rgbInt := int(c.R)<<16 | int(c.G)<<8 | int(c.B)
	cmd := map[string]interface{}{"id": d.nextID(), "method": "set_rgb", "params": []interface{}{rgbInt, "smooth", 50}}

	d.mu.Lock()
	state := d.state
	music := d.musicConn
	d.mu.Unlock()

	if state == YeelightMusicStreaming && music != nil {
		body, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		_, err = music.Write(append(body, '\r', '\n'))
		if err != nil {
			d.mu.Lock()
			d.state = YeelightDirectFallback
			d.mu.Unlock()
		}
		return err
	}

	d.mu.Lock()
	ready := time.Since(d.lastDirect) >= yeelightQuotaInterval
	if ready {
		d.lastDirect = time.Now()
	}
	d.mu.Unlock()
	if !ready {
		return nil // drop silently: under quota, no change sent this tick.
	}
	return d.sendCtrl(cmd)
}

func meanRgb(colors []colorspace.Rgb) colorspace.Rgb {
	if len(colors) == 0 {
		return colorspace.Rgb{}
	}
	var r, g, b int
	for _, c := range colors {
		r += int(c.R)
		g += int(c.G)
		b += int(c.B)
	}
	n := len(colors)
	return colorspace.Rgb{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n)}
}

func (d *YeelightDriver) Discover(Properties) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil // real discovery uses SSDP multicast, handled by the UI layer.
}

func (d *YeelightDriver) GetProperties(Properties) (Properties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Properties{"state": d.state}, nil
}

func (d *YeelightDriver) Identify(Properties) error {
	return d.sendCtrl(map[string]interface{}{"id": d.nextID(), "method": "set_rgb", "params": []interface{}{0xFFFFFF, "sudden", 0}})
}
