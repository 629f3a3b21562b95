/*
NAME
  hue.go

DESCRIPTION
  hue.go implements the Philips Hue Entertainment driver: a REST
  bootstrap phase against the bridge's HTTP API followed by a DTLS-PSK
  UDP streaming session, as an explicit state machine:
  Disconnected -> RestQuery -> Authorize -> GroupCheck -> StartStream ->
  DtlsHandshake -> Streaming.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// HueState names the Entertainment session's state machine states.
type HueState int

const (
	HueDisconnected HueState = iota
	HueRestQuery
	HueAuthorize
	HueGroupCheck
	HueStartStream
	HueDTLSHandshake
	HueStreaming
)

// Hue Entertainment REST surface versions; Config.HueAPIVersion uses these
// values. 0 (HueAPIAuto) means auto-probe at Open().
const (
	HueAPIAuto = 0
	HueAPIV1   = 1
	HueAPIV2   = 2
)

// HueDriver implements the Hue Entertainment transport.
type HueDriver struct {
	cfg        Config
	httpClient *http.Client
	apiVersion int

	mu           sync.Mutex
	state        HueState
	groupOwnedBy string
	originalLight json.RawMessage
	dtlsConn     net.Conn
	retry        *RetryPolicy
}

func NewHueDriver() *HueDriver {
	return &HueDriver{httpClient: &http.Client{Timeout: 5 * time.Second}}
}

func (d *HueDriver) Init(cfg Config) error {
	if cfg.Address == "" || cfg.Username == "" {
		return errors.New("hue: bridge address and username required")
	}
	d.cfg = cfg
	d.apiVersion = cfg.HueAPIVersion
	d.retry = NewRetryPolicy(cfg)
	return nil
}

// Open drives the Disconnected->...->Streaming state machine. Any failure
// along the way unrolls back to Disconnected and schedules a retry via
// RetryPolicy.
func (d *HueDriver) Open() error {
	attempt := func() error {
		err := d.connect()
		if err != nil {
			d.setState(HueDisconnected)
		}
		return err
	}
	if err := attempt(); err != nil {
		d.retry.Schedule(attempt, func() { d.setState(HueDisconnected) })
		return err
	}
	d.retry.Reset()
	return nil
}

func (d *HueDriver) connect() error {
	d.setState(HueRestQuery)
	if d.apiVersion == HueAPIAuto {
		if err := d.probeAPIVersion(); err != nil {
			return fmt.Errorf("hue: probe: %w", err)
		}
	}

	d.setState(HueAuthorize)
	if err := d.authorize(); err != nil {
		return fmt.Errorf("hue: authorize: %w", err)
	}

	d.setState(HueGroupCheck)
	owner, err := d.groupStreamOwner()
	if err != nil {
		return fmt.Errorf("hue: group check: %w", err)
	}
	if owner != "" && owner != d.cfg.Username {
		return FatalError{fmt.Errorf("hue: entertainment group owned by %q", owner)}
	}
	if owner == d.cfg.Username {
		if err := d.setGroupStreamActive(false); err != nil {
			return fmt.Errorf("hue: stop previous stream: %w", err)
		}
	}

	d.setState(HueStartStream)
	if d.cfg.RestoreOnClose {
		if err := d.StoreState(); err != nil {
			return fmt.Errorf("hue: store state: %w", err)
		}
	}
	if err := d.setGroupStreamActive(true); err != nil {
		return fmt.Errorf("hue: start stream: %w", err)
	}

	d.setState(HueDTLSHandshake)
	conn, err := d.dialDTLS()
	if err != nil {
		_ = d.setGroupStreamActive(false)
		return fmt.Errorf("hue: dtls handshake: %w", err)
	}
	d.mu.Lock()
	d.dtlsConn = conn
	d.mu.Unlock()

	d.setState(HueStreaming)
	return nil
}

func (d *HueDriver) setState(s HueState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// probeAPIVersion queries GET /api/config once and commits to whichever
// Entertainment API version the bridge reports.
func (d *HueDriver) probeAPIVersion() error {
	resp, err := d.httpClient.Get(fmt.Sprintf("http://%s/api/config", d.cfg.Address))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var cfg struct {
		SWVersion     string `json:"swversion"`
		APIVersion    string `json:"apiversion"`
		DatastoreVers int    `json:"datastoreversion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		d.apiVersion = HueAPIV1
		return nil
	}
	if cfg.DatastoreVers >= 70 {
		d.apiVersion = HueAPIV2
	} else {
		d.apiVersion = HueAPIV1
	}
	return nil
}

func (d *HueDriver) authorize() error {
	resp, err := d.httpClient.Get(fmt.Sprintf("http://%s/api/%s", d.cfg.Address, d.cfg.Username))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FatalError{fmt.Errorf("hue: unauthorized (status %d)", resp.StatusCode)}
	}
	return nil
}

func (d *HueDriver) groupStreamOwner() (string, error) {
	resp, err := d.httpClient.Get(fmt.Sprintf("http://%s/api/%s/groups", d.cfg.Address, d.cfg.Username))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var groups map[string]struct {
		Stream struct {
			Active bool   `json:"active"`
			Owner  string `json:"owner"`
		} `json:"stream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return "", nil
	}
	for _, g := range groups {
		if g.Stream.Active {
			return g.Stream.Owner, nil
		}
	}
	return "", nil
}

func (d *HueDriver) setGroupStreamActive(active bool) error {
	body, _ := json.Marshal(map[string]interface{}{"stream": map[string]bool{"active": active}})
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("http://%s/api/%s/groups/0", d.cfg.Address, d.cfg.Username), bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// dialDTLS opens the Entertainment UDP-DTLS session using the bridge's
// PSK (clientkey) "UDP-DTLS with pre-shared key".
func (d *HueDriver) dialDTLS() (net.Conn, error) {
	addr := fmt.Sprintf("%s:2100", d.cfg.Address)
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	dtlsCfg := &dtls.Config{
		PSK: func([]byte) ([]byte, error) { return d.cfg.PreSharedKey, nil },
		PSKIdentityHint: []byte(d.cfg.Username),
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}
	return dtls.Client(udpConn, dtlsCfg)
}

func (d *HueDriver) Close() error {
	d.mu.Lock()
	conn := d.dtlsConn
	d.dtlsConn = nil
	d.state = HueDisconnected
	d.mu.Unlock()

	if d.retry != nil {
		d.retry.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	_ = d.setGroupStreamActive(false)
	if d.cfg.RestoreOnClose {
		_ = d.RestoreState()
	}
	return nil
}

func (d *HueDriver) SwitchOn() error  { return nil }
func (d *HueDriver) SwitchOff() error { return d.setGroupStreamActive(false) }

func (d *HueDriver) StoreState() error {
	resp, err := d.httpClient.Get(fmt.Sprintf("http://%s/api/%s/lights", d.cfg.Address, d.cfg.Username))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	d.originalLight = buf.Bytes()
	return nil
}

func (d *HueDriver) RestoreState() error {
	if d.originalLight == nil {
		return nil
	}
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("http://%s/api/%s/lights", d.cfg.Address, d.cfg.Username), bytes.NewReader(d.originalLight))
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Write sends one Entertainment DTLS frame: the "HueStream" header
// followed by one {R16,G16,B16} channel set per light, per the
// Entertainment API v2 wire format.
func (d *HueDriver) Write(colors []colorspace.Rgb) error {
	d.mu.Lock()
	conn := d.dtlsConn
	d.mu.Unlock()
	if conn == nil {
		return FatalError{errors.New("hue: write before streaming")}
	}
	frame := make([]byte, 0, 16+len(colors)*9)
	frame = append(frame, []byte("HueStream")...)
	frame = append(frame, 2, 0, 0, 0, 0) // version, seq, color space RGB, reserved.
	for i, c := range colors {
		lin := colorspace.Decode(c)
		frame = append(frame, 0, 0, byte(i>>8), byte(i))
		frame = append(frame, hi16(lin.R), lo16(lin.R), hi16(lin.G), lo16(lin.G), hi16(lin.B), lo16(lin.B))
	}
	_, err := conn.Write(frame)
	return err
}

func hi16(v float64) byte { return byte(uint16(v*65535) >> 8) }
func lo16(v float64) byte { return byte(uint16(v * 65535)) }

func (d *HueDriver) Discover(Properties) (json.RawMessage, error) {
	resp, err := d.httpClient.Get(fmt.Sprintf("http://%s/api/%s/lights", d.cfg.Address, d.cfg.Username))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *HueDriver) GetProperties(Properties) (Properties, error) {
	return Properties{"apiVersion": d.apiVersion}, nil
}

func (d *HueDriver) Identify(params Properties) error {
	id, _ := params["lightId"].(string)
	body, _ := json.Marshal(map[string]string{"alert": "select"})
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("http://%s/api/%s/lights/%s/state", d.cfg.Address, d.cfg.Username, id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
