/*
NAME
  nanoleaf.go

DESCRIPTION
  nanoleaf.go implements the Nanoleaf driver: REST control for power,
  state, device info and identify plus the external-control ("extControl") streaming protocol
  over UDP, supporting both the v1 and v2 datagram layouts.

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
	"net/http"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

const (
	nanoleafRestPort   = 16021
	nanoleafStreamPort = 60222
)

// NanoleafDriver enables external control on the panel set via its REST
// API, then streams one UDP datagram per frame. Each LED of the layout is
// mapped positionally onto one panel id reported by the device.
type NanoleafDriver struct {
	t          udpTransport
	httpClient *http.Client
	baseURL    string
	panelIDs   []uint16
	extVersion int // 1 or 2, from the device's reported extControl version.
	savedOn    *bool
}

func NewNanoleafDriver() *NanoleafDriver {
	return &NanoleafDriver{httpClient: &http.Client{Timeout: 3 * time.Second}}
}

func (d *NanoleafDriver) Init(cfg Config) error {
	if cfg.Username == "" {
		return errors.New("nanoleaf: auth token required")
	}
	if cfg.Port == 0 {
		cfg.Port = nanoleafStreamPort
	}
	if err := d.t.init(cfg); err != nil {
		return err
	}
	d.baseURL = fmt.Sprintf("http://%s:%d/api/v1/%s", cfg.Address, nanoleafRestPort, cfg.Username)
	return nil
}

// Open queries the panel layout, requests extControl streaming mode, then
// opens the UDP stream socket.
func (d *NanoleafDriver) Open() error {
	if err := d.queryPanels(); err != nil {
		d.t.retry.Schedule(d.Open, nil)
		return err
	}
	if err := d.enableExtControl(); err != nil {
		return err
	}
	return d.t.open(nil)
}

// queryPanels reads the device info blob and records the panel ids in
// layout order; the protocol version is set by enableExtControl.
func (d *NanoleafDriver) queryPanels() error {
	resp, err := d.httpClient.Get(d.baseURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var info struct {
		PanelLayout struct {
			Layout struct {
				PositionData []struct {
					PanelID uint16 `json:"panelId"`
				} `json:"positionData"`
			} `json:"layout"`
		} `json:"panelLayout"`
		FirmwareVersion string `json:"firmwareVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("nanoleaf: malformed device info: %w", err)
	}
	d.panelIDs = d.panelIDs[:0]
	for _, p := range info.PanelLayout.Layout.PositionData {
		d.panelIDs = append(d.panelIDs, p.PanelID)
	}
	if len(d.panelIDs) == 0 {
		return FatalError{errors.New("nanoleaf: device reports no panels")}
	}
	return nil
}

// enableExtControl puts the device in external-control mode. The reply's
// streamControlVersion selects the datagram layout used by Write.
func (d *NanoleafDriver) enableExtControl() error {
	body := []byte(`{"write":{"command":"display","animType":"extControl","extControlVersion":"v2"}}`)
	req, err := http.NewRequest(http.MethodPut, d.baseURL+"/effects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return FatalError{fmt.Errorf("nanoleaf: auth rejected (%d)", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("nanoleaf: extControl request failed (%d)", resp.StatusCode)
	}
	d.extVersion = 2
	var reply struct {
		StreamControlVersion string `json:"streamControlVersion"`
	}
	if json.NewDecoder(resp.Body).Decode(&reply) == nil && reply.StreamControlVersion == "v1" {
		d.extVersion = 1
	}
	return nil
}

func (d *NanoleafDriver) Close() error {
	if d.t.cfg.RestoreOnClose {
		_ = d.RestoreState()
	}
	return d.t.close()
}

func (d *NanoleafDriver) SwitchOn() error  { return d.putOn(true) }
func (d *NanoleafDriver) SwitchOff() error { return d.putOn(false) }

func (d *NanoleafDriver) putOn(on bool) error {
	body, _ := json.Marshal(map[string]interface{}{"on": map[string]bool{"value": on}})
	req, err := http.NewRequest(http.MethodPut, d.baseURL+"/state", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// StoreState records whether the device was on, so Close can put it back.
func (d *NanoleafDriver) StoreState() error {
	resp, err := d.httpClient.Get(d.baseURL + "/state/on")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var v struct {
		Value bool `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err
	}
	d.savedOn = &v.Value
	return nil
}

func (d *NanoleafDriver) RestoreState() error {
	if d.savedOn == nil {
		return nil
	}
	return d.putOn(*d.savedOn)
}

// Write streams one frame. v2 layout: 16-bit panel count, then per panel
// {id16, r, g, b, w=0, transition16}. v1 uses single-byte count, id and
// transition fields.
func (d *NanoleafDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	n := len(d.panelIDs)
	if len(colors) < n {
		n = len(colors)
	}
	var payload []byte
	if d.extVersion == 1 {
		payload = make([]byte, 0, 1+n*7)
		payload = append(payload, byte(n))
		for i := 0; i < n; i++ {
			c := colors[i]
			payload = append(payload, byte(d.panelIDs[i]), 1, c.R, c.G, c.B, 0, 1)
		}
	} else {
		payload = make([]byte, 0, 2+n*8)
		payload = append(payload, byte(n>>8), byte(n))
		for i := 0; i < n; i++ {
			c := colors[i]
			id := d.panelIDs[i]
			payload = append(payload, byte(id>>8), byte(id), c.R, c.G, c.B, 0, 0, 1)
		}
	}
	return d.t.send(payload)
}

func (d *NanoleafDriver) Discover(Properties) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (d *NanoleafDriver) GetProperties(Properties) (Properties, error) {
	resp, err := d.httpClient.Get(d.baseURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var props Properties
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return nil, errors.New("nanoleaf: malformed device info response")
	}
	return props, nil
}

// Identify triggers the device's own identify animation instead of
// flashing over the stream socket, which may not be open yet.
func (d *NanoleafDriver) Identify(Properties) error {
	req, err := http.NewRequest(http.MethodPut, d.baseURL+"/identify", nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
