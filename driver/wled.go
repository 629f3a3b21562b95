/*
NAME
  wled.go

DESCRIPTION
  wled.go implements the WLED driver: UDP WARLS realtime frames plus an
  HTTP JSON API config backup/restore around the realtime session, so a
  user's WLED preset isn't left in "realtime override" state when the
  session ends.

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
	"io"
	"net/http"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

const (
	warlsProtocol = 1
	warlsTimeoutS = 2 // realtime override expires this many seconds after the last frame.
)

// WLEDDriver speaks WLED's WARLS UDP realtime protocol for frame writes
// and its HTTP JSON API for discovery, properties and config backup/
// restore.
type WLEDDriver struct {
	t          udpTransport
	httpClient *http.Client
	baseURL    string
	savedCfg   json.RawMessage
}

func NewWLEDDriver() *WLEDDriver {
	return &WLEDDriver{httpClient: &http.Client{Timeout: 3 * time.Second}}
}

func (d *WLEDDriver) Init(cfg Config) error {
	if err := d.t.init(cfg); err != nil {
		return err
	}
	d.baseURL = fmt.Sprintf("http://%s", cfg.Address)
	return nil
}

func (d *WLEDDriver) Open() error { return d.t.open(nil) }

func (d *WLEDDriver) Close() error {
	if d.t.cfg.RestoreOnClose {
		_ = d.RestoreState()
	}
	return d.t.close()
}

func (d *WLEDDriver) SwitchOn() error  { return d.postState(map[string]interface{}{"on": true}) }
func (d *WLEDDriver) SwitchOff() error { return d.postState(map[string]interface{}{"on": false}) }

// StoreState backs up the device's current JSON config (GET /json/cfg) so
// it can be restored when the realtime session ends.
func (d *WLEDDriver) StoreState() error {
	resp, err := d.httpClient.Get(d.baseURL + "/json/cfg")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	d.savedCfg = body
	return nil
}

// RestoreState posts the backed-up config back to the device (POST
// /json/cfg), undoing StoreState.
func (d *WLEDDriver) RestoreState() error {
	if d.savedCfg == nil {
		return nil
	}
	resp, err := d.httpClient.Post(d.baseURL+"/json/cfg", "application/json", bytes.NewReader(d.savedCfg))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (d *WLEDDriver) postState(state map[string]interface{}) error {
	body, err := json.Marshal(state)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Post(d.baseURL+"/json/state", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Write sends one WARLS UDP frame: [protocol, timeout, (index, R, G, B)...].
func (d *WLEDDriver) Write(colors []colorspace.Rgb) error {
	colors = applyByteOrder(colors, d.t.cfg.ByteOrder)
	payload := make([]byte, 0, 2+len(colors)*4)
	payload = append(payload, warlsProtocol, warlsTimeoutS)
	for i, c := range colors {
		if i > 255 {
			break // WARLS indices are a single byte; longer strips need DRGB/DNRGB instead.
		}
		payload = append(payload, byte(i), c.R, c.G, c.B)
	}
	return d.t.send(payload)
}

func (d *WLEDDriver) Discover(Properties) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }

func (d *WLEDDriver) GetProperties(Properties) (Properties, error) {
	resp, err := d.httpClient.Get(d.baseURL + "/json/info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var props Properties
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return nil, errors.New("wled: malformed /json/info response")
	}
	return props, nil
}

func (d *WLEDDriver) Identify(Properties) error { return d.Write(flashFrame(d.t.cfg.LEDCount)) }
