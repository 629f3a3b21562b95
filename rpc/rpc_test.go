package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
	"github.com/hyperhdr/hyperhdr/driver"
	"github.com/hyperhdr/hyperhdr/instance"
	"github.com/hyperhdr/hyperhdr/internal/testlog"
	"github.com/hyperhdr/hyperhdr/layout"
	"github.com/hyperhdr/hyperhdr/smoothing"
	"github.com/hyperhdr/hyperhdr/store"
)

// nullDriver satisfies driver.Driver without any transport.
type nullDriver struct {
	mu     sync.Mutex
	writes int
}

func (d *nullDriver) Init(driver.Config) error { return nil }
func (d *nullDriver) Open() error              { return nil }
func (d *nullDriver) Close() error             { return nil }
func (d *nullDriver) SwitchOn() error          { return nil }
func (d *nullDriver) SwitchOff() error         { return nil }
func (d *nullDriver) StoreState() error        { return nil }
func (d *nullDriver) RestoreState() error      { return nil }
func (d *nullDriver) Write([]colorspace.Rgb) error {
	d.mu.Lock()
	d.writes++
	d.mu.Unlock()
	return nil
}
func (d *nullDriver) Discover(driver.Properties) (json.RawMessage, error) { return nil, nil }
func (d *nullDriver) GetProperties(driver.Properties) (driver.Properties, error) {
	return nil, nil
}
func (d *nullDriver) Identify(driver.Properties) error { return nil }

func testServer(t *testing.T) (*Server, *instance.Manager, int) {
	t.Helper()
	leds := make([]layout.Led, 4)
	for i := range leds {
		leds[i] = layout.Led{Index: i, HMin: 0, HMax: 1, VMin: 0, VMax: 1}
	}
	lo, err := layout.New(leds)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	m := instance.NewManager(testlog.New())
	id, err := m.CreateInstance(instance.Options{
		Name:   "main",
		Layout: lo,
		Driver: &nullDriver{},
		SmoothingConfig: map[int]smoothing.Config{
			0: {ID: 0, DirectMode: true, UpdateFrequencyHz: 200},
		},
		Log: testlog.New(),
	})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := m.StartInstance(id); err != nil {
		t.Fatalf("StartInstance: %v", err)
	}
	t.Cleanup(func() { m.StopInstance(id) })

	st, err := store.Open(filepath.Join(t.TempDir(), "hyperhdr.db"), testlog.New())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	s, err := NewServer(Options{Manager: m, Store: st, Log: testlog.New()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, m, id
}

func TestDispatchUnknownCommand(t *testing.T) {
	s, _, _ := testServer(t)
	reply := s.Dispatch(Request{Command: "bogus", Tan: 7})
	if reply.Success {
		t.Fatal("unknown command reported success")
	}
	if reply.Error != "Command not implemented" {
		t.Fatalf("error = %q, want %q", reply.Error, "Command not implemented")
	}
	if reply.Tan != 7 || reply.Command != "bogus" {
		t.Fatalf("reply envelope not echoed: %+v", reply)
	}
}

func TestDispatchColorRegistersChannel(t *testing.T) {
	s, m, id := testServer(t)
	reply := s.Dispatch(Request{Command: "color", Priority: 30, Color: []uint8{255, 0, 0}, Duration: 1000})
	if !reply.Success {
		t.Fatalf("color failed: %s", reply.Error)
	}
	in, _ := m.Get(id)
	if got := in.Muxer().Visible(); got != 30 {
		t.Fatalf("visible priority = %d, want 30", got)
	}
	colors, ok := in.Muxer().VisibleColors()
	if !ok || len(colors) != 4 || colors[0].R != 255 {
		t.Fatalf("visible colors = %v, %v", colors, ok)
	}
}

func TestDispatchClearRemovesChannel(t *testing.T) {
	s, m, id := testServer(t)
	s.Dispatch(Request{Command: "color", Priority: 30, Color: []uint8{0, 255, 0}})
	s.Dispatch(Request{Command: "clear", Priority: 30})
	in, _ := m.Get(id)
	if got := in.Muxer().Visible(); got == 30 {
		t.Fatal("cleared priority still visible")
	}
}

func TestDispatchSourceSelectManualAndAuto(t *testing.T) {
	s, m, id := testServer(t)
	s.Dispatch(Request{Command: "color", Priority: 30, Color: []uint8{1, 2, 3}})
	s.Dispatch(Request{Command: "color", Priority: 50, Color: []uint8{4, 5, 6}})

	reply := s.Dispatch(Request{Command: "sourceselect", Priority: 50})
	if !reply.Success {
		t.Fatalf("sourceselect failed: %s", reply.Error)
	}
	in, _ := m.Get(id)
	if got := in.Muxer().Visible(); got != 50 {
		t.Fatalf("pinned priority = %d, want 50", got)
	}

	auto := true
	s.Dispatch(Request{Command: "sourceselect", Auto: &auto})
	if got := in.Muxer().Visible(); got != 30 {
		t.Fatalf("auto-selected priority = %d, want 30", got)
	}
}

func TestDispatchAdjustmentAppliesSettings(t *testing.T) {
	s, _, _ := testServer(t)
	gamma := 2.2
	reply := s.Dispatch(Request{Command: "adjustment", Adjustment: &Adjustment{Temperature: "cold", Gamma: &gamma}})
	if !reply.Success {
		t.Fatalf("adjustment failed: %s", reply.Error)
	}
	reply = s.Dispatch(Request{Command: "adjustment", Adjustment: &Adjustment{Temperature: "tepid"}})
	if reply.Success {
		t.Fatal("unknown temperature preset accepted")
	}
}

func TestDispatchInstanceLifecycleSubcommands(t *testing.T) {
	s, m, id := testServer(t)
	reply := s.Dispatch(Request{Command: "instance", Subcommand: "saveName", Instance: &id, Name: "living room"})
	if !reply.Success {
		t.Fatalf("saveName failed: %s", reply.Error)
	}
	in, _ := m.Get(id)
	if in.Name() != "living room" {
		t.Fatalf("name = %q, want renamed", in.Name())
	}

	reply = s.Dispatch(Request{Command: "instance", Subcommand: "switchTo", Instance: &id})
	if !reply.Success {
		t.Fatalf("switchTo failed: %s", reply.Error)
	}
	reply = s.Dispatch(Request{Command: "instance", Subcommand: "nonsense"})
	if reply.Success {
		t.Fatal("unknown subcommand accepted")
	}
}

func TestDispatchAuthorizeTokenFlow(t *testing.T) {
	s, _, _ := testServer(t)
	reply := s.Dispatch(Request{Command: "authorize", Subcommand: "tokenRequired"})
	if !reply.Success || reply.Info.(map[string]bool)["required"] {
		t.Fatalf("fresh store should not require a token: %+v", reply)
	}

	reply = s.Dispatch(Request{Command: "authorize", Subcommand: "createToken", Comment: "tv"})
	if !reply.Success {
		t.Fatalf("createToken failed: %s", reply.Error)
	}
	token := reply.Info.(map[string]string)["token"]
	if token == "" {
		t.Fatal("createToken returned no token")
	}

	reply = s.Dispatch(Request{Command: "authorize", Subcommand: "login", Token: token})
	if !reply.Success {
		t.Fatalf("login with fresh token failed: %s", reply.Error)
	}
	reply = s.Dispatch(Request{Command: "authorize", Subcommand: "login", Token: "wrong"})
	if reply.Success {
		t.Fatal("login with bogus token succeeded")
	}
}

func TestDispatchServerInfoListsInstances(t *testing.T) {
	s, _, _ := testServer(t)
	reply := s.Dispatch(Request{Command: "serverinfo"})
	if !reply.Success {
		t.Fatalf("serverinfo failed: %s", reply.Error)
	}
	info := reply.Info.(map[string]interface{})
	if info["version"] != Version {
		t.Fatalf("version = %v", info["version"])
	}
}

func TestHTTPHandlerRoundTrip(t *testing.T) {
	s, _, _ := testServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := strings.NewReader(`{"command":"sysinfo","tan":3}`)
	resp, err := http.Post(srv.URL, "application/json", body)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reply.Success || reply.Tan != 3 || reply.Command != "sysinfo" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHTTPHandlerMalformedJSON(t *testing.T) {
	s, _, _ := testServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Success {
		t.Fatal("malformed request reported success")
	}
}

func TestDispatchSmoothingUpdatesConfig(t *testing.T) {
	s, _, _ := testServer(t)
	reply := s.Dispatch(Request{Command: "smoothing", Smoothing: &struct {
		ID                int     `json:"id"`
		SettlingTimeMs    float64 `json:"settlingTime"`
		UpdateFrequencyHz float64 `json:"updateFrequency"`
		DirectMode        bool    `json:"directMode"`
	}{ID: 1, SettlingTimeMs: 150, UpdateFrequencyHz: 60}})
	if !reply.Success {
		t.Fatalf("smoothing failed: %s", reply.Error)
	}
}

func TestDispatchLedColorsReturnsCurrentFrame(t *testing.T) {
	s, _, _ := testServer(t)
	s.Dispatch(Request{Command: "color", Priority: 30, Color: []uint8{250, 0, 0}})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reply := s.Dispatch(Request{Command: "ledcolors", Subcommand: "ledstream-start"})
		if !reply.Success {
			t.Fatalf("ledcolors failed: %s", reply.Error)
		}
		leds := reply.Info.(map[string]interface{})["leds"].([]uint8)
		if len(leds) == 12 && leds[0] > 200 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ledcolors never reflected the written frame")
}
