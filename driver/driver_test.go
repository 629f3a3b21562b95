package driver

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hyperhdr/hyperhdr/colorspace"
	"github.com/hyperhdr/hyperhdr/internal/testlog"
)

// udpSink binds a loopback UDP socket and records every datagram, so the
// UDP-family drivers can be exercised end-to-end over a real socket.
type udpSink struct {
	conn *net.UDPConn
	mu   sync.Mutex
	pkts [][]byte
}

func newUDPSink(t *testing.T) *udpSink {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	s := &udpSink{conn: conn}
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.pkts = append(s.pkts, append([]byte(nil), buf[:n]...))
			s.mu.Unlock()
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return s
}

func (s *udpSink) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

// await polls until at least n datagrams have arrived.
func (s *udpSink) await(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.pkts)
		s.mu.Unlock()
		if got >= n {
			s.mu.Lock()
			defer s.mu.Unlock()
			return append([][]byte(nil), s.pkts...)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d datagrams", n)
	return nil
}

func ledRamp(n int) []colorspace.Rgb {
	colors := make([]colorspace.Rgb, n)
	for i := range colors {
		colors[i] = colorspace.Rgb{R: uint8(i), G: uint8(i + 1), B: uint8(i + 2)}
	}
	return colors
}

func TestRawUDPWritePacksRGB(t *testing.T) {
	sink := newUDPSink(t)
	d := NewRawUDPDriver()
	if err := d.Init(Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 2}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Write([]colorspace.Rgb{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pkts := sink.await(t, 1)
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6}, pkts[0]); diff != "" {
		t.Errorf("raw UDP payload mismatch (-want +got):\n%s", diff)
	}
}

func TestArtNetPacketLayoutAndUniverseSplit(t *testing.T) {
	sink := newUDPSink(t)
	d := NewArtNetDriver()
	// 200 LEDs = 600 channels: spills into a second 90-channel universe.
	if err := d.Init(Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 200}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Write(ledRamp(200)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pkts := sink.await(t, 2)

	first := pkts[0]
	if string(first[:8]) != "Art-Net\x00" {
		t.Fatalf("packet id = %q, want Art-Net", first[:8])
	}
	if first[8] != 0x00 || first[9] != 0x50 {
		t.Fatalf("opcode = %x %x, want 00 50", first[8], first[9])
	}
	if first[12] != 1 {
		t.Fatalf("sequence = %d, want 1 on the first frame", first[12])
	}
	if got := int(first[16])<<8 | int(first[17]); got != artNetChannelsPerUniverse {
		t.Fatalf("universe 0 data length = %d, want %d", got, artNetChannelsPerUniverse)
	}
	second := pkts[1]
	if got := int(second[14]) | int(second[15])<<8; got != 1 {
		t.Fatalf("second packet universe = %d, want 1", got)
	}
	if got := int(second[16])<<8 | int(second[17]); got != 600-artNetChannelsPerUniverse {
		t.Fatalf("universe 1 data length = %d, want %d", got, 600-artNetChannelsPerUniverse)
	}
}

func TestE131PacketLayout(t *testing.T) {
	sink := newUDPSink(t)
	d := NewE131Driver()
	if err := d.Init(Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 4}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Write(ledRamp(4)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p := sink.await(t, 1)[0]

	if len(p) != sacnHeaderLen+12 {
		t.Fatalf("packet length = %d, want %d", len(p), sacnHeaderLen+12)
	}
	if string(p[4:13]) != "ASC-E1.17" {
		t.Fatalf("ACN identifier = %q", p[4:13])
	}
	if p[21] != 0x04 {
		t.Fatalf("root vector = %#x, want 0x04", p[21])
	}
	if p[43] != 0x02 {
		t.Fatalf("framing vector = %#x, want 0x02", p[43])
	}
	if p[111] != 1 {
		t.Fatalf("sequence = %d, want 1", p[111])
	}
	if got := int(p[113])<<8 | int(p[114]); got != 1 {
		t.Fatalf("universe = %d, want 1", got)
	}
	// Property value count covers the start code plus 12 channels.
	if got := int(p[123])<<8 | int(p[124]); got != 13 {
		t.Fatalf("property value count = %d, want 13", got)
	}
	if p[125] != 0x00 {
		t.Fatalf("DMX start code = %#x, want 0", p[125])
	}
	if diff := cmp.Diff(packRGB(ledRamp(4)), p[126:]); diff != "" {
		t.Errorf("channel data mismatch (-want +got):\n%s", diff)
	}
	// Root layer flags+length: 0x7 nibble plus the byte count from offset 16.
	wantRoot := 0x7000 | (len(p) - 16)
	if got := int(p[16])<<8 | int(p[17]); got != wantRoot {
		t.Fatalf("root flags+length = %#x, want %#x", got, wantRoot)
	}
}

func TestTPM2NetFraming(t *testing.T) {
	sink := newUDPSink(t)
	d := NewTPM2NetDriver()
	if err := d.Init(Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 2}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Write([]colorspace.Rgb{{R: 10}, {B: 20}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p := sink.await(t, 1)[0]
	want := []byte{0x9C, 0xDA, 0, 6, 1, 1, 10, 0, 0, 0, 0, 20, 0x36}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("TPM2.net frame mismatch (-want +got):\n%s", diff)
	}
}

func TestWLEDWarlsFrame(t *testing.T) {
	sink := newUDPSink(t)
	d := NewWLEDDriver()
	if err := d.Init(Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 2}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.t.close()

	if err := d.Write([]colorspace.Rgb{{R: 7, G: 8, B: 9}, {R: 1, G: 2, B: 3}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p := sink.await(t, 1)[0]
	want := []byte{warlsProtocol, warlsTimeoutS, 0, 7, 8, 9, 1, 1, 2, 3}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("WARLS frame mismatch (-want +got):\n%s", diff)
	}
}

func TestByteOrderSwapReachesTheWire(t *testing.T) {
	sink := newUDPSink(t)
	d := NewRawUDPDriver()
	cfg := Config{Address: "127.0.0.1", Port: sink.port(), LEDCount: 1, ByteOrder: colorspace.OrderGRB}
	if err := d.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.Write([]colorspace.Rgb{{R: 1, G: 2, B: 3}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p := sink.await(t, 1)[0]
	if diff := cmp.Diff([]byte{2, 1, 3}, p); diff != "" {
		t.Errorf("GRB-swapped payload mismatch (-want +got):\n%s", diff)
	}
}

// countingDriver records writes and can be told to fail.
type countingDriver struct {
	mu     sync.Mutex
	writes [][]colorspace.Rgb
	errs   []error
}

func (d *countingDriver) Init(Config) error      { return nil }
func (d *countingDriver) Open() error            { return nil }
func (d *countingDriver) Close() error           { return nil }
func (d *countingDriver) SwitchOn() error        { return nil }
func (d *countingDriver) SwitchOff() error       { return nil }
func (d *countingDriver) StoreState() error      { return nil }
func (d *countingDriver) RestoreState() error    { return nil }
func (d *countingDriver) Discover(Properties) (json.RawMessage, error) {
	return nil, nil
}
func (d *countingDriver) GetProperties(Properties) (Properties, error) { return nil, nil }
func (d *countingDriver) Identify(Properties) error                    { return nil }

func (d *countingDriver) Write(colors []colorspace.Rgb) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}
	d.writes = append(d.writes, append([]colorspace.Rgb(nil), colors...))
	return nil
}

func (d *countingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func TestDispatcherDeliversFramesInOrder(t *testing.T) {
	drv := &countingDriver{}
	disp := NewDispatcher(drv, 2, testlog.New(), nil)
	defer disp.Close()

	disp.Submit([]colorspace.Rgb{{R: 1}, {R: 2}})
	disp.Submit([]colorspace.Rgb{{R: 3}, {R: 4}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && drv.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	drv.mu.Lock()
	defer drv.mu.Unlock()
	if len(drv.writes) != 2 {
		t.Fatalf("driver saw %d writes, want 2", len(drv.writes))
	}
	if drv.writes[0][0].R != 1 || drv.writes[1][0].R != 3 {
		t.Fatalf("frames out of order: %+v", drv.writes)
	}
}

func TestDispatcherFatalErrorInvokesCallback(t *testing.T) {
	drv := &countingDriver{errs: []error{FatalError{errors.New("auth rejected")}}}
	fatal := make(chan error, 1)
	disp := NewDispatcher(drv, 1, testlog.New(), func(err error) { fatal <- err })
	defer disp.Close()

	disp.Submit([]colorspace.Rgb{{R: 1}})
	select {
	case err := <-fatal:
		if !IsFatal(err) {
			t.Fatalf("callback got non-fatal error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fatal callback never fired")
	}
}

func TestRetryPolicyGivesUpAfterMaxRetry(t *testing.T) {
	p := &RetryPolicy{Period: time.Millisecond, MaxRetry: 2}
	var attempts int32
	var mu sync.Mutex
	gaveUp := make(chan struct{})

	p.Schedule(func() error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("still down")
	}, func() { close(gaveUp) })

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("onFatal never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("reopen ran %d times, want 2", attempts)
	}
}
