package rpc

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	img "github.com/hyperhdr/hyperhdr/image"
	"github.com/hyperhdr/hyperhdr/internal/testlog"
)

// recordingSink captures everything a feed connection pushes.
type recordingSink struct {
	mu         sync.Mutex
	registered []int
	frames     []*img.Image[img.RGB8]
	inactive   []int
	cleared    []int
}

func (s *recordingSink) RegisterInput(priority int, component, origin, owner string, smoothingCfg int) {
	s.mu.Lock()
	s.registered = append(s.registered, priority)
	s.mu.Unlock()
}

func (s *recordingSink) SetInputImage(priority int, image *img.Image[img.RGB8], timeoutMs int) bool {
	s.mu.Lock()
	s.frames = append(s.frames, image)
	s.mu.Unlock()
	return true
}

func (s *recordingSink) SetInputInactive(priority int) {
	s.mu.Lock()
	s.inactive = append(s.inactive, priority)
	s.mu.Unlock()
}

func (s *recordingSink) ClearInput(priority int) {
	s.mu.Lock()
	s.cleared = append(s.cleared, priority)
	s.mu.Unlock()
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// sendFrame writes one length-prefixed raw RGB frame.
func sendFrame(t *testing.T, conn net.Conn, w, h int, fill byte) {
	t.Helper()
	payload := make([]byte, 4+w*h*3)
	binary.BigEndian.PutUint16(payload[0:2], uint16(w))
	binary.BigEndian.PutUint16(payload[2:4], uint16(h))
	for i := 4; i < len(payload); i++ {
		payload[i] = fill
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func TestFeedServerRegistersAndStreamsFrames(t *testing.T) {
	sink := &recordingSink{}
	f, err := NewFeedServer(FeedConfig{Address: "127.0.0.1:0", Priority: 120}, sink, testlog.New())
	if err != nil {
		t.Fatalf("NewFeedServer: %v", err)
	}
	f.Run()
	defer f.Close()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sendFrame(t, conn, 8, 8, 0x40)
	sendFrame(t, conn, 8, 8, 0x80)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.frameCount() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.registered) != 1 || sink.registered[0] != 120 {
		t.Fatalf("registered = %v, want one channel at priority 120", sink.registered)
	}
	if len(sink.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(sink.frames))
	}
	if got := sink.frames[1].At(0, 0); got.R != 0x80 {
		t.Fatalf("second frame pixel = %+v, want 0x80 fill", got)
	}
}

func TestFeedServerClearsChannelOnDisconnect(t *testing.T) {
	sink := &recordingSink{}
	f, err := NewFeedServer(FeedConfig{Address: "127.0.0.1:0", Priority: 120}, sink, testlog.New())
	if err != nil {
		t.Fatalf("NewFeedServer: %v", err)
	}
	f.Run()
	defer f.Close()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sendFrame(t, conn, 2, 2, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		cleared := len(sink.cleared)
		sink.mu.Unlock()
		if cleared == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("channel was never cleared after disconnect")
}

func TestFeedServerMarksChannelInactiveOnBadFrame(t *testing.T) {
	sink := &recordingSink{}
	f, err := NewFeedServer(FeedConfig{Address: "127.0.0.1:0", Priority: 120}, sink, testlog.New())
	if err != nil {
		t.Fatalf("NewFeedServer: %v", err)
	}
	f.Run()
	defer f.Close()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Length prefix says 8 bytes, but the header inside claims 4x4 RGB:
	// undecodable, must mark the channel dormant rather than drop it.
	payload := make([]byte, 8)
	binary.BigEndian.PutUint16(payload[0:2], 4)
	binary.BigEndian.PutUint16(payload[2:4], 4)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	conn.Write(lenBuf[:])
	conn.Write(payload)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		inactive := append([]int(nil), sink.inactive...)
		sink.mu.Unlock()
		if len(inactive) == 1 && inactive[0] == 120 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("undecodable frame never marked the channel inactive")
}

func TestManagerSinkRegistersAtFeedPriority(t *testing.T) {
	_, m, id := testServer(t)
	f, err := NewFeedServer(FeedConfig{Address: "127.0.0.1:0", Priority: 120}, m, testlog.New())
	if err != nil {
		t.Fatalf("NewFeedServer: %v", err)
	}
	f.Run()
	defer f.Close()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sendFrame(t, conn, 4, 4, 0x30)

	in, _ := m.Get(id)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && in.Muxer().Visible() != 120 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := in.Muxer().Visible(); got != 120 {
		t.Fatalf("visible priority = %d, want the feed's configured 120", got)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && in.Muxer().Visible() == 120 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := in.Muxer().Visible(); got == 120 {
		t.Fatal("feed channel not cleared on disconnect")
	}
}

func TestFeedServerDownscalesOversizedFrames(t *testing.T) {
	sink := &recordingSink{}
	f, err := NewFeedServer(FeedConfig{
		Address: "127.0.0.1:0", Priority: 120, MaxWidth: 16, MaxHeight: 16,
	}, sink, testlog.New())
	if err != nil {
		t.Fatalf("NewFeedServer: %v", err)
	}
	f.Run()
	defer f.Close()

	conn, err := net.Dial("tcp", f.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	sendFrame(t, conn, 64, 32, 0x55)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.frameCount() < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames) != 1 {
		t.Fatal("frame never arrived")
	}
	got := sink.frames[0]
	if got.Width() > 16 || got.Height() > 16 {
		t.Fatalf("frame %dx%d exceeds the 16x16 bound", got.Width(), got.Height())
	}
	if c := got.At(0, 0); c.R != 0x55 {
		t.Fatalf("downscaled uniform frame pixel = %+v, want 0x55", c)
	}
}
