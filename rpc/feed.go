/*
NAME
  feed.go

DESCRIPTION
  feed.go implements the remote image feed listener: each TCP connection
  registers one priority muxer channel and streams length-prefixed frames
  into it. The frame payload encoding (flatbuffer, raw protobuf, packed
  RGB) is a pluggable decode function; frames exceeding the configured
  resolution are scaled down by the receiver before entering the pipeline.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"golang.org/x/image/draw"

	stdimage "image"

	img "github.com/hyperhdr/hyperhdr/image"
)

// FeedSink is the slice of the pipeline surface a remote feed drives: one
// registered channel, refreshed per frame, marked dormant when the stream
// goes bad, cleared on disconnect. *instance.Manager satisfies it, fanning
// each call to every running instance at the feed's own priority.
type FeedSink interface {
	RegisterInput(priority int, component, origin, owner string, smoothingCfg int)
	SetInputImage(priority int, image *img.Image[img.RGB8], timeoutMs int) bool
	SetInputInactive(priority int)
	ClearInput(priority int)
}

// FeedFrameDecoder turns one received payload into a decoded image. The
// concrete wire schema (flatbuffer, protobuf) lives behind this function.
type FeedFrameDecoder func(payload []byte) (*img.Image[img.RGB8], error)

// RawRGBFrameDecoder decodes the simplest payload: 16-bit big-endian width
// and height followed by packed RGB.
func RawRGBFrameDecoder(payload []byte) (*img.Image[img.RGB8], error) {
	if len(payload) < 4 {
		return nil, errors.New("rpc: feed frame too short")
	}
	w := int(binary.BigEndian.Uint16(payload[0:2]))
	h := int(binary.BigEndian.Uint16(payload[2:4]))
	data := payload[4:]
	if w <= 0 || h <= 0 || len(data) != w*h*3 {
		return nil, fmt.Errorf("rpc: feed frame %dx%d does not match %d payload bytes", w, h, len(data))
	}
	image := img.New[img.RGB8](img.FormatRGB)
	image.Resize(w, h)
	px := image.Pixels()
	for i := range px {
		px[i] = img.RGB8{R: data[i*3], G: data[i*3+1], B: data[i*3+2]}
	}
	return image, nil
}

// FeedConfig parameterizes one listener.
type FeedConfig struct {
	Address      string
	Priority     int
	TimeoutMs    int // per-frame channel timeout; expiry drops the source.
	MaxWidth     int // frames wider/taller are downscaled.
	MaxHeight    int
	SmoothingCfg int
	Decoder      FeedFrameDecoder
}

// maxFeedFrame bounds one length-prefixed frame (a 4K RGB frame fits).
const maxFeedFrame = 32 << 20

// FeedServer accepts remote feed connections and pumps their frames into
// the sink.
type FeedServer struct {
	cfg  FeedConfig
	sink FeedSink
	log  logging.Logger

	ln   net.Listener
	wg   sync.WaitGroup
	quit chan struct{}
}

// NewFeedServer validates cfg and binds the listener; Run starts accepting.
func NewFeedServer(cfg FeedConfig, sink FeedSink, log logging.Logger) (*FeedServer, error) {
	if cfg.Decoder == nil {
		cfg.Decoder = RawRGBFrameDecoder
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 5000
	}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("rpc: feed listen %s: %w", cfg.Address, err)
	}
	return &FeedServer{cfg: cfg, sink: sink, log: log, ln: ln, quit: make(chan struct{})}, nil
}

// Addr returns the bound listen address.
func (f *FeedServer) Addr() net.Addr { return f.ln.Addr() }

// Run accepts connections until Close. Each connection gets its own
// goroutine and its own registered channel.
func (f *FeedServer) Run() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			conn, err := f.ln.Accept()
			if err != nil {
				select {
				case <-f.quit:
					return
				default:
				}
				f.log.Warning("feed: accept failed", "error", err.Error())
				continue
			}
			f.wg.Add(1)
			go func() {
				defer f.wg.Done()
				f.serve(conn)
			}()
		}
	}()
}

func (f *FeedServer) serve(conn net.Conn) {
	defer conn.Close()
	origin := conn.RemoteAddr().String()
	f.sink.RegisterInput(f.cfg.Priority, "REMOTE", origin, "feed", f.cfg.SmoothingCfg)
	defer f.sink.ClearInput(f.cfg.Priority)

	var lenBuf [4]byte
	for {
		select {
		case <-f.quit:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Duration(f.cfg.TimeoutMs) * time.Millisecond))
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxFeedFrame {
			f.log.Warning("feed: bad frame length", "origin", origin, "length", int(n))
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		image, err := f.cfg.Decoder(payload)
		if err != nil {
			f.log.Warning("feed: undecodable frame", "origin", origin, "error", err.Error())
			// Hide the channel until a decodable frame arrives; the next
			// SetInputImage revives it.
			f.sink.SetInputInactive(f.cfg.Priority)
			continue
		}
		image = f.bound(image)
		f.sink.SetInputImage(f.cfg.Priority, image, f.cfg.TimeoutMs)
	}
}

// bound downscales a frame that exceeds the configured resolution.
func (f *FeedServer) bound(in *img.Image[img.RGB8]) *img.Image[img.RGB8] {
	maxW, maxH := f.cfg.MaxWidth, f.cfg.MaxHeight
	if maxW <= 0 && maxH <= 0 {
		return in
	}
	w, h := in.Width(), in.Height()
	if (maxW <= 0 || w <= maxW) && (maxH <= 0 || h <= maxH) {
		return in
	}
	dstW, dstH := w, h
	if maxW > 0 && dstW > maxW {
		dstH = dstH * maxW / dstW
		dstW = maxW
	}
	if maxH > 0 && dstH > maxH {
		dstW = dstW * maxH / dstH
		dstH = maxH
	}
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	src := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := in.At(x, y)
			i := src.PixOffset(x, y)
			src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = c.R, c.G, c.B, 255
		}
	}
	dst := stdimage.NewRGBA(stdimage.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	out := img.New[img.RGB8](img.FormatRGB)
	out.Resize(dstW, dstH)
	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			i := dst.PixOffset(x, y)
			out.Set(x, y, img.RGB8{R: dst.Pix[i], G: dst.Pix[i+1], B: dst.Pix[i+2]})
		}
	}
	return out
}

// Close stops accepting, closes the listener and waits for per-connection
// goroutines to drain.
func (f *FeedServer) Close() error {
	close(f.quit)
	err := f.ln.Close()
	f.wg.Wait()
	return err
}
