/*
NAME
  grabber.go

DESCRIPTION
  grabber.go implements an ffmpeg-piped V4L2Grabber, the concrete
  capture.Grabber used when reading from a Video4Linux2 device node.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package capture

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	img "github.com/hyperhdr/hyperhdr/image"
)

// retryPeriod is the transient-read-error retry interval.
const retryPeriod = 3 * time.Second

// V4L2Grabber captures frames from a Video4Linux2 device via an ffmpeg
// subprocess, pushing raw frames through callbacks instead of exposing an
// io.Reader.
type V4L2Grabber struct {
	log logging.Logger

	devicePath string
	cmd        *exec.Cmd
	out        io.ReadCloser
	done       chan struct{}
	wg         sync.WaitGroup

	mu        sync.Mutex
	running   bool
	lastMode  Mode
	onFrame   func(RawFrame)
	onError   func(error)
}

// NewV4L2Grabber returns a Grabber reading devicePath (e.g. "/dev/video0").
func NewV4L2Grabber(log logging.Logger, devicePath string, onFrame func(RawFrame), onError func(error)) *V4L2Grabber {
	return &V4L2Grabber{log: log, devicePath: devicePath, onFrame: onFrame, onError: onError}
}

// Enumerate reports the single configured device; a real implementation
// would shell out to v4l2-ctl --list-devices and --list-formats-ext, which
// is out of scope for a portable core.
func (g *V4L2Grabber) Enumerate() ([]DeviceInfo, error) {
	return []DeviceInfo{{
		DeviceKey:    g.devicePath,
		FriendlyName: g.devicePath,
		Inputs:       1,
		ValidModes: []Mode{
			{Width: 1920, Height: 1080, FPS: 30, PixelFormat: img.FormatYUYV},
			{Width: 1280, Height: 720, FPS: 30, PixelFormat: img.FormatYUYV},
			{Width: 640, Height: 480, FPS: 30, PixelFormat: img.FormatYUYV},
		},
	}}, nil
}

// Start resolves want against the device's declared modes (strict match,
// then best guess), opens the device at the selected mode via an ffmpeg
// subprocess, and begins emitting raw frames to onFrame until Stop is
// called or a fatal error occurs.
func (g *V4L2Grabber) Start(want Mode) error {
	infos, err := g.Enumerate()
	if err != nil {
		return fmt.Errorf("capture: enumerate %s: %w", g.devicePath, err)
	}
	if len(infos) == 0 {
		return ErrDeviceGone{Device: g.devicePath}
	}
	mode, ok := SelectMode(infos[0].ValidModes, want)
	if !ok {
		return fmt.Errorf("capture: no usable mode on %s for %dx%d@%d", g.devicePath, want.Width, want.Height, want.FPS)
	}

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.lastMode = mode
	g.running = true
	g.done = make(chan struct{})
	g.mu.Unlock()

	g.wg.Add(1)
	go g.runLoop()
	return nil
}

// runLoop drives the retry-with-backoff lifecycle: a transient read error
// (ffmpeg pipe closes unexpectedly while the device still exists) re-enters
// openAndRead after retryPeriod; a fatal ErrDeviceGone stops the grabber
// and reports onError.
func (g *V4L2Grabber) runLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		default:
		}

		err := g.openAndRead()
		if err == nil {
			return // Stop() closed the pipe cleanly.
		}

		var gone ErrDeviceGone
		if asErrDeviceGone(err, &gone) {
			if g.onError != nil {
				g.onError(err)
			}
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
			return
		}

		g.log.Warning("capture: transient read error, retrying", "error", err, "device", g.devicePath)
		select {
		case <-g.done:
			return
		case <-time.After(retryPeriod):
		}
	}
}

func asErrDeviceGone(err error, out *ErrDeviceGone) bool {
	gone, ok := err.(ErrDeviceGone)
	if ok {
		*out = gone
	}
	return ok
}

// openAndRead spawns ffmpeg against the current mode and reads raw frames
// until the pipe closes or Stop() fires.
func (g *V4L2Grabber) openAndRead() error {
	g.mu.Lock()
	mode := g.lastMode
	g.mu.Unlock()

	args := []string{
		"-f", "v4l2",
		"-input_format", fourccOf(mode.PixelFormat),
		"-video_size", fmt.Sprintf("%dx%d", mode.Width, mode.Height),
		"-framerate", fmt.Sprint(mode.FPS),
		"-i", g.devicePath,
		"-f", "rawvideo",
		"-",
	}
	cmd := exec.Command("ffmpeg", args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	g.mu.Lock()
	g.cmd, g.out = cmd, out
	g.mu.Unlock()

	frameSize := mode.Width * mode.Height * 2 // YUYV: 2 bytes/pixel.
	buf := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(out, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frame := RawFrame{
			Data:   append([]byte(nil), buf...),
			Format: mode.PixelFormat,
			Width:  mode.Width,
			Height: mode.Height,
			Stride: mode.Width * 2,
		}
		if g.onFrame != nil {
			g.onFrame(frame)
		}
		select {
		case <-g.done:
			return nil
		default:
		}
	}
}

func fourccOf(f img.Format) string {
	switch f {
	case img.FormatYUYV:
		return "yuyv422"
	case img.FormatUYVY:
		return "uyvy422"
	case img.FormatNV12:
		return "nv12"
	case img.FormatMJPEG:
		return "mjpeg"
	default:
		return "yuyv422"
	}
}

// Stop idempotently releases the device and its ffmpeg subprocess.
func (g *V4L2Grabber) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.done)
	cmd, out := g.cmd, g.out
	g.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if out != nil {
		_ = out.Close()
	}
	g.wg.Wait()
	return nil
}

// IsRunning reports whether the grabber is currently capturing.
func (g *V4L2Grabber) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// SetBrightness, SetContrast, SetSaturation and SetHue are no-ops: the
// ffmpeg-subprocess path does not expose V4L2 control IDs. A direct-ioctl
// implementation would wire these through.
func (g *V4L2Grabber) SetBrightness(float64) error { return nil }
func (g *V4L2Grabber) SetContrast(float64) error   { return nil }
func (g *V4L2Grabber) SetSaturation(float64) error { return nil }
func (g *V4L2Grabber) SetHue(float64) error        { return nil }
