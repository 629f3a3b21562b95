/*
NAME
  rpc.go

DESCRIPTION
  rpc.go implements the JSON command surface: a single envelope
  {command, tan, subcommand?, ...} dispatched to the core as method calls,
  every reply carrying {success, command, tan, info?|error?}.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package rpc exposes the engine over JSON commands carried by HTTP,
// WebSocket, or any other bidirectional byte stream, and hosts the TCP
// remote-feed ingestion listener.
package rpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/hyperhdr/hyperhdr/colorproc"
	"github.com/hyperhdr/hyperhdr/colorspace"
	"github.com/hyperhdr/hyperhdr/driver"
	"github.com/hyperhdr/hyperhdr/effects"
	img "github.com/hyperhdr/hyperhdr/image"
	"github.com/hyperhdr/hyperhdr/imagetoleds"
	"github.com/hyperhdr/hyperhdr/instance"
	"github.com/hyperhdr/hyperhdr/mux"
	"github.com/hyperhdr/hyperhdr/perfstat"
	"github.com/hyperhdr/hyperhdr/smoothing"
	"github.com/hyperhdr/hyperhdr/store"
)

// Version is reported by sysinfo and serverinfo.
const Version = "21.0.0"

// Request is the single JSON envelope every command arrives in. Fields
// irrelevant to a given command are simply absent.
type Request struct {
	Command    string `json:"command"`
	Tan        int    `json:"tan"`
	Subcommand string `json:"subcommand,omitempty"`

	Instance *int   `json:"instance,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Duration int    `json:"duration,omitempty"` // ms; 0 means no timeout.
	Origin   string `json:"origin,omitempty"`

	Color []uint8 `json:"color,omitempty"`

	ImageWidth  int    `json:"imagewidth,omitempty"`
	ImageHeight int    `json:"imageheight,omitempty"`
	ImageData   string `json:"imagedata,omitempty"` // base64 packed RGB.

	Effect *struct {
		Name string       `json:"name"`
		Args effects.Args `json:"args,omitempty"`
	} `json:"effect,omitempty"`

	ComponentState *struct {
		Component string `json:"component"`
		State     bool   `json:"state"`
	} `json:"componentstate,omitempty"`

	Adjustment *Adjustment `json:"adjustment,omitempty"`

	Smoothing *struct {
		ID                int     `json:"id"`
		SettlingTimeMs    float64 `json:"settlingTime"`
		UpdateFrequencyHz float64 `json:"updateFrequency"`
		DirectMode        bool    `json:"directMode"`
	} `json:"smoothing,omitempty"`

	Processing *struct {
		Reduction        string `json:"reduction,omitempty"`
		BlackbarDetector *bool  `json:"blackborderdetector,omitempty"`
	} `json:"processing,omitempty"`

	VideoModeHDR *int `json:"HDR,omitempty"`

	Name       string            `json:"name,omitempty"`       // instance saveName / createInstance.
	LedDevice  string            `json:"ledDeviceType,omitempty"`
	Params     driver.Properties `json:"params,omitempty"`
	Auto       *bool             `json:"auto,omitempty"` // sourceselect.
	Token      string            `json:"token,omitempty"`
	Comment    string            `json:"comment,omitempty"` // createToken label.
}

// Adjustment carries the color-adjustment parameters of the `adjustment`
// command, mapped onto the processing chain's Settings.
type Adjustment struct {
	Temperature  string    `json:"temperature,omitempty"` // warm | neutral | cold.
	CustomTint   []float64 `json:"customTint,omitempty"`  // [r,g,b] when temperature == "custom".
	ScaleOutput  *float64  `json:"scaleOutput,omitempty"`
	Gamma        *float64  `json:"gamma,omitempty"`
	Brightness   *float64  `json:"brightness,omitempty"`
	Saturation   *float64  `json:"saturation,omitempty"`
	BacklightMin *float64  `json:"backlightThreshold,omitempty"`
	BacklightCol *bool     `json:"backlightColored,omitempty"`
	PowerLimit   *float64  `json:"powerLimit,omitempty"`
}

// Reply is the envelope every command returns.
type Reply struct {
	Success bool        `json:"success"`
	Command string      `json:"command"`
	Tan     int         `json:"tan"`
	Info    interface{} `json:"info,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Options wires the Server to the core. Manager and Log are required; the
// rest enable the corresponding commands when present.
type Options struct {
	Manager  *instance.Manager
	Effects  *effects.Registry
	Store    *store.Store
	Counters *perfstat.Counters
	Log      logging.Logger

	// OnVideoModeHDR is invoked by the videomodehdr command with the
	// requested mode (0 off, 1 on).
	OnVideoModeHDR func(int)

	// InstanceOptions supplies the construction parameters for
	// instance/createInstance, since layout and transport come from
	// persisted per-instance settings the RPC layer doesn't own.
	InstanceOptions func(name string) (instance.Options, error)
}

// Server dispatches decoded Requests against the core.
type Server struct {
	opts Options
}

// NewServer validates opts and returns a dispatcher.
func NewServer(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("rpc: instance manager required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("rpc: logger required")
	}
	return &Server{opts: opts}, nil
}

func ok(req Request, info interface{}) Reply {
	return Reply{Success: true, Command: req.Command, Tan: req.Tan, Info: info}
}

func fail(req Request, format string, args ...interface{}) Reply {
	return Reply{Success: false, Command: req.Command, Tan: req.Tan, Error: fmt.Sprintf(format, args...)}
}

// target resolves the instance a command addresses: the explicit index if
// given, else the UI-focused instance, else instance 0.
func (s *Server) target(req Request) (*instance.Instance, Reply, bool) {
	id := 0
	if req.Instance != nil {
		id = *req.Instance
	} else if focused, okF := s.opts.Manager.Focused(); okF {
		id = focused
	}
	in, okG := s.opts.Manager.Get(id)
	if !okG {
		return nil, fail(req, "no such instance: %d", id), false
	}
	return in, Reply{}, true
}

// Dispatch routes one decoded request and returns its reply.
func (s *Server) Dispatch(req Request) Reply {
	switch req.Command {
	case "color":
		return s.handleColor(req)
	case "image":
		return s.handleImage(req)
	case "effect":
		return s.handleEffect(req)
	case "clear":
		return s.handleClear(req)
	case "clearall":
		return s.handleClearAll(req)
	case "sourceselect":
		return s.handleSourceSelect(req)
	case "componentstate":
		return s.handleComponentState(req)
	case "ledcolors":
		return s.handleLedColors(req)
	case "serverinfo":
		return s.handleServerInfo(req)
	case "sysinfo":
		return s.handleSysInfo(req)
	case "adjustment":
		return s.handleAdjustment(req)
	case "processing":
		return s.handleProcessing(req)
	case "videomodehdr":
		return s.handleVideoModeHDR(req)
	case "instance":
		return s.handleInstance(req)
	case "leddevice":
		return s.handleLedDevice(req)
	case "smoothing":
		return s.handleSmoothing(req)
	case "authorize":
		return s.handleAuthorize(req)
	}
	return fail(req, "Command not implemented")
}

// DispatchJSON decodes one raw request, dispatches it, and encodes the
// reply; malformed JSON produces an error reply rather than a dropped
// connection.
func (s *Server) DispatchJSON(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		out, _ := json.Marshal(fail(Request{}, "malformed request: %v", err))
		return out
	}
	out, err := json.Marshal(s.Dispatch(req))
	if err != nil {
		out, _ = json.Marshal(fail(req, "reply encoding failed: %v", err))
	}
	return out
}

func (s *Server) handleColor(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if len(req.Color) < 3 {
		return fail(req, "color requires [r,g,b]")
	}
	c := colorspace.Rgb{R: req.Color[0], G: req.Color[1], B: req.Color[2]}
	n := in.LedCount()
	vec := make([]colorspace.Rgb, n)
	for i := range vec {
		vec[i] = c
	}
	timeout := req.Duration
	if timeout == 0 {
		timeout = -1
	}
	in.RegisterInput(req.Priority, "COLOR", req.Origin, "rpc", smoothing.DefaultConfigID)
	if !in.SetInputColors(req.Priority, vec, timeout) {
		return fail(req, "set color failed on priority %d", req.Priority)
	}
	return ok(req, nil)
}

func (s *Server) handleImage(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	raw, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		return fail(req, "imagedata is not valid base64")
	}
	if req.ImageWidth <= 0 || req.ImageHeight <= 0 || len(raw) != req.ImageWidth*req.ImageHeight*3 {
		return fail(req, "image dimensions do not match data length")
	}
	image := img.New[img.RGB8](img.FormatRGB)
	image.Resize(req.ImageWidth, req.ImageHeight)
	for y := 0; y < req.ImageHeight; y++ {
		for x := 0; x < req.ImageWidth; x++ {
			i := (y*req.ImageWidth + x) * 3
			image.Set(x, y, img.RGB8{R: raw[i], G: raw[i+1], B: raw[i+2]})
		}
	}
	timeout := req.Duration
	if timeout == 0 {
		timeout = -1
	}
	in.RegisterInput(req.Priority, "IMAGE", req.Origin, "rpc", smoothing.DefaultConfigID)
	if !in.SetInputImage(req.Priority, image, timeout) {
		return fail(req, "set image failed on priority %d", req.Priority)
	}
	return ok(req, nil)
}

func (s *Server) handleEffect(req Request) Reply {
	if s.opts.Effects == nil {
		return fail(req, "effect engine not available")
	}
	if req.Effect == nil || req.Effect.Name == "" {
		return fail(req, "effect requires a name")
	}
	timeout := time.Duration(req.Duration) * time.Millisecond
	name, args, priority := req.Effect.Name, req.Effect.Args, req.Priority
	// Start blocks until the effect finishes, so it runs on its own
	// goroutine; failures surface through the log rather than the reply.
	go func() {
		if err := s.opts.Effects.Start(context.Background(), name, args, priority, timeout); err != nil {
			s.opts.Log.Warning("effect failed", "name", name, "error", err.Error())
		}
	}()
	return ok(req, nil)
}

func (s *Server) handleClear(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.Priority < 0 {
		in.ClearAll(false)
		return ok(req, nil)
	}
	in.ClearInput(req.Priority)
	if s.opts.Effects != nil {
		s.opts.Effects.Stop(req.Priority)
	}
	return ok(req, nil)
}

func (s *Server) handleClearAll(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	in.ClearAll(false)
	return ok(req, nil)
}

func (s *Server) handleSourceSelect(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.Auto != nil && *req.Auto {
		in.Muxer().SetAuto()
		return ok(req, nil)
	}
	in.Muxer().SetManual(req.Priority)
	return ok(req, nil)
}

func (s *Server) handleComponentState(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.ComponentState == nil {
		return fail(req, "componentstate requires component and state")
	}
	in.SetComponentEnabled(req.ComponentState.Component, req.ComponentState.State)
	return ok(req, nil)
}

func (s *Server) handleLedColors(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	switch req.Subcommand {
	case "ledstream-start", "":
		colors := in.CurrentColors()
		flat := make([]uint8, 0, len(colors)*3)
		for _, c := range colors {
			flat = append(flat, c.R, c.G, c.B)
		}
		return ok(req, map[string]interface{}{"leds": flat})
	case "ledstream-stop":
		return ok(req, nil)
	}
	return fail(req, "unknown ledcolors subcommand %q", req.Subcommand)
}

func (s *Server) handleServerInfo(req Request) Reply {
	type instInfo struct {
		ID      int    `json:"instance"`
		Name    string `json:"friendly_name"`
		Running bool   `json:"running"`
	}
	var instances []instInfo
	for _, id := range s.opts.Manager.IDs() {
		in, okG := s.opts.Manager.Get(id)
		if !okG {
			continue
		}
		instances = append(instances, instInfo{ID: id, Name: in.Name(), Running: in.State() == instance.StateRunning})
	}
	info := map[string]interface{}{
		"version":   Version,
		"instances": instances,
	}
	if in, _, okT := s.target(req); okT {
		visible := in.Muxer().Visible()
		info["priorities"] = map[string]interface{}{
			"visible": visible,
			"active":  visible != mux.LowestPriority,
		}
	}
	if s.opts.Effects != nil {
		info["effects"] = s.opts.Effects.ListDefinitions()
	}
	if s.opts.Counters != nil {
		snap := s.opts.Counters.Snapshot()
		info["performance-counters"] = map[string]interface{}{
			"goodFrame": snap.Good,
			"badFrame":  snap.Bad,
			"skipped":   snap.Skipped,
			"bitrate":   snap.BitrateBps,
		}
	}
	return ok(req, info)
}

func (s *Server) handleSysInfo(req Request) Reply {
	host, _ := os.Hostname()
	return ok(req, map[string]interface{}{
		"system": map[string]interface{}{
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"hostname": host,
		},
		"hyperhdr": map[string]interface{}{"version": Version},
	})
}

func (s *Server) handleAdjustment(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.Adjustment == nil {
		return fail(req, "adjustment requires parameters")
	}
	settings := colorproc.Identity()
	a := req.Adjustment
	switch a.Temperature {
	case "", "neutral":
		settings.Temperature = colorproc.TemperatureNeutral
	case "warm":
		settings.Temperature = colorproc.TemperatureWarm
	case "cold":
		settings.Temperature = colorproc.TemperatureCold
	case "custom":
		if len(a.CustomTint) != 3 {
			return fail(req, "custom temperature requires a [r,g,b] tint")
		}
		settings.Temperature = colorspace.Linear{R: a.CustomTint[0], G: a.CustomTint[1], B: a.CustomTint[2]}
	default:
		return fail(req, "unknown temperature preset %q", a.Temperature)
	}
	if a.ScaleOutput != nil {
		settings.ScaleOutput = *a.ScaleOutput
	}
	if a.Gamma != nil {
		settings.Gamma = *a.Gamma
	}
	if a.Brightness != nil {
		settings.Brightness = *a.Brightness
	}
	if a.Saturation != nil {
		settings.Saturation = *a.Saturation
	}
	if a.BacklightMin != nil {
		settings.BacklightMin = *a.BacklightMin
	}
	if a.BacklightCol != nil && !*a.BacklightCol {
		settings.BacklightMode = colorproc.BacklightNonColored
	}
	if a.PowerLimit != nil {
		settings.PowerLimit = *a.PowerLimit
	}
	in.Processor().SetSettings(settings)
	return ok(req, nil)
}

func (s *Server) handleProcessing(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.Processing == nil {
		return fail(req, "processing requires parameters")
	}
	switch req.Processing.Reduction {
	case "":
	case "mean":
		in.SetReduction(imagetoleds.ReductionMean)
	case "dominant":
		in.SetReduction(imagetoleds.ReductionDominant)
	case "dominantCluster":
		in.SetReduction(imagetoleds.ReductionMeanOfDominantCluster)
	case "weighted":
		in.SetReduction(imagetoleds.ReductionWeightedMean)
	default:
		return fail(req, "unknown reduction %q", req.Processing.Reduction)
	}
	if req.Processing.BlackbarDetector != nil {
		if *req.Processing.BlackbarDetector {
			in.SetBlackbar(imagetoleds.DefaultBlackbarConfig())
		} else {
			in.SetBlackbar(imagetoleds.BlackbarConfig{})
		}
	}
	return ok(req, nil)
}

func (s *Server) handleVideoModeHDR(req Request) Reply {
	if req.VideoModeHDR == nil {
		return fail(req, "videomodehdr requires HDR")
	}
	if s.opts.OnVideoModeHDR != nil {
		s.opts.OnVideoModeHDR(*req.VideoModeHDR)
	}
	return ok(req, nil)
}

func (s *Server) handleInstance(req Request) Reply {
	m := s.opts.Manager
	switch req.Subcommand {
	case "createInstance":
		if s.opts.InstanceOptions == nil {
			return fail(req, "instance creation not available")
		}
		opts, err := s.opts.InstanceOptions(req.Name)
		if err != nil {
			return fail(req, "createInstance: %v", err)
		}
		id, err := m.CreateInstance(opts)
		if err != nil {
			return fail(req, "createInstance: %v", err)
		}
		return ok(req, map[string]int{"instance": id})
	case "switchTo":
		if req.Instance == nil {
			return fail(req, "switchTo requires instance")
		}
		if err := m.SwitchTo(*req.Instance); err != nil {
			return fail(req, "switchTo: %v", err)
		}
		return ok(req, nil)
	case "startInstance":
		if req.Instance == nil {
			return fail(req, "startInstance requires instance")
		}
		if err := m.StartInstance(*req.Instance); err != nil {
			return fail(req, "startInstance: %v", err)
		}
		return ok(req, nil)
	case "stopInstance":
		if req.Instance == nil {
			return fail(req, "stopInstance requires instance")
		}
		if err := m.StopInstance(*req.Instance); err != nil {
			return fail(req, "stopInstance: %v", err)
		}
		return ok(req, nil)
	case "deleteInstance":
		if req.Instance == nil {
			return fail(req, "deleteInstance requires instance")
		}
		if err := m.DeleteInstance(*req.Instance); err != nil {
			return fail(req, "deleteInstance: %v", err)
		}
		return ok(req, nil)
	case "saveName":
		if req.Instance == nil || req.Name == "" {
			return fail(req, "saveName requires instance and name")
		}
		if err := m.Rename(*req.Instance, req.Name); err != nil {
			return fail(req, "saveName: %v", err)
		}
		return ok(req, nil)
	}
	return fail(req, "unknown instance subcommand %q", req.Subcommand)
}

func (s *Server) handleLedDevice(req Request) Reply {
	build, okB := driver.Builders()[req.LedDevice]
	if !okB {
		return fail(req, "unknown ledDeviceType %q", req.LedDevice)
	}
	d := build()
	switch req.Subcommand {
	case "discover":
		list, err := d.Discover(req.Params)
		if err != nil {
			return fail(req, "discover: %v", err)
		}
		return ok(req, map[string]interface{}{"devices": list})
	case "getProperties":
		props, err := d.GetProperties(req.Params)
		if err != nil {
			return fail(req, "getProperties: %v", err)
		}
		return ok(req, props)
	case "identify":
		if err := d.Identify(req.Params); err != nil {
			return fail(req, "identify: %v", err)
		}
		return ok(req, nil)
	}
	return fail(req, "unknown leddevice subcommand %q", req.Subcommand)
}

func (s *Server) handleSmoothing(req Request) Reply {
	in, r, okT := s.target(req)
	if !okT {
		return r
	}
	if req.Smoothing == nil {
		return fail(req, "smoothing requires parameters")
	}
	in.SetSmoothingConfig(smoothing.Config{
		ID:                req.Smoothing.ID,
		SettlingTimeMs:    req.Smoothing.SettlingTimeMs,
		UpdateFrequencyHz: req.Smoothing.UpdateFrequencyHz,
		DirectMode:        req.Smoothing.DirectMode,
	})
	return ok(req, nil)
}

func (s *Server) handleAuthorize(req Request) Reply {
	if s.opts.Store == nil {
		return fail(req, "authorization store not available")
	}
	switch req.Subcommand {
	case "tokenRequired":
		required := len(s.opts.Store.Keys(store.KindToken)) > 0
		return ok(req, map[string]bool{"required": required})
	case "login":
		if req.Token == "" {
			return fail(req, "login requires token")
		}
		if _, found := s.opts.Store.Get(store.Key{Kind: store.KindToken, ID: req.Token}); !found {
			return fail(req, "invalid token")
		}
		return ok(req, nil)
	case "createToken":
		raw := make([]byte, 18)
		if _, err := rand.Read(raw); err != nil {
			return fail(req, "token generation failed")
		}
		token := hex.EncodeToString(raw)
		label := req.Comment
		if label == "" {
			label = "unnamed"
		}
		if err := s.opts.Store.Put(store.Key{Kind: store.KindToken, ID: token}, []byte(label)); err != nil {
			return fail(req, "token store failed: %v", err)
		}
		return ok(req, map[string]string{"token": token, "comment": label})
	}
	return fail(req, "unknown authorize subcommand %q", req.Subcommand)
}
