/*
NAME
  instance.go

DESCRIPTION
  instance implements one Instance: the owner of one LED
  Layout, Priority Muxer, InfiniteProcessing chain, Smoothing engine and
  Driver, wired into the fixed pipeline order
  Muxer -> ImageToLeds -> InfiniteProcessing -> Smoothing -> Driver.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package instance implements the Instance Manager: named,
// independently lifecycled pipelines sharing a process-wide capture
// subsystem.
package instance

import (
	"errors"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/hyperhdr/hyperhdr/colorproc"
	"github.com/hyperhdr/hyperhdr/colorspace"
	"github.com/hyperhdr/hyperhdr/driver"
	img "github.com/hyperhdr/hyperhdr/image"
	"github.com/hyperhdr/hyperhdr/imagetoleds"
	"github.com/hyperhdr/hyperhdr/layout"
	"github.com/hyperhdr/hyperhdr/mux"
	"github.com/hyperhdr/hyperhdr/smoothing"
)

// State is an Instance's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// CapturePriority is the Priority Muxer channel the shared capture
// subsystem registers frames on for every Instance.
const CapturePriority = 1

// Options configures a new Instance. Layout, Driver and Log are required.
// A zero Reduction selects the mean; a zero Blackbar turns blackbar
// detection off; a nil SmoothingConfigs leaves only smoothing.DefaultConfig.
type Options struct {
	Name            string
	Index           uint8
	Layout          *layout.Layout
	Driver          driver.Driver
	DriverConfig    driver.Config
	Reduction       imagetoleds.Reduction
	Blackbar        imagetoleds.BlackbarConfig
	SmoothingConfig map[int]smoothing.Config
	Log             logging.Logger
}

// Instance owns one complete pipeline: a Layout, a Priority Muxer, an
// InfiniteProcessing chain, a Smoothing engine, a Driver, and a
// ComponentRegister. The Instance Manager exclusively owns
// Instances; sub-components hold non-owning references back to the
// Instance for signalling (state, onFrame callback).
type Instance struct {
	name  string
	index uint8

	layout    *layout.Layout
	muxer     *mux.Muxer
	processor *colorproc.Processor
	smoother  *smoothing.Engine
	drv       driver.Driver
	drvCfg    driver.Config
	dispatch  *driver.Dispatcher
	reduction imagetoleds.Reduction
	blackbar  imagetoleds.BlackbarConfig

	log logging.Logger

	mu        sync.Mutex
	state     State
	registry  map[string]bool // ComponentRegister: per-component enable map.
	onState   func(State)
	lastBadWr error
}

// New constructs an Instance from opts. The Instance starts in
// StateCreated; call Start to open its driver and begin the event loop.
func New(opts Options) (*Instance, error) {
	if opts.Layout == nil {
		return nil, errors.New("instance: layout required")
	}
	if opts.Driver == nil {
		return nil, errors.New("instance: driver required")
	}
	log := opts.Log
	if log == nil {
		return nil, errors.New("instance: logger required")
	}

	in := &Instance{
		name:      opts.Name,
		index:     opts.Index,
		layout:    opts.Layout,
		muxer:     mux.New(log),
		processor: colorproc.NewProcessor(),
		smoother:  smoothing.NewEngine(opts.SmoothingConfig),
		drv:       opts.Driver,
		drvCfg:    opts.DriverConfig,
		reduction: opts.Reduction,
		blackbar:  opts.Blackbar,
		log:       log,
		state:     StateCreated,
		registry:  make(map[string]bool),
	}
	in.muxer.OnVisiblePriorityChanged(func(int) { in.refreshVisible() })
	in.muxer.OnVisibleComponentChanged(func(string) { in.refreshVisible() })
	return in, nil
}

// Name returns the instance's display name.
func (in *Instance) Name() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.name
}

func (in *Instance) setName(name string) {
	in.mu.Lock()
	in.name = name
	in.mu.Unlock()
}

// LedCount returns the layout's LED count.
func (in *Instance) LedCount() int { return in.layout.Len() }

// Index returns the instance's numeric 8-bit index.
func (in *Instance) Index() uint8 { return in.index }

// State returns the instance's current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Instance) setState(s State) {
	in.mu.Lock()
	in.state = s
	cb := in.onState
	in.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// OnStateChanged registers the callback the Manager uses to relay
// instanceStateChanged.
func (in *Instance) OnStateChanged(f func(State)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onState = f
}

// SetComponentEnabled toggles one named component's enable flag in the
// ComponentRegister.
func (in *Instance) SetComponentEnabled(component string, enabled bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.registry[component] = enabled
}

// ComponentEnabled reports a component's enable flag; components absent
// from the register default to enabled.
func (in *Instance) ComponentEnabled(component string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	enabled, ok := in.registry[component]
	if !ok {
		return true
	}
	return enabled
}

// Processor exposes the InfiniteProcessing chain so callers can push
// settings/calibration updates (the `adjustment` and `processing` commands).
func (in *Instance) Processor() *colorproc.Processor { return in.processor }

// Muxer exposes the Priority Muxer so callers can register/clear/refresh
// input channels (the `color`, `image`, `effect`, `clear`, `clearall` and
// `sourceselect` commands).
func (in *Instance) Muxer() *mux.Muxer { return in.muxer }

// SetSmoothingConfig registers or replaces a named smoothing configuration
// (the `smoothing` command).
func (in *Instance) SetSmoothingConfig(c smoothing.Config) { in.smoother.SetConfig(c) }

// SetReduction replaces the image-to-LED averaging strategy.
func (in *Instance) SetReduction(r imagetoleds.Reduction) {
	in.mu.Lock()
	in.reduction = r
	in.mu.Unlock()
}

// SetBlackbar replaces the blackbar-detection configuration.
func (in *Instance) SetBlackbar(b imagetoleds.BlackbarConfig) {
	in.mu.Lock()
	in.blackbar = b
	in.mu.Unlock()
}

// CurrentColors returns the LED vector most recently handed to the
// transport, or nil before the first frame.
func (in *Instance) CurrentColors() []colorspace.Rgb {
	if in.dispatch == nil {
		return nil
	}
	return in.dispatch.LastFrame()
}

// RegisterInput creates or refreshes a Priority Muxer channel.
func (in *Instance) RegisterInput(priority int, component, origin, owner string, smoothingCfg int) {
	in.muxer.RegisterInput(priority, component, origin, owner, smoothingCfg)
}

// SetInputColors stores a color vector on priority's channel and refreshes
// the pipeline if that channel is currently visible.
func (in *Instance) SetInputColors(priority int, colors []colorspace.Rgb, timeoutMs int) bool {
	ok := in.muxer.SetInput(priority, colors, timeoutMs)
	if ok && in.muxer.Visible() == priority {
		in.refreshVisible()
	}
	return ok
}

// SetInputImage stores a decoded image on priority's channel (the shared
// capture subsystem calls this at CapturePriority for every enabled
// instance) and refreshes the pipeline if that channel is visible.
func (in *Instance) SetInputImage(priority int, image *img.Image[img.RGB8], timeoutMs int) bool {
	ok := in.muxer.SetInputImage(priority, image, timeoutMs)
	if ok && in.muxer.Visible() == priority {
		in.refreshVisible()
	}
	return ok
}

// SetInputInactive marks priority's channel dormant without removing it;
// the next SetInputColors/SetInputImage on that priority revives it.
func (in *Instance) SetInputInactive(priority int) {
	in.muxer.SetInputInactive(priority)
	in.refreshVisible()
}

// ClearInput removes one channel.
func (in *Instance) ClearInput(priority int) { in.muxer.ClearInput(priority); in.refreshVisible() }

// ClearAll removes every channel (force also removes sticky boot channels).
func (in *Instance) ClearAll(force bool) { in.muxer.ClearAll(force); in.refreshVisible() }

// refreshVisible runs the Muxer -> ImageToLeds -> InfiniteProcessing stage
// of the pipeline against whatever is currently visible and pushes the
// result into the Smoothing engine as a new target. The Smoothing engine's
// own tick cadence is what ultimately calls the driver.
func (in *Instance) refreshVisible() {
	in.mu.Lock()
	reduction, blackbar := in.reduction, in.blackbar
	in.mu.Unlock()

	var vec []colorspace.Rgb
	if image, ok := in.muxer.VisibleImage(); ok {
		if typed, ok := image.(*img.Image[img.RGB8]); ok {
			vec = imagetoleds.Reduce(typed, in.layout, reduction, blackbar)
		}
	} else if colors, ok := in.muxer.VisibleColors(); ok {
		vec = colors
	} else {
		return
	}

	lin := make([]colorspace.Linear, len(vec))
	for i, c := range vec {
		lin[i] = colorspace.Decode(c)
	}
	processed := in.processor.Process(lin)

	cfgID, _ := in.muxer.VisibleSmoothingConfig()
	in.smoother.SetTarget(processed, cfgID)
}

// Start opens the driver and begins the Smoothing engine's emission loop,
// transitioning Created/Stopped -> Starting -> Running (or -> Errored on
// failure).
func (in *Instance) Start() error {
	in.setState(StateStarting)
	if err := in.drv.Init(in.drvCfg); err != nil {
		in.setState(StateErrored)
		return err
	}
	if err := in.drv.Open(); err != nil {
		in.setState(StateErrored)
		return err
	}
	in.dispatch = driver.NewDispatcher(in.drv, in.layout.Len(), in.log, func(err error) {
		in.mu.Lock()
		in.lastBadWr = err
		in.mu.Unlock()
		in.setState(StateErrored)
		in.log.Log(2, "driver write failed", "instance", in.Name(), "error", err.Error())
	})
	in.smoother.Start(in.writeFrame)
	in.setState(StateRunning)
	return nil
}

// writeFrame is the Smoothing engine's emit callback: it hands the
// smoothed vector to the driver's dispatcher, which owns the network
// write.
func (in *Instance) writeFrame(colors []colorspace.Rgb) {
	in.dispatch.Submit(colors)
}

// LastWriteError returns the most recent driver write error, if any.
func (in *Instance) LastWriteError() error {
	in.mu.Lock()
	lastBad := in.lastBadWr
	in.mu.Unlock()
	if lastBad != nil {
		return lastBad
	}
	if in.dispatch != nil {
		return in.dispatch.LastError()
	}
	return nil
}

// Stop halts the Smoothing engine and closes the driver, transitioning
// Running -> Stopping -> Stopped.
func (in *Instance) Stop() error {
	in.setState(StateStopping)
	in.smoother.Stop()
	if in.dispatch != nil {
		in.dispatch.Close()
		in.dispatch = nil
	}
	err := in.drv.Close()
	in.setState(StateStopped)
	return err
}

// Close releases the instance's own resources (the Priority Muxer's
// watchdog goroutine) once it will never be started again.
func (in *Instance) Close() {
	in.muxer.Close()
}
