/*
DESCRIPTION
  hyperhdr is the ambient-lighting engine daemon: it hosts the instance
  manager, the capture/decode pipeline, the JSON command endpoint and the
  remote feed listener, against settings persisted under --userdata.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package main is the hyperhdr daemon entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/hyperhdr/hyperhdr/capture"
	"github.com/hyperhdr/hyperhdr/config"
	"github.com/hyperhdr/hyperhdr/decode"
	img "github.com/hyperhdr/hyperhdr/image"
	"github.com/hyperhdr/hyperhdr/instance"
	"github.com/hyperhdr/hyperhdr/perfstat"
	"github.com/hyperhdr/hyperhdr/rpc"
	"github.com/hyperhdr/hyperhdr/store"
)

const version = "21.0.0"

// Logging configuration for --service mode.
const (
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		userdata       = pflag.String("userdata", defaultUserData(), "base path for settings, database and calibration files")
		resetPassword  = pflag.Bool("resetPassword", false, "interactively set a new admin password, then exit")
		deleteDatabase = pflag.Bool("deleteDatabase", false, "remove the settings database before starting")
		silent         = pflag.Bool("silent", false, "log errors only")
		verbose        = pflag.Bool("verbose", false, "log informational messages")
		debug          = pflag.Bool("debug", false, "log everything")
		desktop        = pflag.Bool("desktop", false, "run attached to the desktop session")
		service        = pflag.Bool("service", false, "run as a background service with file logging")
		waitHyperHDR   = pflag.Bool("wait-hyperhdr", false, "wait for a running instance to exit before starting")
		showVersion    = pflag.Bool("version", false, "print the version and exit")
		rpcAddress     = pflag.String("rpc-address", ":19444", "JSON command endpoint listen address")
		feedAddress    = pflag.String("feed-address", ":19400", "remote image feed listen address")
		captureDevice  = pflag.String("capture-device", "", "V4L2 capture device node; empty disables local capture")
		captureWidth   = pflag.Uint("capture-width", 0, "requested capture width (0 = default 640)")
		captureHeight  = pflag.Uint("capture-height", 0, "requested capture height (0 = default 480)")
		captureFPS     = pflag.Uint("capture-fps", 0, "requested capture frame rate (0 = default 30)")
		lutPath        = pflag.String("lut", "", "HDR tone-mapping calibration LUT file; empty disables tone mapping")
		qFrame         = pflag.Bool("qframe", false, "decode at half resolution to halve CPU cost")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	// Quiets the avahi compatibility shim some discovery stacks pull in.
	os.Setenv("AVAHI_COMPAT_NOWARN", "1")

	level := logging.Warning
	switch {
	case *debug:
		level = logging.Debug
	case *verbose:
		level = logging.Info
	case *silent:
		level = logging.Error
	}

	var sink io.Writer = os.Stderr
	if *service && !*desktop {
		sink = &lumberjack.Logger{
			Filename:   filepath.Join(*userdata, "log", "hyperhdr.log"),
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackup,
			MaxAge:     logMaxAge,
		}
	}
	log := logging.New(level, sink, false)
	log.Info("starting hyperhdr", "version", version)

	dbPath := filepath.Join(*userdata, "db", "hyperhdr.db")
	if *deleteDatabase {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			log.Error("could not delete database", "path", dbPath, "error", err.Error())
			return 1
		}
		log.Info("database deleted", "path", dbPath)
	}

	if *waitHyperHDR {
		waitForShutdown(*rpcAddress, log)
	}

	st, err := store.Open(dbPath, log)
	if err != nil {
		log.Error("could not open settings store", "path", dbPath, "error", err.Error())
		return 1
	}

	if *resetPassword {
		return doResetPassword(st, log)
	}

	cfg := config.Config{
		Logger:             log,
		UserDataPath:       *userdata,
		RPCAddress:         *rpcAddress,
		CaptureDevice:      *captureDevice,
		CaptureWidth:       *captureWidth,
		CaptureHeight:      *captureHeight,
		CaptureFPS:         *captureFPS,
		ToneMappingLUTPath: *lutPath,
		QFrame:             *qFrame,
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err.Error())
		return 1
	}

	manager := instance.NewManager(log)
	counters := perfstat.New()

	server, err := rpc.NewServer(rpc.Options{
		Manager:  manager,
		Store:    st,
		Counters: counters,
		Log:      log,
	})
	if err != nil {
		log.Error("could not build command server", "error", err.Error())
		return 1
	}
	httpSrv, _, err := server.Serve(cfg.RPCAddress)
	if err != nil {
		log.Error("could not start command endpoint", "error", err.Error())
		return 1
	}
	log.Info("command endpoint listening", "address", cfg.RPCAddress)

	feed, err := rpc.NewFeedServer(rpc.FeedConfig{Address: *feedAddress, Priority: 100}, manager, log)
	if err != nil {
		log.Error("could not start feed listener", "error", err.Error())
		return 1
	}
	feed.Run()
	log.Info("remote feed listening", "address", *feedAddress)

	if err := manager.StartAll(context.Background()); err != nil {
		log.Warning("not every instance started", "error", err.Error())
	}

	grabber, pool, lutWatcher, err := startCapture(cfg, manager, counters, log)
	if err != nil {
		log.Error("could not start local capture", "error", err.Error())
		return 1
	}

	if *service {
		daemon.SdNotify(false, daemon.SdNotifyReady)
		if interval, werr := daemon.SdWatchdogEnabled(false); werr == nil && interval > 0 {
			go func() {
				for range time.Tick(interval / 2) {
					daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	if *service {
		daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grabber != nil {
		grabber.Stop()
		pool.Wait()
	}
	if lutWatcher != nil {
		lutWatcher.Close()
	}
	feed.Close()
	httpSrv.Shutdown(ctx)
	if err := manager.StopAll(ctx); err != nil {
		log.Warning("not every instance stopped cleanly", "error", err.Error())
	}
	return 0
}

// captureFrameTimeoutMs bounds how long the last capture frame stays
// visible after the grabber stalls, so lower-priority sources take over.
const captureFrameTimeoutMs = 3000

// startCapture opens the local capture device, if one is configured, and
// fans its decoded frames out to every running instance: grabber ->
// decode worker pool -> Manager.BroadcastFrame. Returns nils when no
// device is configured.
func startCapture(cfg config.Config, manager *instance.Manager, counters *perfstat.Counters, log logging.Logger) (*capture.V4L2Grabber, *capture.Pool, *decode.Watcher, error) {
	if cfg.CaptureDevice == "" {
		return nil, nil, nil, nil
	}

	var lutWatcher *decode.Watcher
	if cfg.ToneMappingLUTPath != "" {
		var err error
		lutWatcher, err = decode.NewWatcher(cfg.ToneMappingLUTPath, decode.FamilyYUV, log)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	decodeFrame := func(raw capture.RawFrame) (*img.Image[img.RGB8], error) {
		opts := decode.Options{
			Format: raw.Format,
			Width:  raw.Width,
			Height: raw.Height,
			Stride: raw.Stride,
			Crop: decode.Crop{
				Left: raw.Crop.Left, Right: raw.Crop.Right,
				Top: raw.Crop.Top, Bottom: raw.Crop.Bottom,
			},
			QFrame: cfg.QFrame,
		}
		if lutWatcher != nil {
			opts.ToneMapping = true
			opts.LUT = lutWatcher.Current()
		}
		return decode.Decode(raw.Data, opts)
	}

	pool := capture.NewPool(int(cfg.DecodeWorkers), int(cfg.Decimation), decodeFrame,
		func(image *img.Image[img.RGB8]) {
			counters.RecordGood(image.Width() * image.Height() * 3)
			manager.BroadcastFrame(image, "VIDEOGRABBER", cfg.CaptureDevice, 0, captureFrameTimeoutMs)
		},
		counters.RecordBad)

	grabber := capture.NewV4L2Grabber(log, cfg.CaptureDevice, pool.Submit, func(err error) {
		log.Error("capture device failed", "device", cfg.CaptureDevice, "error", err.Error())
	})
	want := capture.Mode{
		Width:  int(cfg.CaptureWidth),
		Height: int(cfg.CaptureHeight),
		FPS:    int(cfg.CaptureFPS),
	}
	if err := grabber.Start(want); err != nil {
		if lutWatcher != nil {
			lutWatcher.Close()
		}
		return nil, nil, nil, err
	}
	log.Info("capture started", "device", cfg.CaptureDevice)
	return grabber, pool, lutWatcher, nil
}

// doResetPassword prompts for a password without echo and replaces every
// stored token with one derived from it.
func doResetPassword(st *store.Store, log logging.Logger) int {
	fmt.Fprint(os.Stderr, "new password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Error("could not read password", "error", err.Error())
		return 1
	}
	if len(pw) == 0 {
		log.Error("empty password rejected")
		return 1
	}
	for _, id := range st.Keys(store.KindToken) {
		st.Delete(store.Key{Kind: store.KindToken, ID: id})
	}
	if err := st.Put(store.Key{Kind: store.KindToken, ID: string(pw)}, []byte("admin")); err != nil {
		log.Error("could not store password", "error", err.Error())
		return 1
	}
	log.Info("password reset; previous tokens revoked")
	return 0
}

// waitForShutdown polls the command endpoint of an already-running
// instance until it stops answering, so a service restart can hand over
// the listen ports cleanly.
func waitForShutdown(address string, log logging.Logger) {
	for i := 0; i < 60; i++ {
		conn, err := net.DialTimeout("tcp", address, time.Second)
		if err != nil {
			return
		}
		conn.Close()
		if i == 0 {
			log.Info("waiting for running hyperhdr to exit", "address", address)
		}
		time.Sleep(time.Second)
	}
	log.Warning("running hyperhdr never exited; continuing anyway")
}

func defaultUserData() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hyperhdr"
	}
	return filepath.Join(home, ".hyperhdr")
}
