/*
NAME
  driver.go

DESCRIPTION
  driver.go defines the Driver abstraction every LED transport
  implements, plus the shared retry/backoff policy.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package driver defines the pluggable LED transport abstraction and its
// built-in implementations (UDP raw, ArtNet, E1.31/sACN, TPM2.net, WLED,
// Hue Entertainment, Yeelight, and local hardware strips).
package driver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// State is a device's current lifecycle state, surfaced to the Instance so
// it can propagate an enable-state change on fatal error.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateInError
)

// Properties is the JSON-serializable capability/state blob returned by
// getProperties and the per-device entries of discover.
type Properties map[string]interface{}

// Driver is the public contract every LED transport implements.
type Driver interface {
	Init(config Config) error
	Open() error
	Close() error
	SwitchOn() error
	SwitchOff() error
	StoreState() error
	RestoreState() error
	// Write transmits one finished frame. A non-nil error with
	// IsFatal(err)==false is recoverable: the Dispatcher logs it and writes
	// the next frame without reopening the driver. A fatal error marks the
	// device in error.
	Write(colors []colorspace.Rgb) error
	Discover(params Properties) (json.RawMessage, error)
	GetProperties(params Properties) (Properties, error)
	Identify(params Properties) error
}

// Config is the shared configuration every driver's Init validates a
// subset of; unused fields are ignored by a given transport.
type Config struct {
	Address         string
	Port            int
	LEDCount        int
	RetryPeriod     time.Duration // default 3s
	MaxRetry        int
	ByteOrder       colorspace.ByteOrder
	PreSharedKey    []byte // DTLS-PSK transports (Hue Entertainment, Nanoleaf).
	Username        string // bridge/app auth token.
	HueAPIVersion   int    // 0 = auto-probe; Open Question #2.
	RestoreOnClose  bool
}

// DefaultRetryPeriod is the default reopen backoff.
const DefaultRetryPeriod = 3 * time.Second

// FatalError marks a Write/Open failure as unrecoverable: the device is
// marked in-error and no further retry is scheduled.
type FatalError struct{ Err error }

func (e FatalError) Error() string { return e.Err.Error() }
func (e FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err should end the retry loop.
func IsFatal(err error) bool {
	_, ok := err.(FatalError)
	return ok
}

// RetryPolicy schedules Open() retries with a fixed backoff up to
// MaxRetry attempts. The retry is timer-scheduled rather than blocking,
// so the caller's event loop never stalls waiting out the backoff.
type RetryPolicy struct {
	Period   time.Duration
	MaxRetry int

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	stopped  bool
}

// NewRetryPolicy returns a policy using cfg's RetryPeriod/MaxRetry,
// defaulting period to DefaultRetryPeriod when unset.
func NewRetryPolicy(cfg Config) *RetryPolicy {
	period := cfg.RetryPeriod
	if period <= 0 {
		period = DefaultRetryPeriod
	}
	return &RetryPolicy{Period: period, MaxRetry: cfg.MaxRetry}
}

// Schedule arranges for reopen to run after Period, unless MaxRetry
// attempts have already been made (reopen is then never called again and
// Schedule returns false).
func (p *RetryPolicy) Schedule(reopen func() error, onFatal func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if p.MaxRetry > 0 && p.attempts >= p.MaxRetry {
		if onFatal != nil {
			onFatal()
		}
		return false
	}
	p.attempts++
	p.timer = time.AfterFunc(p.Period, func() {
		if err := reopen(); err != nil {
			p.Schedule(reopen, onFatal)
		} else {
			p.Reset()
		}
	})
	return true
}

// Reset clears the attempt counter after a successful open.
func (p *RetryPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
}

// Stop cancels any pending retry and prevents future scheduling, used by
// Close() to guarantee idempotency.
func (p *RetryPolicy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
