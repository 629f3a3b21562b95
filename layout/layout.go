/*
NAME
  layout.go

DESCRIPTION
  layout describes the ordered ring of LEDs and the per-LED sample
  rectangles that ImageToLeds reduces an image against.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package layout provides the LED Layout data model.
package layout

import "fmt"

// Led describes one physical LED: its index in the hardware strip, its
// normalized sample rectangle, a calibration group tag, and whether it is
// disabled (disabled LEDs always receive black).
type Led struct {
	Index    int
	HMin     float64
	HMax     float64
	VMin     float64
	VMax     float64
	Group    string
	Disabled bool
}

// Layout is an ordered, fixed-length sequence of LEDs. Length only changes
// between reconfigurations.
type Layout struct {
	leds []Led
}

// New returns a Layout wrapping leds after validating it. The slice is
// copied so later external mutation of the caller's slice cannot corrupt the
// layout.
func New(leds []Led) (*Layout, error) {
	if err := Validate(leds); err != nil {
		return nil, err
	}
	cp := make([]Led, len(leds))
	copy(cp, leds)
	return &Layout{leds: cp}, nil
}

// Validate checks the LED Layout invariants: hmin<hmax, vmin<vmax for every
// LED, all within [0,1].
func Validate(leds []Led) error {
	var errs MultiError
	for i, l := range leds {
		if !(l.HMin < l.HMax) {
			errs = append(errs, fmt.Errorf("led %d: hmin (%v) must be < hmax (%v)", i, l.HMin, l.HMax))
		}
		if !(l.VMin < l.VMax) {
			errs = append(errs, fmt.Errorf("led %d: vmin (%v) must be < vmax (%v)", i, l.VMin, l.VMax))
		}
		if l.HMin < 0 || l.HMax > 1 || l.VMin < 0 || l.VMax > 1 {
			errs = append(errs, fmt.Errorf("led %d: sample rectangle must be within [0,1]^2", i))
		}
	}
	if len(errs) != 0 {
		return errs
	}
	return nil
}

// Len returns the number of LEDs in the layout.
func (lo *Layout) Len() int { return len(lo.leds) }

// At returns the LED at position i in layout order.
func (lo *Layout) At(i int) Led { return lo.leds[i] }

// All returns a read-only view of every LED in the layout.
func (lo *Layout) All() []Led { return lo.leds }

// MultiError aggregates validation errors into one error value.
type MultiError []error

func (me MultiError) Error() string {
	if len(me) == 0 {
		panic("layout: invalid use of MultiError")
	}
	return fmt.Sprintf("%v", []error(me))
}
