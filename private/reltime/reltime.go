// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package reltime parses calendar offsets such as "2w3d" or "1y6mon" and
// applies them to instants.
package reltime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrInvalid is returned for strings that do not describe a non-zero offset.
var ErrInvalid = errs.Class("invalid relative time")

// Format describes the accepted grammar, used in help texts and log messages.
const Format = "<YEARS>y<MONTHS>mon<WEEKS>w<DAYS>d<HOURS>h<MINUTES>min<SECONDS>s"

var pattern = regexp.MustCompile(`^(?:(\d+)y)?(?:(\d+)mon)?(?:(\d+)w)?(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)min)?(?:(\d+)s)?$`)

// Offset is a relative calendar offset.
type Offset struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Parse parses s into an Offset. Components must appear in the order
// y, mon, w, d, h, min, s and each one is optional.
func Parse(s string) (Offset, error) {
	match := pattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return Offset{}, ErrInvalid.New("%q does not match %s", s, Format)
	}

	var values [7]int
	for i, group := range match[1:] {
		if group == "" {
			continue
		}
		v, err := strconv.Atoi(group)
		if err != nil {
			return Offset{}, ErrInvalid.New("%q: %v", s, err)
		}
		values[i] = v
	}

	offset := Offset{
		Years:   values[0],
		Months:  values[1],
		Weeks:   values[2],
		Days:    values[3],
		Hours:   values[4],
		Minutes: values[5],
		Seconds: values[6],
	}
	if offset.IsZero() {
		return Offset{}, ErrInvalid.New("%q is empty or zero", s)
	}
	return offset, nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(s string) Offset {
	offset, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return offset
}

// ParseOrDefault parses s and falls back to def when s is invalid. The
// fallback is logged with the option name so that a misconfiguration is
// visible.
func ParseOrDefault(log *zap.Logger, option, s, def string) Offset {
	offset, err := Parse(s)
	if err == nil {
		return offset
	}
	log.Warn("invalid relative time, using default",
		zap.String("option", option),
		zap.String("value", s),
		zap.String("default", def),
		zap.String("format", Format),
		zap.Error(err))
	return MustParse(def)
}

// IsZero returns true when all components are zero.
func (offset Offset) IsZero() bool {
	return offset == Offset{}
}

// Before returns from moved back by the offset. Years, months, weeks and days
// use calendar arithmetic, the rest is fixed length.
func (offset Offset) Before(from time.Time) time.Time {
	return from.
		AddDate(-offset.Years, -offset.Months, -(offset.Weeks*7 + offset.Days)).
		Add(-offset.clock())
}

// After returns from moved forward by the offset.
func (offset Offset) After(from time.Time) time.Time {
	return from.
		AddDate(offset.Years, offset.Months, offset.Weeks*7+offset.Days).
		Add(offset.clock())
}

// Elapsed reports whether more than the offset has passed between since and now.
func (offset Offset) Elapsed(since, now time.Time) bool {
	return since.Before(offset.Before(now))
}

func (offset Offset) clock() time.Duration {
	return time.Duration(offset.Hours)*time.Hour +
		time.Duration(offset.Minutes)*time.Minute +
		time.Duration(offset.Seconds)*time.Second
}

// String formats the offset in the same grammar Parse accepts.
func (offset Offset) String() string {
	var b strings.Builder
	write := func(v int, unit string) {
		if v != 0 {
			fmt.Fprintf(&b, "%d%s", v, unit)
		}
	}
	write(offset.Years, "y")
	write(offset.Months, "mon")
	write(offset.Weeks, "w")
	write(offset.Days, "d")
	write(offset.Hours, "h")
	write(offset.Minutes, "min")
	write(offset.Seconds, "s")
	return b.String()
}
