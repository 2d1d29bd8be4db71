// Package autopost decides whether a lifecycle transition is announced and
// performs the dispatch.
package autopost

import (
	"fmt"
	"strings"

	"livenotify/internal/model"
)

// Policy is the normalized operator posting policy.
type Policy uint8

// Policy bits.
const (
	PostSchedule Policy = 1 << iota
	PostLive
	PostArchive
)

// Policy presets.
const (
	PostOff Policy = 0
	PostAll Policy = PostSchedule | PostLive | PostArchive
)

// Mode names accepted by ParseMode.
const (
	ModeOff      = "off"
	ModeAll      = "all"
	ModeSchedule = "schedule"
	ModeLive     = "live"
	ModeArchive  = "archive"
)

// ParseMode resolves a unified operator mode.
func ParseMode(mode string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeOff:
		return PostOff, nil
	case ModeAll:
		return PostAll, nil
	case ModeSchedule:
		return PostSchedule, nil
	case ModeLive:
		return PostLive, nil
	case ModeArchive:
		return PostArchive, nil
	}
	return PostOff, fmt.Errorf("unknown autopost mode %q", mode)
}

// FromBooleans resolves the three independent manual switches.
func FromBooleans(onSchedule, onLive, onArchive bool) Policy {
	var p Policy
	if onSchedule {
		p |= PostSchedule
	}
	if onLive {
		p |= PostLive
	}
	if onArchive {
		p |= PostArchive
	}
	return p
}

// ShouldNotify reports whether kind is announced under p.
func (p Policy) ShouldNotify(kind model.TransitionKind) bool {
	switch kind {
	case model.TransitionLiveStarted:
		return p&(PostSchedule|PostLive) != 0
	case model.TransitionLiveEnded:
		return p&PostLive != 0
	case model.TransitionArchiveAvailable:
		return p&PostArchive != 0
	}
	return false
}

func (p Policy) String() string {
	if p == PostOff {
		return ModeOff
	}
	var parts []string
	if p&PostSchedule != 0 {
		parts = append(parts, ModeSchedule)
	}
	if p&PostLive != 0 {
		parts = append(parts, ModeLive)
	}
	if p&PostArchive != 0 {
		parts = append(parts, ModeArchive)
	}
	return strings.Join(parts, "+")
}
