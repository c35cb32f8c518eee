// Package conn implements the connection object (spec §4.4): the state
// machine, reconnection policy, and the single-threaded event loop that
// drives one TCP/TLS stream's reader and writer. Grounded on the
// teacher's transport per-connection goroutine ("collector"/send-loop
// idiom in the deleted transport/collect.go) generalized from a
// one-directional object stream into mpipc's bidirectional multiplexed
// message stream.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import "github.com/solidgo/mpipc/cmn"

// State is one node of the connection state machine (spec §3/§4.4):
// Raw -> Secure? -> Passive -> Active -> Stopping -> Stopped.
type State int

const (
	Raw State = iota
	Secure
	Passive
	Active
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Raw:
		return "Raw"
	case Secure:
		return "Secure"
	case Passive:
		return "Passive"
	case Active:
		return "Active"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Event is the set of inputs the connection's event loop reacts to
// (spec §4.4's event table).
type Event int

const (
	EvStart Event = iota
	EvEnterSecure
	EvEnterPassive
	EvEnterActive
	EvPoolPush
	EvCancel
	EvStopDelayed
	EvStopForce
	EvTimerKeepalive
	EvTimerInactivity
	EvStreamReadable
	EvStreamWritable
)

// transitions enumerates the legal (from, event) -> to moves; an event
// not listed for the current state is a no-op logic error (spec §4.4,
// ErrConnectionInvalidState / ErrConnectionEnterActiveRefused).
var transitions = map[State]map[Event]State{
	Raw: {
		EvStart:        Raw,
		EvEnterSecure:  Secure,
		EvEnterPassive: Passive,
		EvEnterActive:  Active,
		EvStopForce:    Stopped,
	},
	Secure: {
		EvEnterPassive: Passive,
		EvEnterActive:  Active,
		EvStopForce:    Stopped,
	},
	Passive: {
		EvEnterActive: Active,
		EvStopForce:   Stopped,
		EvStopDelayed: Stopping,
	},
	Active: {
		EvStopForce:   Stopped,
		EvStopDelayed: Stopping,
	},
	Stopping: {
		EvStopForce: Stopped,
	},
}

// Next computes the transition for (s, ev), or ErrConnectionInvalidState /
// ErrConnectionEnterActiveRefused if the event isn't legal from s.
func Next(s State, ev Event) (State, error) {
	row, ok := transitions[s]
	if !ok {
		return s, cmn.New(cmn.ErrConnectionInvalidState)
	}
	to, ok := row[ev]
	if !ok {
		if ev == EvEnterActive {
			return s, cmn.New(cmn.ErrConnectionEnterActiveRefused)
		}
		return s, cmn.New(cmn.ErrConnectionInvalidState)
	}
	return to, nil
}

// CanSendNonRaw reports whether s permits application messages to flow
// (spec §3: "Only Active connections may be selected for sending non-raw
// messages").
func CanSendNonRaw(s State) bool { return s == Active }
