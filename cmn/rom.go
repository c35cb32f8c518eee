// Package cmn provides common constants, types, and utilities for mpipc.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// read-mostly and most often used timeouts: assign once at startup (and
// again on Reconfigure) to avoid taking GCO's pointer-load on every
// packet; see spec.md §5 ("protocol registry is read-only after service
// start") for the analogous reasoning applied to the protocol registry.

type readMostly struct {
	timeout struct {
		inactivity time.Duration
		keepalive  time.Duration
	}
	level, modules int
	authEnabled    bool
	relayEnabled   bool
}

var Rom readMostly

// Set refreshes the read-mostly cache from a newly (re)loaded Config;
// called once at Service start and again by Service.Reconfigure.
func (rom *readMostly) Set(cfg *Config) {
	rom.timeout.inactivity = cfg.InactivityTimeout()
	rom.timeout.keepalive = cfg.KeepaliveTimeout()
	rom.authEnabled = cfg.AuthEnabled
	rom.relayEnabled = cfg.RelayEnabled
	rom.level, rom.modules = cfg.Log.Level, cfg.Log.Modules
}

func (rom *readMostly) InactivityTimeout() time.Duration { return rom.timeout.inactivity }
func (rom *readMostly) KeepaliveTimeout() time.Duration  { return rom.timeout.keepalive }
func (rom *readMostly) AuthEnabled() bool                { return rom.authEnabled }
func (rom *readMostly) RelayEnabled() bool               { return rom.relayEnabled }

// FastV reports whether verbosity-gated tracing is enabled for module fl
// at the given level, without taking any lock.
func (rom *readMostly) FastV(verbosity, fl int) bool {
	return rom.level >= verbosity || rom.modules&fl != 0
}

func init() {
	Rom.Set(GCO.Get())
}
