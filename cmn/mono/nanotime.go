//go:build !mono

// Package mono provides low-level monotonic time.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// NanoTime is the portable fallback used unless built with `-tags mono`,
// which switches to the linkname-based runtime.nanotime (see fast_nanotime.go).
func NanoTime() int64 { return time.Now().UnixNano() }
