/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

// SetStderr controls whether log output also (or exclusively) goes to
// os.Stderr, mirroring the teacher's -logtostderr/-alsologtostderr flags
// without requiring callers to own a flag.FlagSet.
func SetStderr(only, also bool) {
	toStderr = only
	alsoToStderr = also
}
