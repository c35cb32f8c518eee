// Package nlog is mpipc's logger: buffered, timestamped, leveled, safe for
// concurrent use from many connection-reactor goroutines at once.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/solidgo/mpipc/cmn/atomic"
	"github.com/solidgo/mpipc/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

const (
	// flushIval is how often the background flusher flushes the streams.
	flushIval = 250 * time.Millisecond
)

var MaxSize int64 = 64 * 1024 * 1024

type nlog struct {
	mu      sync.Mutex
	w       *bufio.Writer
	out     io.Writer
	file    *os.File
	written atomic.Int64
	last    atomic.Int64
	oob     atomic.Bool
}

var (
	once  sync.Once
	nlogs [3]*nlog

	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string
)

func initFiles() {
	for sev := range nlogs {
		n := &nlog{out: os.Stderr}
		if logDir != "" {
			if f, err := rotate(logDir, sevChar[sev], time.Now()); err == nil {
				n.file = f
				n.out = f
			}
		}
		n.w = bufio.NewWriterSize(n.out, 32*1024)
		nlogs[sev] = n
	}
	go flusher()
}

func flusher() {
	t := time.NewTicker(flushIval)
	for range t.C {
		Flush(false)
	}
}

// SetLogDirRole configures an on-disk log directory; role is cosmetic
// (e.g. "client", "server", "relay") and only affects the file name.
func SetLogDirRole(dir, _role string) { logDir = dir }
func SetTitle(s string)               { title = s }

func InfoLogName() string { return logFileName(sevChar[sevInfo]) }
func ErrLogName() string  { return logFileName(sevChar[sevErr]) }

func logFileName(c byte) string {
	return fmt.Sprintf("mpipc.%c.log", c)
}

func rotate(dir string, c byte, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("mpipc.%c.%s.log", c, now.Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if title != "" {
		fmt.Fprintln(f, title)
	}
	return f, nil
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	once.Do(initFiles)
	line := format1(sev, depth, format, args...)

	if toStderr || (alsoToStderr && sev < sevWarn) {
		os.Stderr.WriteString(line)
	}
	n := nlogs[sev]
	n.mu.Lock()
	n.w.WriteString(line)
	n.last.Store(mono.NanoTime())
	if sev >= sevWarn && nlogs[sevInfo] != n {
		nlogs[sevInfo].mu.Lock()
		nlogs[sevInfo].w.WriteString(line)
		nlogs[sevInfo].mu.Unlock()
	}
	if n.w.Buffered() > 16*1024 {
		n.oob.Store(true)
	}
	n.mu.Unlock()

	if sev >= sevErr {
		Flush(false)
	}
}

func format1(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 2); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Flush forces all buffered log data to the underlying writer(s); exit=true
// additionally syncs and closes any open file (called once, at shutdown).
func Flush(exit bool) {
	once.Do(initFiles)
	for _, n := range nlogs {
		n.mu.Lock()
		n.w.Flush()
		n.oob.Store(false)
		if exit && n.file != nil {
			n.file.Sync()
			n.file.Close()
		}
		n.mu.Unlock()
	}
}

// Since returns the time elapsed since the last write to the info or the
// error stream, whichever of the two was written longer ago.
func Since() time.Duration {
	once.Do(initFiles)
	now := mono.NanoTime()
	a := time.Duration(now - nlogs[sevInfo].last.Load())
	b := time.Duration(now - nlogs[sevErr].last.Load())
	if a > b {
		return a
	}
	return b
}

// OOB reports whether the info or the error stream has unflushed data past its
// preferred (soft) buffering threshold.
func OOB() bool {
	once.Do(initFiles)
	return nlogs[sevInfo].oob.Load() || nlogs[sevErr].oob.Load()
}
