// Package cmn: error kinds. One flat family covering Connection, Message,
// Reader, Service and Compression failures, grounded one-for-one on
// original_source/solid/frame/ipc/src/ipcerror.cpp's error enum and
// spec.md §7.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the broad error family, mirroring the five buckets in
// spec.md §7.
type Kind int

const (
	KindConnection Kind = iota
	KindMessage
	KindReader
	KindService
	KindCompression
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindMessage:
		return "message"
	case KindReader:
		return "reader"
	case KindService:
		return "service"
	case KindCompression:
		return "compression"
	default:
		return "unknown"
	}
}

// Code enumerates every sentinel condition spec.md §7 names, in the same
// grouping order as ipcerror.cpp's enum.
type Code int

const (
	// Connection
	ErrConnectionInactivityTimeout Code = iota + 1
	ErrConnectionTooManyKeepAlive
	ErrConnectionKilled
	ErrConnectionLogic
	ErrConnectionResolveFailure
	ErrConnectionDelayedClose
	ErrConnectionEnterActiveRefused
	ErrConnectionStopping
	ErrConnectionInvalidState

	// Message
	ErrMessageCanceled
	ErrMessageConnection
	ErrMessageCanceledByPeer
	ErrMessageLost
	ErrMessageAlreadyCanceled

	// Reader
	ErrReaderInvalidPacketHeader
	ErrReaderInvalidMessageSwitch
	ErrReaderTooManyMultiplex

	// Service
	ErrServiceStopping
	ErrServiceUnknownMessageType
	ErrServiceServerOnly
	ErrServiceUnknownRecipient
	ErrServiceUnknownPool
	ErrServicePoolStopping
	ErrServicePoolFull
	ErrServiceUnknownConnection
	ErrServiceTooManyActiveConnections
	ErrServiceBadCastRequest
	ErrServiceBadCastResponse
	ErrServiceStartFailed
	ErrServiceStartListenerFailed
	ErrServiceInvalidConfig

	// Compression
	ErrCompressionUnavailable
	ErrCompressionEngineFailure
)

var codeText = map[Code]string{
	ErrConnectionInactivityTimeout:     "connection: timeout due to inactivity",
	ErrConnectionTooManyKeepAlive:      "connection: received too many keep-alive packets",
	ErrConnectionKilled:                "connection: killed",
	ErrConnectionLogic:                 "connection: logic error",
	ErrConnectionResolveFailure:        "connection: failed to resolve recipient name",
	ErrConnectionDelayedClose:          "connection: delayed close",
	ErrConnectionEnterActiveRefused:    "connection: enter-active refused",
	ErrConnectionStopping:              "connection: stopping",
	ErrConnectionInvalidState:          "connection: invalid state for requested transition",
	ErrMessageCanceled:                 "message: canceled",
	ErrMessageConnection:               "message: connection lost",
	ErrMessageCanceledByPeer:           "message: canceled by peer",
	ErrMessageLost:                     "message: lost (unknown response correlation id)",
	ErrMessageAlreadyCanceled:          "message: already canceled",
	ErrReaderInvalidPacketHeader:       "reader: invalid packet header",
	ErrReaderInvalidMessageSwitch:      "reader: invalid message switch",
	ErrReaderTooManyMultiplex:          "reader: too many multiplexed messages",
	ErrServiceStopping:                 "service: stopping",
	ErrServiceUnknownMessageType:       "service: unknown message type",
	ErrServiceServerOnly:               "service: server-only operation",
	ErrServiceUnknownRecipient:         "service: unknown recipient",
	ErrServiceUnknownPool:              "service: unknown pool",
	ErrServicePoolStopping:             "service: pool stopping",
	ErrServicePoolFull:                 "service: pool message queue full",
	ErrServiceUnknownConnection:        "service: unknown connection",
	ErrServiceTooManyActiveConnections: "service: too many active connections",
	ErrServiceBadCastRequest:           "service: bad cast (request)",
	ErrServiceBadCastResponse:          "service: bad cast (response)",
	ErrServiceStartFailed:              "service: start failed",
	ErrServiceStartListenerFailed:      "service: start listener failed",
	ErrServiceInvalidConfig:            "service: invalid configuration",
	ErrCompressionUnavailable:          "compression: engine unavailable",
	ErrCompressionEngineFailure:        "compression: engine failure",
}

func (c Code) Kind() Kind {
	switch {
	case c <= ErrConnectionInvalidState:
		return KindConnection
	case c <= ErrMessageAlreadyCanceled:
		return KindMessage
	case c <= ErrReaderTooManyMultiplex:
		return KindReader
	case c <= ErrServiceInvalidConfig:
		return KindService
	default:
		return KindCompression
	}
}

// Error is mpipc's single error type: a Code plus an optional wrapped
// cause, formatted the way the teacher formats its own sentinel errors
// ("(kind:code): text: cause").
type Error struct {
	Code  Code
	cause error
}

func New(code Code) *Error { return &Error{Code: code} }

func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	text := codeText[e.Code]
	if e.cause == nil {
		return fmt.Sprintf("(%s:%d): %s", e.Code.Kind(), e.Code, text)
	}
	return fmt.Sprintf("(%s:%d): %s: %v", e.Code.Kind(), e.Code, text, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Is reports whether err (or any error it wraps) is an mpipc *Error with
// the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
