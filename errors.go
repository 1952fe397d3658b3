package oscring

import (
	"errors"
	"fmt"
)

// Code is a high-level error category, per the error-handling table.
type Code string

const (
	CodeBufferBusy                Code = "buffer busy"
	CodeBufferFull                Code = "buffer full"
	CodeOversizePayload           Code = "oversize payload"
	CodeBackpressure              Code = "backpressure"
	CodeSchedulerRetriesExhausted Code = "scheduler retries exhausted"
	CodeCorruptFrame              Code = "corrupt frame"
	CodeSequenceGap               Code = "sequence gap"
	CodeInvalidArgument           Code = "invalid argument"
	CodeNotAttached               Code = "not attached"
)

// Error is the structured error type returned and logged across the core.
// Op names the operation that failed ("Send", "SendImmediate",
// "Consumer.Attach", ...); Code is the stable category tests and callers
// switch on; Inner, when present, is the underlying cause.
type Error struct {
	Op     string
	Code   Code
	SeqGap uint32 // populated for CodeSequenceGap: the computed delta
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("oscring: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("oscring: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is(err, &Error{Code: CodeBufferFull}) match by code alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError builds an *Error with no wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewSequenceGapError builds the CodeSequenceGap error carrying the
// computed gap so callers can charge DroppedMessages by exactly that much.
func NewSequenceGapError(op string, gap uint32) *Error {
	return &Error{Op: op, Code: CodeSequenceGap, SeqGap: gap, Msg: fmt.Sprintf("sequence gap of %d", gap)}
}

// WrapError attaches op/code context to an existing error, preserving it
// as Inner for errors.Is/As and %w formatting.
func WrapError(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	if oe, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: oe.Code, SeqGap: oe.SeqGap, Msg: oe.Msg, Inner: oe.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is an *Error with the given Code.
func IsCode(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}
