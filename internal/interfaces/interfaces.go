// Package interfaces provides internal interface definitions for oscring.
// These are separate from the public interfaces in the root package to
// avoid circular imports between the root package and the internal
// packages that need to speak the same contracts (scheduler, frontend,
// control).
package interfaces

import "time"

// Codec is the external OSC collaborator: the core never interprets OSC
// addresses or arguments itself, it only frames and schedules bytes.
type Codec interface {
	Encode(address string, args []any) ([]byte, error)
	Decode(payload []byte) (address string, args []any, err error)
	ExtractBundleMessages(bundle []byte) ([][]byte, error)
}

// Clock is a monotonic clock with at least millisecond resolution.
type Clock interface {
	Now() time.Time
}

// Logger is the minimal structured-logging facade every component
// depends on. Implementations must be safe for concurrent use.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observer receives structured error and dispatch events. Implementations
// must be safe for concurrent use; methods are called from producer
// threads, the scheduler's goroutine, and the consumer's drain loops.
type Observer interface {
	OnError(kind string, err error)
	OnDispatch(sessionID uint32, runTag string, attempts uint32)
	OnCancel(sessionID uint32, runTag string, removed int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) OnError(string, error)            {}
func (NoOpObserver) OnDispatch(uint32, string, uint32) {}
func (NoOpObserver) OnCancel(uint32, string, int)      {}

var _ Observer = NoOpObserver{}

// SchedulerSink is everything the pre-scheduler reports into: dispatch/
// cancel/error events (Observer) plus the depth gauges spec §4.4 step 4
// asks every dispatch cycle to publish.
type SchedulerSink interface {
	Observer
	SetPendingDepth(depth uint32)
	SetRetryDepth(depth uint32)
	IncBundlesScheduled()
	IncMessagesDropped()
}

// NoOpSchedulerSink discards every event and gauge update.
type NoOpSchedulerSink struct{ NoOpObserver }

func (NoOpSchedulerSink) SetPendingDepth(uint32) {}
func (NoOpSchedulerSink) SetRetryDepth(uint32)   {}
func (NoOpSchedulerSink) IncBundlesScheduled()   {}
func (NoOpSchedulerSink) IncMessagesDropped()    {}

var _ SchedulerSink = NoOpSchedulerSink{}
