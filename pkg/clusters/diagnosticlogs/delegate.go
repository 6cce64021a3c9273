package diagnosticlogs

import (
	"errors"
	"time"
)

// Errors returned by log delegates and the BDX provider.
var (
	// ErrNoLogs is returned by StartLogCollection when no log exists for
	// the intent.
	ErrNoLogs = errors.New("diagnosticlogs: no logs for intent")

	// ErrUnknownSession is returned for a session handle the delegate did not issue.
	ErrUnknownSession = errors.New("diagnosticlogs: unknown log session")
)

// LogSessionHandle identifies one log collection session of a delegate.
type LogSessionHandle uint16

// LogSession is an open log collection session.
type LogSession struct {
	Handle LogSessionHandle

	// UTCTimestamp is when the log was captured. Zero if unknown.
	UTCTimestamp time.Time

	// TimeSinceBoot is the node uptime when the log was captured.
	// Nil if unknown.
	TimeSinceBoot *time.Duration
}

// LogDelegate is the source of diagnostic logs.
//
// Calls for one session never overlap, but CollectLog may run on a
// different goroutine from the other methods.
type LogDelegate interface {
	// StartLogCollection opens a session over the log for intent. It
	// returns ErrNoLogs when there is nothing to collect.
	StartLogCollection(intent Intent) (LogSession, error)

	// CollectLog copies the next part of the log into buf and reports how
	// many bytes it wrote and whether the log is exhausted.
	CollectLog(handle LogSessionHandle, buf []byte) (n int, endOfLog bool, err error)

	// EndLogCollection closes a session.
	EndLogCollection(handle LogSessionHandle) error

	// GetSizeForIntent returns the size of the log for intent, or ErrNoLogs.
	GetSizeForIntent(intent Intent) (int, error)
}
