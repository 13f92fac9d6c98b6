package dsrtos

import (
	"io"

	"github.com/rs/zerolog"
)

// TraceLevel tags a Trace line, mirroring the level-tagged sink
// collaborator of spec.md §6.
type TraceLevel int

const (
	TraceDebug TraceLevel = iota
	TraceInfo
	TraceWarn
	TraceError
)

// Trace is the external trace-sink collaborator. The context-switch path
// (servicePendSV and everything it calls) calls Trace only for the
// cycle-budget warning, at the end of servicePendSV once the switch
// bookkeeping is done but before its critical section is released; the
// switch controller and migration engine call it as well.
type Trace interface {
	Tracef(level TraceLevel, format string, args ...any)
}

// NopTrace discards every line. Useful as a default in tests that don't
// care about diagnostics.
type NopTrace struct{}

func (NopTrace) Tracef(TraceLevel, string, ...any) {}

// zerologTrace adapts a zerolog.Logger to the Trace interface, the way
// logiface-zerolog narrows zerolog behind a small logging façade.
type zerologTrace struct {
	log zerolog.Logger
}

// NewZerologTrace returns a Trace backed by zerolog, writing to w.
func NewZerologTrace(w io.Writer) Trace {
	return &zerologTrace{log: zerolog.New(w).With().Timestamp().Logger()}
}

func (t *zerologTrace) Tracef(level TraceLevel, format string, args ...any) {
	var ev *zerolog.Event
	switch level {
	case TraceDebug:
		ev = t.log.Debug()
	case TraceWarn:
		ev = t.log.Warn()
	case TraceError:
		ev = t.log.Error()
	default:
		ev = t.log.Info()
	}
	ev.Msgf(format, args...)
}
