package agent

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventPhase      EventKind = "phase"
	EventCommitment EventKind = "commitment"
	EventError      EventKind = "error"
)

type Event struct {
	Kind   EventKind
	Cycle  uint64
	Phase  Phase
	Detail string
	At     time.Time
}

// events fans out loop events to one buffered subscriber channel.
// Publishing never blocks; a slow consumer loses events, counted.
type events struct {
	ch      chan Event
	dropped atomic.Uint64
	log     *zap.Logger
}

func newEvents(buffer int, log *zap.Logger) *events {
	if buffer <= 0 {
		buffer = 64
	}
	return &events{ch: make(chan Event, buffer), log: log}
}

func (e *events) publish(ev Event) {
	select {
	case e.ch <- ev:
	default:
		if e.dropped.Add(1) == 1 && e.log != nil {
			e.log.Warn("event channel full, dropping events")
		}
	}
}
