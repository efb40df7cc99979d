package audit

import (
	"sync"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventUploadAccepted EventType = "upload_accepted"
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventRetryScheduled EventType = "retry_scheduled"
	EventTierEncoded    EventType = "tier_encoded"
	EventTierSkipped    EventType = "tier_skipped"
	EventCancelRequest  EventType = "cancel_requested"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventJobCancelled   EventType = "job_cancelled"
	EventJobRecovered   EventType = "job_recovered"
	EventCleanupFailed  EventType = "cleanup_failed"
)

// Event is one immutable audit entry.
type Event struct {
	Seq       uint64            `json:"seq"`
	UploadID  string            `json:"upload_id"`
	Type      EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Stage     string            `json:"stage,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// eventLog is a fixed-capacity ring; the oldest event is overwritten once
// full.
type eventLog struct {
	mu     sync.RWMutex
	buf    []Event
	next   int
	filled bool
	seq    uint64
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &eventLog{buf: make([]Event, capacity)}
}

func (l *eventLog) append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev.Seq = l.seq
	if len(ev.Attrs) > 0 {
		attrs := make(map[string]string, len(ev.Attrs))
		for k, v := range ev.Attrs {
			attrs[k] = v
		}
		ev.Attrs = attrs
	}
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.filled = true
	}
	return ev
}

// snapshot returns events oldest first that satisfy keep.
func (l *eventLog) snapshot(keep func(Event) bool) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	visit := func(ev Event) {
		if keep == nil || keep(ev) {
			out = append(out, ev)
		}
	}
	if l.filled {
		for _, ev := range l.buf[l.next:] {
			visit(ev)
		}
	}
	for _, ev := range l.buf[:l.next] {
		visit(ev)
	}
	return out
}

func (l *eventLog) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.filled {
		return len(l.buf)
	}
	return l.next
}
