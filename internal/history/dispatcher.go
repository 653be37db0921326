package history

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"staffline/internal/domain"
)

const defaultBatch = 100

// Source is the audit event log the dispatcher follows.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Sink receives audit events. Deliver is retried from the same event on the
// next pass when it fails.
type Sink interface {
	Name() string
	Accepts(evt domain.Event) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

// Dispatcher hands new audit events to every sink. Each sink keeps its own
// cursor, which starts at the newest event when the dispatcher first runs.
type Dispatcher struct {
	source  Source
	sinks   []Sink
	batch   int
	mu      sync.Mutex
	cursors map[int]int64
	logger  *log.Entry
}

func NewDispatcher(source Source, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		source:  source,
		sinks:   sinks,
		batch:   defaultBatch,
		cursors: make(map[int]int64),
		logger:  log.WithField("component", "history"),
	}
}

// Len reports the number of configured sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// DispatchOnce runs one delivery pass and returns how many deliveries succeeded.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	delivered := 0
	for i, sink := range d.sinks {
		delivered += d.dispatchSink(ctx, i, sink)
	}
	return delivered
}

func (d *Dispatcher) dispatchSink(ctx context.Context, idx int, sink Sink) int {
	logger := d.logger.WithField("sink", sink.Name())
	cursor, ok := d.cursorFor(ctx, idx, logger)
	if !ok {
		return 0
	}
	events, err := d.source.EventsAfter(ctx, d.batch, cursor)
	if err != nil {
		logger.WithError(err).Warn("fetch events failed")
		return 0
	}
	delivered := 0
	for _, evt := range events {
		if ctx.Err() != nil {
			return delivered
		}
		if !sink.Accepts(evt) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := sink.Deliver(ctx, evt); err != nil {
			logger.WithError(err).WithField("event_id", evt.ID).Warn("delivery failed")
			return delivered
		}
		delivered++
		d.setCursor(idx, evt.ID)
	}
	return delivered
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int, logger *log.Entry) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		logger.WithError(err).Warn("init cursor failed")
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(activities []string) eventFilter {
	set := make(map[string]struct{}, len(activities))
	for _, a := range activities {
		key := strings.ToUpper(strings.TrimSpace(a))
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(activity string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[activity]
	return ok
}
