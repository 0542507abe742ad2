package telemetry

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event names
const (
	EventCodeIndexError = "code_index_error"
)

// Event is a structured error report
type Event struct {
	Name     string
	Error    string
	Stack    string
	Location string
}

// Sink receives telemetry events. Implementations must be safe for
// concurrent use and must not block.
type Sink interface {
	Capture(ctx context.Context, ev Event)
}

// Package-level Prometheus metrics, auto-registered via promauto.
var (
	// eventsTotal counts captured events.
	// Labels: event, location
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeindex",
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Total telemetry events by name and location",
	}, []string{"event", "location"})
)

// NewError builds an error event for location, capturing the current stack
func NewError(location string, err error) Event {
	ev := Event{
		Name:     EventCodeIndexError,
		Location: location,
		Stack:    string(debug.Stack()),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// LogSink logs events through slog and counts them in Prometheus
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger, or slog.Default when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "telemetry"))}
}

// Capture implements Sink
func (s *LogSink) Capture(ctx context.Context, ev Event) {
	eventsTotal.WithLabelValues(ev.Name, labelSafe(ev.Location)).Inc()
	s.logger.LogAttrs(ctx, slog.LevelWarn, "telemetry event",
		slog.String("event", ev.Name),
		slog.String("location", ev.Location),
		slog.String("error", ev.Error),
	)
	if ev.Stack != "" {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "telemetry stack",
			slog.String("location", ev.Location),
			slog.String("stack", ev.Stack),
		)
	}
}

// labelSafe keeps location labels low cardinality
func labelSafe(location string) string {
	if location == "" {
		return "unknown"
	}
	if i := strings.IndexAny(location, " :"); i > 0 {
		return location[:i]
	}
	return location
}

// Nop discards events
type Nop struct{}

// Capture implements Sink
func (Nop) Capture(context.Context, Event) {}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Capture implements Sink
func (r *Recorder) Capture(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the captured events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
