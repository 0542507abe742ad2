// Package telemetry carries structured error events out of the index
// subsystem.
//
// Components report failures they recover from (cache load errors, reranker
// outages) and failures they propagate (search errors) through a Sink. The
// default LogSink writes a warning through slog and increments the
// codeindex_telemetry_events_total Prometheus counter.
package telemetry
