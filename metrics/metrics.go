// Package metrics records per-transfer counters through OpenCensus stats
// and periodically logs the aggregated view, giving the teacher's
// go.opencensus.io dependency a concrete, if modest, home: it never
// influences protocol behavior, only operator-facing observability.
package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"groupshare/logging"
)

var (
	bytesSent = stats.Int64("groupshare/bytes_sent", "bytes streamed to a peer", stats.UnitBytes)
	bytesRecv = stats.Int64("groupshare/bytes_received", "bytes streamed from a peer", stats.UnitBytes)
	timeouts  = stats.Int64("groupshare/handshake_timeouts", "transfer handshakes that never connected", stats.UnitDimensionless)

	sentView = &view.View{
		Name:        "groupshare/bytes_sent_total",
		Measure:     bytesSent,
		Description: "cumulative bytes streamed to peers",
		Aggregation: view.Sum(),
	}
	recvView = &view.View{
		Name:        "groupshare/bytes_received_total",
		Measure:     bytesRecv,
		Description: "cumulative bytes streamed from peers",
		Aggregation: view.Sum(),
	}
	timeoutView = &view.View{
		Name:        "groupshare/handshake_timeouts_total",
		Measure:     timeouts,
		Description: "count of handshakes that timed out waiting for a peer",
		Aggregation: view.Count(),
	}
)

// Recorder owns the registered views and the exporter that periodically
// logs aggregated totals; outcomes are recorded with RecordSend and
// RecordReceive.
type Recorder struct {
	log    *logging.Logger
	cancel context.CancelFunc
}

// Start registers the views and the log exporter, and begins the periodic
// flush. Call Stop to unregister everything at shutdown.
func Start(log *logging.Logger, flushEvery time.Duration) (*Recorder, error) {
	if err := view.Register(sentView, recvView, timeoutView); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	exp := &logExporter{log: log}
	view.RegisterExporter(exp)
	view.SetReportingPeriod(flushEvery)

	r := &Recorder{log: log, cancel: cancel}
	go func() {
		<-ctx.Done()
		view.UnregisterExporter(exp)
		view.Unregister(sentView, recvView, timeoutView)
	}()
	return r, nil
}

// Stop unregisters the recorder's views and exporter.
func (r *Recorder) Stop() {
	r.cancel()
}

// RecordSend records a send-path transfer's outcome.
func RecordSend(ctx context.Context, n int64, timedOut bool) {
	if timedOut {
		stats.Record(ctx, timeouts.M(1))
		return
	}
	stats.Record(ctx, bytesSent.M(n))
}

// RecordReceive records a receive-path transfer's outcome.
func RecordReceive(ctx context.Context, n int64, timedOut bool) {
	if timedOut {
		stats.Record(ctx, timeouts.M(1))
		return
	}
	stats.Record(ctx, bytesRecv.M(n))
}

// logExporter is a minimal view.Exporter that logs each collected row.
type logExporter struct {
	log *logging.Logger
}

func (e *logExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		e.log.Infof("metrics: %s %s = %v", vd.View.Name, tagsString(row.Tags), row.Data)
	}
}

func tagsString(tags []tag.Tag) string {
	if len(tags) == 0 {
		return "{}"
	}
	out := "{"
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t.Key.Name() + "=" + t.Value
	}
	return out + "}"
}
