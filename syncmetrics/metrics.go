// Package syncmetrics exposes the two rolling rates the synchronizer
// reports as observable state: download speed and apply speed. Both
// are thin wrappers over github.com/rcrowley/go-metrics, the library
// the teacher's own metrics package is built on.
package syncmetrics

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Registry collects the syncer's rates so any rcrowley/go-metrics
// consumer (HTTP exporter, InfluxDB writer, etc.) can report them.
// Wiring an exporter is out of scope for the core; the registry hook
// is not.
type Registry struct {
	reg gometrics.Registry

	downloaded gometrics.Meter // blocks/sec rolling average
	applied    gometrics.EWMA  // 1-minute EWMA of applied blocks
	ticker     *time.Ticker
	done       chan struct{}
}

// NewRegistry constructs a Registry with fresh meters registered
// under the "sync" namespace.
func NewRegistry() *Registry {
	reg := gometrics.NewRegistry()
	r := &Registry{
		reg:        reg,
		downloaded: gometrics.NewMeter(),
		applied:    gometrics.NewEWMA1(), // alpha for a 1-minute decaying average
		done:       make(chan struct{}),
	}
	reg.Register("sync/download_speed", r.downloaded)
	reg.Register("sync/apply_speed", r.applied)
	r.ticker = time.NewTicker(5 * time.Second)
	go r.tick()
	return r
}

func (r *Registry) tick() {
	for {
		select {
		case <-r.ticker.C:
			r.applied.Tick()
		case <-r.done:
			return
		}
	}
}

// Close stops the EWMA's background ticking. Safe to call once.
func (r *Registry) Close() {
	r.ticker.Stop()
	close(r.done)
}

// RecordApplied marks n blocks as applied to the chain store.
func (r *Registry) RecordApplied(n int) {
	r.downloaded.Mark(int64(n))
	r.applied.Update(int64(n))
}

// DownloadSpeed returns the rolling average blocks/sec over the
// lifetime of the registry, per spec.md §6 "Observable state".
func (r *Registry) DownloadSpeed() float64 {
	return r.downloaded.RateMean()
}

// ApplySpeed returns the 1-minute EWMA of applied blocks/sec.
func (r *Registry) ApplySpeed() float64 {
	return r.applied.Rate()
}

// Snapshot is a read-only copy of the current rates.
type Snapshot struct {
	DownloadSpeed float64
	ApplySpeed    float64
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{DownloadSpeed: r.DownloadSpeed(), ApplySpeed: r.ApplySpeed()}
}

// Registry exposes the underlying gometrics.Registry for callers that
// want to wire in an exporter.
func (r *Registry) GoMetricsRegistry() gometrics.Registry { return r.reg }
