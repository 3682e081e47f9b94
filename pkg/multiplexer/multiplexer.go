// Package multiplexer routes Report/Get requests by payload kind to
// the component handler registered for it (spec section 4.1). Handlers
// run on a bounded worker pool; all mutation happens under each
// component's own lock, never at this layer.
package multiplexer

import (
	"context"

	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/metrics"
	"github.com/Ind1x1/dlock/pkg/wire"
	"github.com/rs/zerolog"
)

// ReportHandler mutates state for one payload kind and reports
// success.
type ReportHandler func(envelope wire.Envelope) bool

// GetHandler returns the encoded reply for one payload kind.
type GetHandler func(envelope wire.Envelope) []byte

// Multiplexer is the single entry point nodes issue Report and Get
// requests against.
type Multiplexer struct {
	reportHandlers map[string]ReportHandler
	getHandlers    map[string]GetHandler

	sem    chan struct{}
	logger zerolog.Logger
}

// New builds a Multiplexer with the given worker pool size. A
// non-positive size falls back to config.DefaultWorkerPoolSize.
func New(poolSize int) *Multiplexer {
	if poolSize <= 0 {
		poolSize = config.DefaultWorkerPoolSize
	}
	return &Multiplexer{
		reportHandlers: make(map[string]ReportHandler),
		getHandlers:    make(map[string]GetHandler),
		sem:            make(chan struct{}, poolSize),
		logger:         log.WithComponent("multiplexer"),
	}
}

// RegisterReport binds kind to a Report handler. Registration happens
// once at startup before any request is served; it is not safe to call
// concurrently with Report.
func (m *Multiplexer) RegisterReport(kind string, h ReportHandler) {
	m.reportHandlers[kind] = h
}

// RegisterGet binds kind to a Get handler, under the same registration
// contract as RegisterReport.
func (m *Multiplexer) RegisterGet(kind string, h GetHandler) {
	m.getHandlers[kind] = h
}

func (m *Multiplexer) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Multiplexer) release() {
	<-m.sem
}

// Report decodes the envelope, dispatches to the registered handler
// for its payload kind, and returns its success. An unknown kind, a
// context deadline, or a handler panic all report success=false —
// never an error (spec section 7).
func (m *Multiplexer) Report(ctx context.Context, env wire.Envelope) wire.Response {
	if err := m.acquire(ctx); err != nil {
		return wire.Response{Success: false}
	}
	defer m.release()

	timer := metrics.NewTimer()
	outcome := "unknown_kind"
	defer func() {
		timer.ObserveDurationVec(metrics.RequestDuration, "report", env.PayloadKind)
		metrics.RequestsTotal.WithLabelValues("report", env.PayloadKind, outcome).Inc()
	}()

	h, ok := m.reportHandlers[env.PayloadKind]
	if !ok {
		return wire.Response{Success: false}
	}

	success := m.callReportSafely(h, env)
	if success {
		outcome = "ok"
	} else {
		outcome = "rejected"
	}
	return wire.Response{Success: success}
}

func (m *Multiplexer) callReportSafely(h ReportHandler, env wire.Envelope) (success bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("kind", env.PayloadKind).Int64("node_id", env.NodeID).Msg("report handler panicked")
			success = false
		}
	}()
	return h(env)
}

// Get decodes the envelope, dispatches to the registered handler for
// its payload kind, and returns its encoded reply. An unknown kind, a
// context deadline, or a handler panic all return an empty payload.
func (m *Multiplexer) Get(ctx context.Context, env wire.Envelope) []byte {
	if err := m.acquire(ctx); err != nil {
		return nil
	}
	defer m.release()

	timer := metrics.NewTimer()
	outcome := "unknown_kind"
	defer func() {
		timer.ObserveDurationVec(metrics.RequestDuration, "get", env.PayloadKind)
		metrics.RequestsTotal.WithLabelValues("get", env.PayloadKind, outcome).Inc()
	}()

	h, ok := m.getHandlers[env.PayloadKind]
	if !ok {
		return nil
	}

	payload := m.callGetSafely(h, env)
	outcome = "ok"
	return payload
}

func (m *Multiplexer) callGetSafely(h GetHandler, env wire.Envelope) (payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("kind", env.PayloadKind).Int64("node_id", env.NodeID).Msg("get handler panicked")
			payload = nil
		}
	}()
	return h(env)
}
