package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/RuiFG/streaming-merge/log"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
)

type metrics struct {
	scope  tally.Scope
	closer io.Closer
	server *http.Server
}

func newMetrics(logger log.Logger, address string) *metrics {
	registry := prom.NewRegistry()
	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer:               registry,
		Gatherer:                 registry,
		DefaultTimerType:         prometheus.HistogramTimerType,
		DefaultHistogramBuckets:  prometheus.DefaultHistogramBuckets(),
		DefaultSummaryObjectives: prometheus.DefaultSummaryObjectives(),
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         "streaming_merge",
		CachedReporter: reporter,
		Separator:      prometheus.DefaultSeparator,
	}, time.Second)
	m := &metrics{scope: scope, closer: closer}
	if address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reporter.HTTPHandler())
		m.server = &http.Server{Addr: address, Handler: mux}
		go func() {
			logger.Infof("serving %s/metrics", address)
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warnw("metrics server stopped.", "err", err)
			}
		}()
	}
	return m
}

func (m *metrics) Close() error {
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.server.Shutdown(ctx)
	}
	return m.closer.Close()
}
