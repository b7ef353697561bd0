package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tileexport/exporter"
)

var MetricsInst *exporter.Metrics

// InitMetrics creates the export metrics and, when metrics.addr is set,
// serves them on /metrics until the process exits.
func InitMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	MetricsInst = exporter.NewMetrics(reg)

	if conf.Metrics.Addr == "" {
		return
	}
	srv := newMetricsServer(conf.Metrics.Addr, reg)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server on %s stopped, details: %s", srv.Addr, err)
		}
	}()
	log.Infof("serving metrics on %s/metrics", srv.Addr)

	SafeExitInst.Register(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
