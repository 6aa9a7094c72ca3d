package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/retroplay/netplay/pkg/config"
	"github.com/retroplay/netplay/pkg/logger"
)

// Monitoring exposes the metrics and profiling endpoints of one
// running party.
type Monitoring struct {
	conf   config.Monitoring
	log    *logger.Logger
	server *http.Server
}

func New(conf config.Monitoring, log *logger.Logger) *Monitoring {
	addr := fmt.Sprintf(":%d", conf.Port)
	h := http.NewServeMux()

	if conf.ProfilingEnabled {
		prefix := conf.URLPrefix + "/debug/pprof"
		log.Info().Msgf("Profiling is enabled at %v", addr+prefix)
		h.HandleFunc(prefix+"/", pprof.Index)
		h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
		h.HandleFunc(prefix+"/profile", pprof.Profile)
		h.HandleFunc(prefix+"/symbol", pprof.Symbol)
		h.HandleFunc(prefix+"/trace", pprof.Trace)
		// pprof handlers for a custom path need to be explicit,
		// the index only renders its own page
		h.Handle(prefix+"/allocs", pprof.Handler("allocs"))
		h.Handle(prefix+"/block", pprof.Handler("block"))
		h.Handle(prefix+"/goroutine", pprof.Handler("goroutine"))
		h.Handle(prefix+"/heap", pprof.Handler("heap"))
		h.Handle(prefix+"/mutex", pprof.Handler("mutex"))
		h.Handle(prefix+"/threadcreate", pprof.Handler("threadcreate"))
	}

	if conf.MetricEnabled {
		metricPath := conf.URLPrefix + "/metrics"
		log.Info().Msgf("Prometheus metric is enabled at %v", addr+metricPath)
		h.Handle(metricPath, promhttp.Handler())
	}

	return &Monitoring{
		conf:   conf,
		log:    log,
		server: &http.Server{Addr: addr, Handler: h},
	}
}

func (m *Monitoring) Enabled() bool {
	return m.conf.Port > 0 && (m.conf.ProfilingEnabled || m.conf.MetricEnabled)
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.server.Addr)
	if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.log.Error().Err(err).Msg("monitoring server fail")
	}
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
