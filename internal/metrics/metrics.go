package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Set is one process's collectors and the registry that serves them.
type Set struct {
	PollsTotal   *prometheus.CounterVec
	PollDuration prometheus.Histogram
	LoginsTotal  *prometheus.CounterVec
	Utilization  *prometheus.GaugeVec
	Polling      prometheus.Gauge

	Registry *prometheus.Registry
}

func NewSet() *Set {
	s := &Set{
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawtray_polls_total",
				Help: "Usage polls by outcome (ok, transport, error_response, unrecognized_response, ...)",
			},
			[]string{"outcome"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clawtray_poll_duration_seconds",
				Help:    "Time spent fetching usage",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawtray_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Utilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clawtray_utilization_percent",
				Help: "Last reported utilization per window",
			},
			[]string{"window"},
		),
		Polling: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawtray_polling",
				Help: "1 while the usage poll loop is running",
			},
		),
		Registry: prometheus.NewRegistry(),
	}
	s.Registry.MustRegister(
		s.PollsTotal,
		s.PollDuration,
		s.LoginsTotal,
		s.Utilization,
		s.Polling,
		collectors.NewGoCollector(),
	)
	return s
}

type Server struct {
	server *http.Server
	logger zerolog.Logger
}

func NewServer(addr string, set *Set, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(set.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start binds synchronously so a bad address is reported to the caller,
// then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	return s.server.Close()
}
