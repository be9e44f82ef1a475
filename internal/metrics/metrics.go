package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the bot's collectors. A nil *Metrics is valid and records
// nothing, so components can take it as an optional dependency.
type Metrics struct {
	reg *prometheus.Registry

	menus         prometheus.Counter
	polls         prometheus.Counter
	answers       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	registrySize  prometheus.Gauge
	outboxPending prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		menus: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branchpoll_menus_total",
			Help: "Branch menus presented.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branchpoll_polls_created_total",
			Help: "Polls sent after a branch selection.",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchpoll_answers_total",
			Help: "Poll answers received, by where the answer label came from.",
		}, []string{"label_source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchpoll_deliveries_total",
			Help: "Response rows handed to the sheet, by outcome.",
		}, []string{"status"}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "branchpoll_registry_polls",
			Help: "Polls currently held in the in-memory registry.",
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "branchpoll_outbox_pending",
			Help: "Rows waiting in the outbox.",
		}),
	}
	m.reg.MustRegister(m.menus, m.polls, m.answers, m.deliveries, m.registrySize, m.outboxPending)
	return m
}

func (m *Metrics) MenuShown() {
	if m != nil {
		m.menus.Inc()
	}
}

func (m *Metrics) PollCreated() {
	if m != nil {
		m.polls.Inc()
	}
}

func (m *Metrics) AnswerReceived(labelSource string) {
	if m != nil {
		m.answers.WithLabelValues(labelSource).Inc()
	}
}

func (m *Metrics) Delivered(status string) {
	if m != nil {
		m.deliveries.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetRegistrySize(n int) {
	if m != nil {
		m.registrySize.Set(float64(n))
	}
}

func (m *Metrics) SetOutboxPending(n int) {
	if m != nil {
		m.outboxPending.Set(float64(n))
	}
}

// Handler exposes /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
