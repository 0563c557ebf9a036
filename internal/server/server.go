// Package server exposes the wallet analyses over HTTP. Every successful
// response carries the report encrypted for the configured public key.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/alerts"
	"github.com/liamashdown/walletsignal/internal/cache"
	"github.com/liamashdown/walletsignal/internal/cluster"
	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/humanity"
	"github.com/liamashdown/walletsignal/internal/ledger"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/ratelimit"
	"github.com/liamashdown/walletsignal/internal/score"
	"github.com/liamashdown/walletsignal/internal/sybil"
)

const alertTimeout = 10 * time.Second

// HumanityAnalyzer scores a wallet's activity history
type HumanityAnalyzer interface {
	Analyze(ctx context.Context, address string) (*humanity.Report, error)
}

// ClusterAnalyzer scores a wallet's funding cluster
type ClusterAnalyzer interface {
	Analyze(ctx context.Context, address string) (*cluster.Report, error)
}

// SybilDetector scores coordinated activity on a contract
type SybilDetector interface {
	Analyze(ctx context.Context, wallet, contract string) (*sybil.Report, error)
}

// Sealer encrypts a response payload
type Sealer interface {
	Encrypt(v any) (string, error)
}

// ResultCache stores serialized reports between requests
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. Cache may be nil.
type Deps struct {
	Humanity HumanityAnalyzer
	Cluster  ClusterAnalyzer
	Sybil    SybilDetector
	Sealer   Sealer
	Cache    ResultCache
	Alerts   alerts.Sender
	Clock    ratelimit.Clock
}

// Server routes analysis requests
type Server struct {
	cfg      *config.Config
	deps     Deps
	validate *validator.Validate
	log      *logrus.Logger
}

// New creates a server
func New(cfg *config.Config, deps Deps, log *logrus.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = ratelimit.SystemClock{}
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		log:      log,
	}
}

// Handler returns the routed, instrumented HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/humanity-score/{walletAddress}", s.handleHumanity)
	mux.HandleFunc("GET /api/cluster-analysis/{walletAddress}", s.handleCluster)
	mux.HandleFunc("GET /api/sybil-activity/{walletAddress}/{contractAddress}", s.handleSybil)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", s.handleWelcome)

	return s.withRequestLogging(mux)
}

// analysis describes one request's work for serve
type analysis struct {
	kind     score.Kind
	wallet   string
	contract string
	failure  string
	// run returns the report and whether the wallet had any activity
	run   func(ctx context.Context) (any, bool, error)
	empty func() any
	alert func(ctx context.Context, report any)
}

func (s *Server) handleHumanity(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("walletAddress")
	if !s.validAddress(wallet) {
		writeError(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}
	wallet = ledger.NormalizeAddress(wallet)

	s.serve(w, r, analysis{
		kind:    score.KindHumanity,
		wallet:  wallet,
		failure: "Failed to calculate humanity score",
		run: func(ctx context.Context) (any, bool, error) {
			report, err := s.deps.Humanity.Analyze(ctx, wallet)
			if err != nil {
				return nil, false, err
			}
			return report, report.HasActivity(), nil
		},
		empty: func() any { return humanity.Empty(wallet, s.deps.Clock.Now()) },
	})
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("walletAddress")
	if !s.validAddress(wallet) {
		writeError(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}
	wallet = ledger.NormalizeAddress(wallet)

	s.serve(w, r, analysis{
		kind:    score.KindCluster,
		wallet:  wallet,
		failure: "Failed to get cluster analysis",
		run: func(ctx context.Context) (any, bool, error) {
			report, err := s.deps.Cluster.Analyze(ctx, wallet)
			if err != nil {
				return nil, false, err
			}
			return report, report.HasActivity(), nil
		},
		empty: func() any { return cluster.Empty(wallet, s.deps.Clock.Now()) },
		alert: func(ctx context.Context, v any) {
			if report, ok := v.(*cluster.Report); ok {
				s.alertCluster(ctx, report)
			}
		},
	})
}

func (s *Server) handleSybil(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("walletAddress")
	contract := r.PathValue("contractAddress")
	if !s.validAddress(wallet) || !s.validAddress(contract) {
		writeError(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}
	wallet = ledger.NormalizeAddress(wallet)
	contract = ledger.NormalizeAddress(contract)

	s.serve(w, r, analysis{
		kind:     score.KindSybil,
		wallet:   wallet,
		contract: contract,
		failure:  "Failed to analyze Sybil activity",
		run: func(ctx context.Context) (any, bool, error) {
			report, err := s.deps.Sybil.Analyze(ctx, wallet, contract)
			if err != nil {
				return nil, false, err
			}
			return report, report.HasActivity(), nil
		},
		empty: func() any { return sybil.Empty(wallet, contract, s.deps.Clock.Now()) },
		alert: func(ctx context.Context, v any) {
			if report, ok := v.(*sybil.Report); ok {
				s.alertSybil(ctx, report)
			}
		},
	})
}

// serve runs one analysis through the cache, the empty-wallet policy,
// alerting and encryption
func (s *Server) serve(w http.ResponseWriter, r *http.Request, a analysis) {
	ctx := r.Context()
	log := s.log.WithFields(logrus.Fields{
		"kind":       a.kind,
		"wallet":     a.wallet,
		"request_id": requestIDFrom(ctx),
	})
	if a.contract != "" {
		log = log.WithField("contract", a.contract)
	}

	key := cache.Key(a.kind, a.wallet, a.contract)
	if cached, ok := s.cached(ctx, key, log); ok {
		s.respond(w, json.RawMessage(cached), a.failure, log)
		return
	}

	report, active, err := a.run(ctx)
	if err != nil {
		log.WithError(err).Error("Analysis failed")
		if s.cfg.BypassErrors {
			metrics.RecordEmptyAnalysis(string(a.kind))
			s.respond(w, a.empty(), a.failure, log)
			return
		}
		writeError(w, http.StatusInternalServerError, a.failure)
		return
	}

	if !active && (s.cfg.AllowEmptyWallets || s.cfg.BypassErrors) {
		log.Debug("No activity, serving empty result")
		metrics.RecordEmptyAnalysis(string(a.kind))
		s.respond(w, a.empty(), a.failure, log)
		return
	}

	s.store(ctx, key, report, log)

	if a.alert != nil {
		a.alert(ctx, report)
	}

	s.respond(w, report, a.failure, log)
}

func (s *Server) cached(ctx context.Context, key string, log *logrus.Entry) ([]byte, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	data, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Result cache lookup failed")
		return nil, false
	}
	return data, ok
}

func (s *Server) store(ctx context.Context, key string, report any, log *logrus.Entry) {
	if s.deps.Cache == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		log.WithError(err).Warn("Failed to serialize report for cache")
		return
	}
	if err := s.deps.Cache.Set(ctx, key, data); err != nil {
		log.WithError(err).Warn("Failed to cache report")
	}
}

func (s *Server) respond(w http.ResponseWriter, payload any, failure string, log *logrus.Entry) {
	sealed, err := s.deps.Sealer.Encrypt(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encrypt response")
		writeError(w, http.StatusInternalServerError, failure)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"data": sealed})
}

func (s *Server) validAddress(addr string) bool {
	return s.validate.Var(addr, "required,eth_addr") == nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Cache.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("Readiness check failed")
			metrics.RecordHealthCheck(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the walletsignal API"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
