package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/praxis-systems/aegis/pkg/contracts"
	"github.com/praxis-systems/aegis/pkg/ledger"
	"github.com/praxis-systems/aegis/pkg/observability"
	"github.com/praxis-systems/aegis/pkg/policy"
	"github.com/praxis-systems/aegis/pkg/reflexive"
)

// Server holds the engines behind the HTTP surface.
type Server struct {
	policy     *policy.Engine
	contracts  *contracts.Engine
	ledger     *ledger.Store
	reflexive  *reflexive.Engine
	logger     *slog.Logger
	obs        *observability.Provider
	limiter    *RateLimiter
	jwtSecret  string
	policyFile string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithObservability enables per-request tracing and metrics.
func WithObservability(obs *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = obs }
}

// WithRateLimit enables per-IP rate limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = NewRateLimiter(rps, burst) }
}

// WithJWTSecret enables Bearer-token actor extraction.
func WithJWTSecret(secret string) ServerOption {
	return func(s *Server) { s.jwtSecret = secret }
}

// WithPolicyFile sets the YAML file reloaded by POST /policy/reload.
func WithPolicyFile(path string) ServerOption {
	return func(s *Server) { s.policyFile = path }
}

// NewServer wires the engines into a server.
func NewServer(pe *policy.Engine, ce *contracts.Engine, ls *ledger.Store, re *reflexive.Engine, opts ...ServerOption) *Server {
	s := &Server{
		policy:    pe,
		contracts: ce,
		ledger:    ls,
		reflexive: re,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the full route table wrapped in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /policy/evaluate", s.handlePolicyEvaluate)
	mux.HandleFunc("GET /policy/policies", s.handlePolicyList)
	mux.HandleFunc("POST /policy/reload", s.handlePolicyReload)

	mux.HandleFunc("POST /contracts", s.handleContractCreate)
	mux.HandleFunc("GET /contracts", s.handleContractList)
	mux.HandleFunc("GET /contracts/statistics", s.handleContractStatistics)
	mux.HandleFunc("GET /contracts/{id}", s.handleContractGet)
	mux.HandleFunc("POST /contracts/{id}/propose", s.handleContractPropose)
	mux.HandleFunc("POST /contracts/{id}/sign", s.handleContractSign)
	mux.HandleFunc("POST /contracts/{id}/revoke", s.handleContractRevoke)

	mux.HandleFunc("POST /ledger/events", s.handleLedgerAppend)
	mux.HandleFunc("GET /ledger/entries/{seq}", s.handleLedgerEntry)
	mux.HandleFunc("GET /ledger/blocks/{n}", s.handleLedgerBlock)
	mux.HandleFunc("GET /ledger/verify/{n}", s.handleLedgerVerifyBlock)
	mux.HandleFunc("GET /ledger/verify-chain", s.handleLedgerVerifyChain)
	mux.HandleFunc("GET /ledger/proof/{seq}", s.handleLedgerProof)
	mux.HandleFunc("GET /ledger/statistics", s.handleLedgerStatistics)

	mux.HandleFunc("POST /core/simulate-risk", s.handleCoreSimulate)
	mux.HandleFunc("GET /core/status", s.handleCoreStatus)
	mux.HandleFunc("POST /core/submit-action", s.handleCoreSubmit)
	mux.HandleFunc("GET /core/monitor-stats", s.handleCoreMonitorStats)
	mux.HandleFunc("POST /core/risk-scenario", s.handleCoreRiskScenario)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var h http.Handler = mux
	h = WithJWTAuth(s.jwtSecret, h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = WithTracing(s.obs, h)
	h = WithAccessLog(s.logger, h)
	h = WithRequestID(h)
	return h
}
