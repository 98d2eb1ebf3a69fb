package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"moneta/internal/auth"
	"moneta/internal/core"
	"moneta/internal/ledger"
	"moneta/internal/log"
	"moneta/internal/middleware/ratelimit"
	"moneta/internal/middleware/security"
	"moneta/internal/middleware/trace"
)

// Ledger is the service surface the API exposes.
type Ledger interface {
	RecordTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	Transactions(ctx context.Context) ([]core.Transaction, error)
	DayGroups(ctx context.Context) ([]core.DayGroup, error)
	Summary(ctx context.Context) (core.Summary, error)
	SubscribeTransactions(ctx context.Context) (<-chan []core.Transaction, error)

	CreateBudget(ctx context.Context, category string, limit core.Money) (core.Budget, error)
	Budgets(ctx context.Context) ([]core.Budget, error)
	UpdateBudgetLimit(ctx context.Context, id string, limit core.Money) (core.Budget, error)
	DeleteBudget(ctx context.Context, id string) error
	Categories(ctx context.Context, query string) ([]string, error)

	CreateBill(ctx context.Context, bill core.Bill) (core.Bill, error)
	Bills(ctx context.Context) ([]core.Bill, error)
	DueBills(ctx context.Context, today core.Date, days int) ([]core.Bill, error)
	DeleteBill(ctx context.Context, id string) error

	Aggregations(ctx context.Context, status core.AggregationStatus) ([]core.AggregationEvent, error)
	RetryFailedAggregations(ctx context.Context) (int, error)
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the API server.
type Config struct {
	Addr      string
	JWTSecret string
	RateLimit ratelimit.Config
	// DueHorizonDays is the default window for GET /api/bills/due.
	DueHorizonDays int
	// StreamHeartbeat is the SSE keep-alive comment interval.
	StreamHeartbeat time.Duration
	Logger          *log.Logger
	// Now overrides the clock for "today" defaults.
	Now func() time.Time
}

type Server struct {
	http.Server
	ledger   Ledger
	ready    Pinger
	auth     *auth.Manager
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Tracer
	logger   *log.StructuredLogger
	now      func() time.Time
	started  time.Time

	dueHorizon int
	heartbeat  time.Duration

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(cfg Config, l Ledger, ready Pinger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DueHorizonDays <= 0 {
		cfg.DueHorizonDays = 7
	}
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 25 * time.Second
	}
	if cfg.RateLimit == (ratelimit.Config{}) {
		cfg.RateLimit = ratelimit.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}

	detector := security.NewDetector()
	logger := log.NewStructuredLogger(cfg.Logger)

	s := &Server{
		ledger:     l,
		ready:      ready,
		auth:       auth.NewManager(cfg.JWTSecret),
		limiter:    ratelimit.NewLimiter(cfg.RateLimit),
		detector:   detector,
		tracer:     trace.NewTracer(detector.ClientIP, logger),
		logger:     logger,
		now:        cfg.Now,
		started:    cfg.Now(),
		dueHorizon: cfg.DueHorizonDays,
		heartbeat:  cfg.StreamHeartbeat,
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	api.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	api.HandleFunc("GET /api/transactions/days", s.handleDayGroups)
	api.HandleFunc("GET /api/transactions/stream", s.handleTransactionStream)

	api.HandleFunc("GET /api/budgets", s.handleListBudgets)
	api.HandleFunc("POST /api/budgets", s.handleCreateBudget)
	api.HandleFunc("PATCH /api/budgets/{id}", s.handleUpdateBudget)
	api.HandleFunc("DELETE /api/budgets/{id}", s.handleDeleteBudget)
	api.HandleFunc("GET /api/budgets/categories", s.handleCategories)

	api.HandleFunc("GET /api/bills", s.handleListBills)
	api.HandleFunc("POST /api/bills", s.handleCreateBill)
	api.HandleFunc("DELETE /api/bills/{id}", s.handleDeleteBill)
	api.HandleFunc("GET /api/bills/due", s.handleDueBills)

	api.HandleFunc("GET /api/summary", s.handleSummary)
	api.HandleFunc("GET /api/summary/chart.png", s.handleSummaryChart)

	api.HandleFunc("GET /api/aggregations", s.handleListAggregations)
	api.HandleFunc("POST /api/aggregations/retry", s.handleRetryAggregations)

	var protected http.Handler = api
	protected = s.auth.Middleware(s.writeAuthError)(protected)
	protected = s.limiter.Middleware(detector.ClientIP, writeRateLimited)(protected)

	mux := http.NewServeMux()
	mux.Handle("/api/", protected)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	var handler http.Handler = mux
	handler = s.tracer.Wrap(handler)
	handler = security.Headers(security.APIHeaders())(handler)
	handler = detector.Middleware(handler)
	handler = log.Middleware(cfg.Logger)(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the limiter cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

// fail logs server-side failures and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		user, _ := ledger.UserFromContext(r.Context())
		s.logger.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op,
			log.NewFields().WithRequestID(trace.RequestID(r.Context())).WithUser(user))
	}
	ErrorFrom(err).Write(w)
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
		DebugContext(r.Context(), "Rejected request", log.FieldError, err.Error())
	ErrorFrom(err).Header("WWW-Authenticate", "Bearer").Write(w)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]string{"state": "alive"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
			ErrorResponse(http.StatusServiceUnavailable, "storage backend unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Data(map[string]string{"state": "ready"}).Write(w)
}

type metricsView struct {
	UptimeSeconds int64                     `json:"uptimeSeconds"`
	Requests      trace.Metrics             `json:"requests"`
	RateLimit     ratelimit.Stats           `json:"rateLimit"`
	Security      security.DetectionMetrics `json:"security"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := metricsView{
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Requests:      s.tracer.Metrics(),
		RateLimit:     s.limiter.Stats(),
		Security:      s.detector.Metrics(),
	}
	NewJSONResponse().Data(m).Write(w)
}
