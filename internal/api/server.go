package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/pkg/logger"
)

// DefaultMaxUploadBytes 限制上传代码包的大小。
const DefaultMaxUploadBytes int64 = 256 << 20

// Uploads 是 HTTP 层依赖的编排器能力。
type Uploads interface {
	StartUpload(ctx context.Context, upload scheduling.Upload) (orchestrator.Session, error)
	Session() orchestrator.Session
	Acknowledge() (orchestrator.Session, error)
	RequestCancel(ctx context.Context) (orchestrator.CancelResult, error)
	WalletAvailable() bool
	Reset() error
}

// Snapshots 是 HTTP 层依赖的对账存储能力。
type Snapshots interface {
	Refresh(ctx context.Context) error
	Snapshot() reconcile.Snapshot
	SelectDeployment(ctx context.Context, id string) (scheduling.DeploymentDetail, error)
	RefreshSelected(ctx context.Context) (scheduling.DeploymentDetail, error)
	SelectedDeploymentDetail() (scheduling.DeploymentDetail, bool)
	SelectedID() string
	ClearSelection()
	Reset()
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr           string
	uploads        Uploads
	snapshots      Snapshots
	journal        journal.Store
	maxUploadBytes int64
	settleGrace    time.Duration
	token          string
	log            *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithJournal 启用未支付会话查询接口。
func WithJournal(store journal.Store) Option {
	return func(s *Server) {
		s.journal = store
	}
}

// WithMaxUploadBytes 设置上传大小上限。
func WithMaxUploadBytes(limit int64) Option {
	return func(s *Server) {
		if limit > 0 {
			s.maxUploadBytes = limit
		}
	}
}

// WithSettleGrace 设置确认中条目被视为仍属于活动会话的时长，通常等于支付超时。
func WithSettleGrace(grace time.Duration) Option {
	return func(s *Server) {
		if grace > 0 {
			s.settleGrace = grace
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, uploads Uploads, snapshots Snapshots, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		uploads:        uploads,
		snapshots:      snapshots,
		maxUploadBytes: DefaultMaxUploadBytes,
		settleGrace:    orchestrator.DefaultPaymentTimeout,
		log:            logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(observe)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authenticate)
	v1.HandleFunc("/agents", s.handleAgents).Methods(http.MethodGet)
	v1.HandleFunc("/deployments", s.handleDeployments).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	// 具体路径需先于带参数的路径注册。
	v1.HandleFunc("/deployments/selected", s.handleSelected).Methods(http.MethodGet)
	v1.HandleFunc("/deployments/selected", s.handleClearSelection).Methods(http.MethodDelete)
	v1.HandleFunc("/deployments/selected/refresh", s.handleRefreshSelected).Methods(http.MethodPost)
	v1.HandleFunc("/deployments/selected/cancel", s.handleCancelSelected).Methods(http.MethodPost)
	v1.HandleFunc("/deployments/{id}/select", s.handleSelect).Methods(http.MethodPost)

	v1.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)
	v1.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/session", s.handleAcknowledge).Methods(http.MethodDelete)

	v1.HandleFunc("/payments/unpaid", s.handleUnpaid).Methods(http.MethodGet)
	v1.HandleFunc("/state", s.handleReset).Methods(http.MethodDelete)
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Code: "UNAVAILABLE", Message: "服务已关闭"}})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe 按路由模板记录请求指标。
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
