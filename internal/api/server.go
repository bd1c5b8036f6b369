// Package api 对外暴露投保、理赔、身份与附件的 HTTP 接口，以及探针、审计查询与事件推送。
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"medpolicy/internal/config"
	"medpolicy/internal/lifecycle"
)

// ReadyCheck /readyz 的一项依赖检查。
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server 持有生命周期引擎并暴露 HTTP 接口。
// ledgerHandler、events 可选：非 nil 时分别挂载 /ledger/* 与 /events。
type Server struct {
	cfg           config.ServerConfig
	engine        *lifecycle.Engine
	log           logrus.FieldLogger
	ledgerHandler http.Handler
	events        http.Handler
	ready         []ReadyCheck
	now           func() time.Time
}

// NewServer 构造 Server。
func NewServer(cfg config.ServerConfig, engine *lifecycle.Engine, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		log:    log.WithField("component", "api"),
		now:    time.Now,
	}
}

// SetLedgerHandler 设置 /ledger/* 子路由；调用方传入已去掉 /ledger 前缀的 Handler。
func (s *Server) SetLedgerHandler(h http.Handler) {
	s.ledgerHandler = h
}

// SetEvents 设置 /events 的 websocket Handler。
func (s *Server) SetEvents(h http.Handler) {
	s.events = h
}

// AddReadyCheck 追加一项就绪检查。
func (s *Server) AddReadyCheck(name string, fn func(ctx context.Context) error) {
	s.ready = append(s.ready, ReadyCheck{Name: name, Check: fn})
}

// Handler 返回完整路由，供 Serve、测试与 Lambda 适配器共用。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(s.log))
	r.Use(recoverer(s.log))
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": s.now().UTC().Format(time.RFC3339Nano)})
	})

	r.Group(func(r chi.Router) {
		r.Use(limitBody(s.cfg.MaxUploadBytes))

		r.Post("/did/create", s.handleDIDCreate)
		r.Get("/identity/byWallet/{address}", s.handleIdentityByWallet)
		r.Get("/verification/did", s.handleVerifyDID)

		r.Post("/policy/request", s.handlePolicyRequest)
		r.Get("/policy/requests", s.handlePolicyList)
		r.Get("/policy/requests/{requestId}", s.handlePolicyGet)
		r.Post("/policy/reject", s.handlePolicyReject)
		r.Post("/policy/approve", s.handlePolicyApprove)

		r.Post("/vc/issue", s.handleIssue)
		r.Get("/vc/policy/{policyId}", s.handleCredentialForPolicy)

		r.Post("/file/upload", s.handleUpload)
		r.Get("/file/{cid}", s.handleFileGet)

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", s.handleClaimList)
			r.Post("/submit", s.handleClaimSubmit)
			r.Post("/approve", s.handleClaimApprove)
			r.Post("/reject", s.handleClaimReject)
			r.Post("/paid", s.handleClaimPaid)
			r.Get("/provider/{wallet}", s.handleClaimsByProvider)
			r.Get("/{claimId}", s.handleClaimGet)
			r.Get("/{claimId}/treatment-verification", s.handleTreatmentVerification)
		})

		r.Get("/audit/{subjectId}", s.handleAudit)
	})

	if s.ledgerHandler != nil {
		r.Mount("/ledger", s.ledgerHandler)
	}
	if s.events != nil {
		r.Handle("/events", s.events)
	}
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, c := range s.ready {
		if err := c.Check(ctx); err != nil {
			s.log.WithError(err).WithField("check", c.Name).Warn("就绪检查失败")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + c.Name))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Serve 在 cfg.ListenAddr 上监听，ctx 取消后优雅关闭。
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = ":4000"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       seconds(s.cfg.ReadTimeoutSeconds, 30),
		WriteTimeout:      seconds(s.cfg.WriteTimeoutSeconds, 60),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", addr).Info("[medpolicy] HTTP 服务已启动")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}
