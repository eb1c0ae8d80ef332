package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Wallet 描述 API 需要的编排器能力。
type Wallet interface {
	Name() string
	Status() adapter.Status
	Provider() wallet.SessionProvider
	Connect(ctx context.Context) (wallet.SessionProvider, error)
	Disconnect(ctx context.Context) error
	GetUserInfo(ctx context.Context) (wallet.UserInfo, error)
}

// History 提供最近的生命周期记录以及实时订阅。
type History interface {
	Recent(limit int) []relay.Record
	Watch(buffer int) (<-chan relay.Record, func())
}

// Metrics 记录 HTTP 指标并暴露 /metrics。
type Metrics interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
	Handler() http.Handler
}

// accountReader 由绑定链客户端的会话实现。
type accountReader interface {
	State(ctx context.Context) (web3.AccountState, error)
}

// StatusResponse 是 GET /api/v1/wallet/status 的响应体。
type StatusResponse struct {
	Adapter   string `json:"adapter"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

// ErrorResponse 是所有失败请求的响应体。
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Server 负责暴露 REST 接口，供外部驱动钱包连接。
type Server struct {
	addr     string
	wallet   Wallet
	history  History
	metrics  Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option 自定义 Server。
type Option func(*Server)

// WithHistory 启用事件查询与推送接口。
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics 启用 HTTP 指标与 /metrics。
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger 覆盖默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, w Wallet, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		wallet: w,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回完整的路由，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/v1/wallet/status", s.handleStatus)
	s.route(mux, "/api/v1/wallet/connect", s.handleConnect)
	s.route(mux, "/api/v1/wallet/disconnect", s.handleDisconnect)
	s.route(mux, "/api/v1/wallet/userinfo", s.handleUserInfo)
	s.route(mux, "/api/v1/wallet/account", s.handleAccount)
	s.route(mux, "/api/v1/wallet/events", s.handleEvents)
	// 长连接不计入请求耗时指标。
	mux.HandleFunc("/api/v1/wallet/events/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
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

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, handler))
}

func (s *Server) instrument(name string, next http.HandlerFunc) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Adapter: s.wallet.Name(),
		Status:  string(s.wallet.Status()),
	}
	if session := s.wallet.Provider(); session != nil {
		resp.Connected = true
		resp.SessionID = session.ID()
		resp.Identity = hex.EncodeToString(session.Identity())
	}
	return resp
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if _, err := s.wallet.Connect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.wallet.Disconnect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	info, err := s.wallet.GetUserInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	session := s.wallet.Provider()
	if session == nil {
		s.writeError(w, wallet.ErrNotConnected)
		return
	}
	reader, ok := session.(accountReader)
	if !ok {
		s.writeError(w, xerrors.New(xerrors.CodeNotFound, "当前会话未绑定链客户端"))
		return
	}
	state, err := reader.State(r.Context())
	if err != nil {
		s.writeError(w, xerrors.Ensure(xerrors.CodeTransportFailure, err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.history == nil {
		s.writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用事件历史"))
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}
	writeJSON(w, http.StatusOK, s.history.Recent(limit))
}

// handleStream 通过 WebSocket 推送新产生的生命周期记录。
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, xerrors.New(xerrors.CodeNotFound, "未启用事件历史"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket 升级失败", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	records, cancel := s.history.Watch(64)
	defer cancel()

	// 读循环只用于感知客户端关闭和处理 pong。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("code", string(code)), slog.String("error", err.Error()))
	}
	resp := ErrorResponse{Code: string(code), Message: err.Error(), Retryable: xerrors.RetryableError(err)}
	writeJSON(w, status, resp)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case wallet.CodeNotInstalled, xerrors.CodeNotFound:
		return http.StatusNotFound
	case wallet.CodeNotReady:
		return http.StatusServiceUnavailable
	case wallet.CodeAlreadyConnected, xerrors.CodeConflict:
		return http.StatusConflict
	case wallet.CodeNotConnected:
		return http.StatusPreconditionFailed
	case wallet.CodeWindowClosed, wallet.CodeConnectionError, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case wallet.CodeDisconnectionError, xerrors.CodeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Code:    string(xerrors.CodeInvalidArgument),
		Message: "仅支持 " + method,
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
