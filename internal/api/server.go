package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/proofs"
	"ProofChain/internal/storage/mysql"
	"ProofChain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Gateway 是 API 层依赖的合约网关能力。
type Gateway interface {
	GetProof(ctx context.Context, trackingID string) (*proofs.ProofRecord, error)
	StoreProof(ctx context.Context, req proofs.StoreProofRequest) (*proofs.TransactionResult, error)
	Transfer(ctx context.Context, req proofs.TransferRequest) (*proofs.TransactionResult, error)
	EstimateStoreProof(ctx context.Context, req proofs.StoreProofRequest) (*proofs.PriceEstimate, error)
	EstimateTransfer(ctx context.Context, req proofs.TransferRequest) (*proofs.PriceEstimate, error)
}

// TransactionLister 提供交易台账查询。
type TransactionLister interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.LedgerRecord, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	gateway Gateway
	ledger  TransactionLister
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例，ledger 可以为空。
func NewServer(addr string, gw Gateway, ledger TransactionLister) *Server {
	return &Server{addr: addr, gateway: gw, ledger: ledger, logger: logger.Named("api")}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/proofs/{trackingId}", s.handleGetProof)
	mux.HandleFunc("POST /api/v1/proofs", s.handleStoreProof)
	mux.HandleFunc("POST /api/v1/proofs/estimate", s.handleEstimate)
	mux.HandleFunc("POST /api/v1/proofs/{trackingId}/transfer", s.handleTransfer)
	mux.HandleFunc("GET /api/v1/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return s.instrument(mux)
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
	s.logger.Info("api server listening", slog.String("addr", s.addr))

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

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	trackingID := r.PathValue("trackingId")
	record, err := s.gateway.GetProof(r.Context(), trackingID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if record == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "proof not found: "+trackingID))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStoreProof(w http.ResponseWriter, r *http.Request) {
	var req proofs.StoreProofRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.gateway.StoreProof(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

type transferBody struct {
	TransferTo common.Address `json:"transfer_to"`
	From       common.Address `json:"from"`
	Password   string         `json:"password"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.gateway.Transfer(r.Context(), proofs.TransferRequest{
		TrackingID: r.PathValue("trackingId"),
		TransferTo: body.TransferTo,
		Config:     proofs.TxConfig{From: body.From, Password: body.Password},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

type estimateBody struct {
	Operation          string         `json:"operation"`
	TrackingID         string         `json:"tracking_id"`
	PreviousTrackingID string         `json:"previous_tracking_id"`
	EncryptedProof     string         `json:"encrypted_proof"`
	PublicProof        string         `json:"public_proof"`
	TransferTo         common.Address `json:"transfer_to"`
	From               common.Address `json:"from"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var body estimateBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		quote *proofs.PriceEstimate
		err   error
	)
	switch body.Operation {
	case proofs.OpStoreProof.Name:
		quote, err = s.gateway.EstimateStoreProof(r.Context(), proofs.StoreProofRequest{
			TrackingID:         body.TrackingID,
			PreviousTrackingID: body.PreviousTrackingID,
			EncryptedProof:     body.EncryptedProof,
			PublicProof:        body.PublicProof,
			Config:             proofs.TxConfig{From: body.From},
		})
	case proofs.OpTransfer.Name:
		quote, err = s.gateway.EstimateTransfer(r.Context(), proofs.TransferRequest{
			TrackingID: body.TrackingID,
			TransferTo: body.TransferTo,
			Config:     proofs.TxConfig{From: body.From},
		})
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "operation must be storeProof or transfer")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "交易台账未启用"))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.ledger.ListLatest(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []mysql.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	logger.FromContext(r.Context(), s.logger).Log(r.Context(), severityLevel(xerrors.SeverityOf(err)), "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()))
	writeJSON(w, status, errorBody{Code: xerrors.CodeOf(err), Message: err.Error()})
}

// severityLevel 将错误严重程度映射为日志级别。
func severityLevel(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityCritical:
		return slog.LevelError
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为每个请求分配 request id，把带 id 的日志放入上下文并记录指标。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		reqLogger := s.logger.With(slog.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLogger))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(start))
		reqLogger.Debug("request handled",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
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
