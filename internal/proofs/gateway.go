package proofs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/events"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/web3"
	"ProofChain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Recorder keeps a history of submitted transactions. Its failures are
// logged and never change the outcome of a gateway operation.
type Recorder interface {
	RecordSubmission(ctx context.Context, sub Submission) error
	MarkObserved(ctx context.Context, ev events.Event) error
}

// Gateway exposes the proof registry contract.
type Gateway struct {
	contract       common.Address
	backend        web3.ContractBackend
	accounts       web3.Accounts
	invoker        *Invoker
	logger         *slog.Logger
	audit          *slog.Logger
	recorder       Recorder
	publisher      events.Publisher
	subscriber     web3.LogSubscriber
	unlockDuration uint64
	pollInterval   time.Duration
	now            func() time.Time
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithAuditLogger sets the logger receiving one entry per submitted transaction.
func WithAuditLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.audit = l
		}
	}
}

// WithRecorder attaches a transaction ledger.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithPublisher sets the sink for completion events.
func WithPublisher(p events.Publisher) Option {
	return func(g *Gateway) { g.publisher = p }
}

// WithLogSubscriber enables push delivery of contract logs. Without it the
// listener polls.
func WithLogSubscriber(s web3.LogSubscriber) Option {
	return func(g *Gateway) { g.subscriber = s }
}

// WithUnlockDuration sets the unlock window passed to personal_unlockAccount.
// Zero keeps the node default.
func WithUnlockDuration(seconds uint64) Option {
	return func(g *Gateway) { g.unlockDuration = seconds }
}

// WithPollInterval sets how often the listener polls for logs.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// NewGateway binds a gateway to the contract deployed at contract.
func NewGateway(contract common.Address, backend web3.ContractBackend, accounts web3.Accounts, opts ...Option) (*Gateway, error) {
	if backend == nil || accounts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "contract backend and accounts are required")
	}
	if contract == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "contract address is required")
	}
	g := &Gateway{
		contract:     contract,
		backend:      backend,
		accounts:     accounts,
		logger:       logger.Named("gateway"),
		audit:        logger.Audit(),
		pollInterval: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.publisher == nil {
		g.publisher = events.NewLogPublisher(g.logger)
	}
	g.invoker = NewInvoker(contract, backend, accounts, g.logger)
	return g, nil
}

// Contract returns the bound contract address.
func (g *Gateway) Contract() common.Address { return g.contract }

// Backend gives raw access to the contract backend.
func (g *Gateway) Backend() web3.ContractBackend { return g.backend }

// Accounts gives raw access to the node account namespace.
func (g *Gateway) Accounts() web3.Accounts { return g.accounts }

// GetProof reads the proof stored under trackingID. It returns nil without an
// error when the contract holds no proof for it.
func (g *Gateway) GetProof(ctx context.Context, trackingID string) (*ProofRecord, error) {
	start := time.Now()
	res, err := g.invoker.Invoke(ctx, OpGetProof, Invocation{Args: []any{trackingID}})
	if err != nil {
		logger.FromContext(ctx, g.logger).Error("error getting proof from blockchain",
			slog.String("tracking_id", trackingID),
			slog.String("error", err.Error()))
		metrics.ObserveOperation(OpGetProof.Name, metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	record, err := decodeProof(res.Outputs)
	if err != nil {
		metrics.ObserveOperation(OpGetProof.Name, metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	if record.EncryptedProof == "" {
		metrics.ObserveOperation(OpGetProof.Name, metrics.OutcomeNotFound, time.Since(start))
		return nil, nil
	}
	metrics.ObserveOperation(OpGetProof.Name, metrics.OutcomeSuccess, time.Since(start))
	return record, nil
}

func decodeProof(outputs []any) (*ProofRecord, error) {
	if len(outputs) != 4 {
		return nil, xerrors.New(xerrors.CodeContractCall,
			fmt.Sprintf("getProof returned %d values, expected 4", len(outputs)))
	}
	owner, ok0 := outputs[0].(common.Address)
	encrypted, ok1 := outputs[1].(string)
	public, ok2 := outputs[2].(string)
	previous, ok3 := outputs[3].(string)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return nil, xerrors.New(xerrors.CodeContractCall, "getProof returned unexpected types")
	}
	return &ProofRecord{
		Owner:              owner,
		EncryptedProof:     encrypted,
		PublicProof:        public,
		PreviousTrackingID: previous,
	}, nil
}

// StoreProof unlocks the sending account, estimates the gas, doubles it and
// submits storeProof. The account stays unlocked afterwards.
func (g *Gateway) StoreProof(ctx context.Context, req StoreProofRequest) (*TransactionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return g.submit(ctx, OpStoreProof, req.TrackingID, req.Config, req.args())
}

// Transfer unlocks the sending account, estimates the gas, submits transfer
// with exactly that gas and locks the account again.
func (g *Gateway) Transfer(ctx context.Context, req TransferRequest) (*TransactionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return g.submit(ctx, OpTransfer, req.TrackingID, req.Config, req.args())
}

// EstimateStoreProof returns the node's gas estimate for storeProof without
// unlocking or submitting anything.
func (g *Gateway) EstimateStoreProof(ctx context.Context, req StoreProofRequest) (*PriceEstimate, error) {
	return g.estimate(ctx, OpStoreProof, req.Config.From, req.args())
}

// EstimateTransfer returns the node's gas estimate for transfer.
func (g *Gateway) EstimateTransfer(ctx context.Context, req TransferRequest) (*PriceEstimate, error) {
	return g.estimate(ctx, OpTransfer, req.Config.From, req.args())
}

func (g *Gateway) estimate(ctx context.Context, op Operation, from common.Address, args []any) (*PriceEstimate, error) {
	res, err := g.invoker.EstimatePrice(ctx, op, Invocation{From: from, Args: args})
	if err != nil {
		return nil, err
	}
	return res.Price, nil
}

// UnlockAccount calls personal_unlockAccount and returns the node's answer.
func (g *Gateway) UnlockAccount(ctx context.Context, account common.Address, password string) (bool, error) {
	ok, err := g.accounts.UnlockAccount(ctx, account, password, g.unlockDuration)
	if err != nil {
		g.logger.Error("error executing function 'unlockAccount'",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()))
		return false, xerrors.Wrap(classify(err, xerrors.CodeUnlockFailed), err,
			fmt.Sprintf("error unlocking account: %s", account.Hex()),
			xerrors.WithMetadata("account", account.Hex()))
	}
	g.logger.Info("function 'unlockAccount' completed successfully",
		slog.String("account", account.Hex()),
		slog.Bool("result", ok))
	return ok, nil
}

// LockAccount calls personal_lockAccount and returns the node's answer.
func (g *Gateway) LockAccount(ctx context.Context, account common.Address) (bool, error) {
	return g.lockAccount(ctx, account)
}

func (g *Gateway) lockAccount(ctx context.Context, account common.Address, opts ...xerrors.Option) (bool, error) {
	ok, err := g.accounts.LockAccount(ctx, account)
	if err != nil {
		g.logger.Error("error executing function 'lockAccount'",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()))
		opts = append([]xerrors.Option{xerrors.WithMetadata("account", account.Hex())}, opts...)
		return false, xerrors.Wrap(classify(err, xerrors.CodeLockFailed), err,
			fmt.Sprintf("error locking account: %s", account.Hex()), opts...)
	}
	g.logger.Info("function 'lockAccount' completed successfully",
		slog.String("account", account.Hex()),
		slog.Bool("result", ok))
	return ok, nil
}

func (g *Gateway) submit(ctx context.Context, op Operation, trackingID string, cfg TxConfig, args []any) (*TransactionResult, error) {
	start := time.Now()
	res, plan, err := g.runSubmission(ctx, op, trackingID, cfg, args)
	if err != nil {
		logger.FromContext(ctx, g.logger).Error("error submitting transaction",
			slog.String("operation", op.Name),
			slog.Any("args", args),
			slog.Any("config", cfg),
			slog.String("error", err.Error()))
		metrics.ObserveOperation(op.Name, metrics.OutcomeError, time.Since(start))
		return nil, err
	}
	metrics.ObserveOperation(op.Name, metrics.OutcomeSuccess, time.Since(start))
	metrics.ObserveGasLimit(op.Name, plan.Limit)
	return res, nil
}

// runSubmission performs unlock, estimate, send and, when the descriptor
// asks for it, relock. Any failure aborts the remaining steps; an earlier
// unlock is not undone.
func (g *Gateway) runSubmission(ctx context.Context, op Operation, trackingID string, cfg TxConfig, args []any) (*TransactionResult, GasPlan, error) {
	unlocked, err := g.UnlockAccount(ctx, cfg.From, cfg.Password)
	if err != nil {
		return nil, GasPlan{}, err
	}
	if !unlocked {
		return nil, GasPlan{}, xerrors.New(xerrors.CodeUnlockFailed,
			fmt.Sprintf("error unlocking account: %s", cfg.From.Hex()),
			xerrors.WithMetadata("account", cfg.From.Hex()),
			xerrors.WithSeverity(xerrors.SeverityInfo))
	}

	quote, err := g.invoker.EstimatePrice(ctx, op, Invocation{From: cfg.From, Args: args})
	if err != nil {
		return nil, GasPlan{}, err
	}
	plan, err := op.Plan(quote.Price.Price)
	if err != nil {
		return nil, GasPlan{}, err
	}

	sent, err := g.invoker.Invoke(ctx, op, Invocation{From: cfg.From, Gas: plan.Limit, Args: args})
	if err != nil {
		return nil, plan, err
	}
	result := sent.Tx

	g.audit.Info("transaction submitted",
		slog.String("operation", op.Name),
		slog.String("tracking_id", trackingID),
		slog.String("from", cfg.From.Hex()),
		slog.String("tx_hash", result.TxHash.Hex()),
		slog.Uint64("gas_estimated", plan.Estimated),
		slog.Uint64("gas_limit", plan.Limit),
	)
	if g.recorder != nil {
		sub := Submission{Operation: op.Name, TrackingID: trackingID, From: cfg.From, TxHash: result.TxHash, Gas: plan}
		if err := g.recorder.RecordSubmission(ctx, sub); err != nil {
			g.logger.Warn("record submission failed",
				slog.String("tx_hash", result.TxHash.Hex()),
				slog.String("error", err.Error()))
		}
	}

	if op.RelockAfterSubmit {
		// the transaction is already out; the hash lets callers reconcile it
		submitted := []xerrors.Option{
			xerrors.WithMetadata("tx_hash", result.TxHash.Hex()),
			xerrors.WithSeverity(xerrors.SeverityCritical),
		}
		locked, err := g.lockAccount(ctx, cfg.From, submitted...)
		if err != nil {
			return nil, plan, err
		}
		if !locked {
			return nil, plan, xerrors.New(xerrors.CodeLockFailed,
				fmt.Sprintf("error locking account: %s", cfg.From.Hex()),
				append([]xerrors.Option{xerrors.WithMetadata("account", cfg.From.Hex())}, submitted...)...)
		}
	}
	return result, plan, nil
}
