package mysql

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"ProofChain/internal/events"
	"ProofChain/internal/proofs"
)

// LedgerRecorder 将网关提交与监听到的事件写入台账。
type LedgerRecorder struct {
	ledger Ledger
}

// NewLedgerRecorder 包装一个台账实现。
func NewLedgerRecorder(ledger Ledger) *LedgerRecorder {
	return &LedgerRecorder{ledger: ledger}
}

// RecordSubmission 记录一笔已被节点接受的交易。
func (r *LedgerRecorder) RecordSubmission(ctx context.Context, sub proofs.Submission) error {
	return r.ledger.Record(ctx, &LedgerRecord{
		Operation:  sub.Operation,
		TrackingID: sub.TrackingID,
		From:       sub.From.Hex(),
		TxHash:     sub.TxHash.Hex(),
		Gas:        sub.Gas.Limit,
		Status:     StatusSubmitted,
	})
}

// MarkObserved 标记交易已出现完成事件。其他账户发出的交易不在台账中，直接忽略。
func (r *LedgerRecorder) MarkObserved(ctx context.Context, ev events.Event) error {
	err := r.ledger.MarkObserved(ctx, ev.TxHash, ev.Name, ev.BlockNumber)
	if stdErrors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Options 描述台账驱动选择。
type Options struct {
	Driver  string
	DataDir string
	SQL     Config
}

// Open 根据驱动名创建台账。
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryLedger(), nil
	case "file":
		return NewFileLedger(opts.DataDir)
	case "mysql":
		return NewSQLLedger(ctx, opts.SQL)
	default:
		return nil, fmt.Errorf("未知的台账驱动: %s", opts.Driver)
	}
}

// ConnLifetime 把秒数转换为连接池参数。
func ConnLifetime(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

var _ proofs.Recorder = (*LedgerRecorder)(nil)
