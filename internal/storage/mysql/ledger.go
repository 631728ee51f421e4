package mysql

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// 交易状态。
const (
	StatusSubmitted = "submitted"
	StatusObserved  = "observed"
)

var (
	// ErrNotFound 表示台账中没有对应交易。
	ErrNotFound = errors.New("交易记录不存在")
	// ErrConflict 表示同一交易哈希被重复写入。
	ErrConflict = errors.New("交易记录已存在")
)

// LedgerRecord 是一笔经网关提交的合约交易。
type LedgerRecord struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	TrackingID  string `json:"tracking_id"`
	From        string `json:"from"`
	TxHash      string `json:"tx_hash"`
	Gas         uint64 `json:"gas"`
	Status      string `json:"status"`
	Event       string `json:"event,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Ledger 抽象交易台账的持久化接口。
type Ledger interface {
	Record(ctx context.Context, record *LedgerRecord) error
	MarkObserved(ctx context.Context, txHash, event string, blockNumber uint64) error
	ListLatest(ctx context.Context, limit int) ([]LedgerRecord, error)
	GetByTxHash(ctx context.Context, txHash string) (*LedgerRecord, error)
	Close() error
}

// prepare 补全新记录的 ID、状态与时间戳。
func prepare(record *LedgerRecord, now int64) {
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusSubmitted
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
