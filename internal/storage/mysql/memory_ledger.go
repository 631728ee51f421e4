package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	xerrors "ProofChain/internal/errors"
)

const memoryLedgerCapacity = 512

// MemoryLedger 在进程内保存最近的交易记录；指定数据目录时额外以 JSON 行追加写入
// ledger.log，重启后可以恢复。
type MemoryLedger struct {
	mu       sync.RWMutex
	dataFile string
	records  []LedgerRecord
}

// NewMemoryLedger 创建纯内存台账。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// NewFileLedger 创建落盘的台账。
func NewFileLedger(dataDir string) (*MemoryLedger, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	ledger := &MemoryLedger{dataFile: filepath.Join(dataDir, "ledger.log")}
	if err := ledger.loadFromDisk(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Record 保存新提交的交易。
func (m *MemoryLedger) Record(_ context.Context, record *LedgerRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(record.TxHash) >= 0 {
		return ErrConflict
	}
	prepare(record, time.Now().Unix())
	if err := m.append(*record); err != nil {
		return err
	}
	m.records = append([]LedgerRecord{*record}, m.records...)
	if len(m.records) > memoryLedgerCapacity {
		m.records = m.records[:memoryLedgerCapacity]
	}
	return nil
}

// MarkObserved 记录交易对应的完成事件。
func (m *MemoryLedger) MarkObserved(_ context.Context, txHash, event string, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(txHash)
	if idx < 0 {
		return ErrNotFound
	}
	updated := m.records[idx]
	updated.Status = StatusObserved
	updated.Event = event
	updated.BlockNumber = blockNumber
	updated.UpdatedAt = time.Now().Unix()
	if err := m.append(updated); err != nil {
		return err
	}
	m.records[idx] = updated
	return nil
}

// ListLatest 返回最近的交易记录，按提交时间倒序排列。
func (m *MemoryLedger) ListLatest(_ context.Context, limit int) ([]LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]LedgerRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// GetByTxHash 查询指定交易。
func (m *MemoryLedger) GetByTxHash(_ context.Context, txHash string) (*LedgerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.indexOf(txHash)
	if idx < 0 {
		return nil, ErrNotFound
	}
	record := m.records[idx]
	return &record, nil
}

// Close 无需释放资源。
func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) indexOf(txHash string) int {
	want := normalizeHash(txHash)
	for i := range m.records {
		if normalizeHash(m.records[i].TxHash) == want {
			return i
		}
	}
	return -1
}

func (m *MemoryLedger) append(record LedgerRecord) error {
	if m.dataFile == "" {
		return nil
	}
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开台账日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化台账记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入台账日志失败")
	}
	return nil
}

// loadFromDisk 回放日志，同一 ID 以最后一行为准。
func (m *MemoryLedger) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取台账日志失败")
	}
	defer file.Close()

	var order []string
	latest := make(map[string]LedgerRecord)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record LedgerRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil || record.ID == "" {
			continue
		}
		if _, seen := latest[record.ID]; !seen {
			order = append(order, record.ID)
		}
		latest[record.ID] = record
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析台账日志 %s 失败", m.dataFile))
	}

	restored := make([]LedgerRecord, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		restored = append(restored, latest[order[i]])
	}
	if len(restored) > memoryLedgerCapacity {
		restored = restored[:memoryLedgerCapacity]
	}
	m.records = restored
	return nil
}
