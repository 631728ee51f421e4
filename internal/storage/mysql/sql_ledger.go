package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "ProofChain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

const ledgerColumns = `id, operation, tracking_id, from_address, tx_hash, gas, status, event, block_number, created_at, updated_at`

// SQLLedger 使用 MySQL 保存交易台账。
type SQLLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLLedger 创建连接池并执行嵌入的迁移脚本。
func NewSQLLedger(ctx context.Context, cfg Config) (*SQLLedger, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化交易台账失败")
	}
	ledger := &SQLLedger{db: db, now: time.Now}
	if err := ledger.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行台账迁移失败")
	}
	return ledger, nil
}

// Record 插入一笔新交易。
func (s *SQLLedger) Record(ctx context.Context, record *LedgerRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	prepare(record, s.clock().Unix())

	const stmt = `INSERT INTO proof_transactions
        (` + ledgerColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Operation,
		record.TrackingID,
		record.From,
		normalizeHash(record.TxHash),
		record.Gas,
		record.Status,
		record.Event,
		record.BlockNumber,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易台账失败")
	}
	return nil
}

// MarkObserved 将交易标记为已观察到完成事件。
func (s *SQLLedger) MarkObserved(ctx context.Context, txHash, event string, blockNumber uint64) error {
	const stmt = `UPDATE proof_transactions SET status = ?, event = ?, block_number = ?, updated_at = ?
        WHERE tx_hash = ?`

	res, err := s.db.ExecContext(ctx, stmt, StatusObserved, event, blockNumber, s.clock().Unix(), normalizeHash(txHash))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易台账失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLatest 查询最近的若干条交易。
func (s *SQLLedger) ListLatest(ctx context.Context, limit int) ([]LedgerRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+ledgerColumns+`
        FROM proof_transactions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易台账失败")
	}
	defer rows.Close()

	var records []LedgerRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易台账失败")
	}
	return records, nil
}

// GetByTxHash 按交易哈希查询。
func (s *SQLLedger) GetByTxHash(ctx context.Context, txHash string) (*LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+`
        FROM proof_transactions WHERE tx_hash = ?`, normalizeHash(txHash))
	record, err := scanRecord(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// Close 关闭底层数据库连接。
func (s *SQLLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLLedger) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*LedgerRecord, error) {
	var record LedgerRecord
	err := row.Scan(
		&record.ID,
		&record.Operation,
		&record.TrackingID,
		&record.From,
		&record.TxHash,
		&record.Gas,
		&record.Status,
		&record.Event,
		&record.BlockNumber,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易台账失败")
	}
	return &record, nil
}

var _ Ledger = (*SQLLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
