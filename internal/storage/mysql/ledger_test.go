package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ProofChain/internal/events"
	"ProofChain/internal/proofs"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
)

const (
	hashA = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	hashB = "0x00000000000000000000000000000000000000000000000000000000000000bb"
)

func TestMemoryLedgerRecordAndObserve(t *testing.T) {
	t.Parallel()

	ledger := NewMemoryLedger()
	ctx := context.Background()

	first := &LedgerRecord{Operation: "storeProof", TrackingID: "track-1", TxHash: hashA, Gas: 200}
	if err := ledger.Record(ctx, first); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if first.ID == "" || first.Status != StatusSubmitted || first.CreatedAt == 0 {
		t.Fatalf("record not prepared: %+v", first)
	}
	if err := ledger.Record(ctx, &LedgerRecord{TxHash: strings.ToUpper(hashA)}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := ledger.Record(ctx, &LedgerRecord{Operation: "transfer", TxHash: hashB}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if err := ledger.MarkObserved(ctx, hashA, "StoreProofCompleted", 9); err != nil {
		t.Fatalf("mark observed failed: %v", err)
	}
	if err := ledger.MarkObserved(ctx, "0xdead", "StoreProofCompleted", 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stored, err := ledger.GetByTxHash(ctx, hashA)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusObserved || stored.BlockNumber != 9 || stored.Event != "StoreProofCompleted" {
		t.Fatalf("unexpected record: %+v", stored)
	}

	list, err := ledger.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].TxHash != hashB {
		t.Fatalf("records not newest first: %+v", list)
	}
}

func TestFileLedgerRestoresLatestState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	ledger, err := NewFileLedger(dir)
	if err != nil {
		t.Fatalf("open file ledger: %v", err)
	}
	if err := ledger.Record(ctx, &LedgerRecord{Operation: "storeProof", TxHash: hashA}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ledger.Record(ctx, &LedgerRecord{Operation: "transfer", TxHash: hashB}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ledger.MarkObserved(ctx, hashA, "StoreProofCompleted", 3); err != nil {
		t.Fatalf("mark observed failed: %v", err)
	}

	reopened, err := NewFileLedger(dir)
	if err != nil {
		t.Fatalf("reopen file ledger: %v", err)
	}
	list, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].TxHash != hashB || list[1].Status != StatusObserved {
		t.Fatalf("unexpected restored records: %+v", list)
	}
}

func TestLedgerRecorderIgnoresForeignEvents(t *testing.T) {
	t.Parallel()

	ledger := NewMemoryLedger()
	recorder := NewLedgerRecorder(ledger)
	ctx := context.Background()

	sub := proofs.Submission{
		Operation:  "transfer",
		TrackingID: "track-1",
		From:       common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		TxHash:     common.HexToHash(hashA),
		Gas:        proofs.GasPlan{Estimated: 100, Multiplier: 1, Limit: 100},
	}
	if err := recorder.RecordSubmission(ctx, sub); err != nil {
		t.Fatalf("record submission failed: %v", err)
	}
	if err := recorder.MarkObserved(ctx, events.Event{Name: "TransferCompleted", TxHash: hashB}); err != nil {
		t.Fatalf("foreign event should be ignored: %v", err)
	}
	if err := recorder.MarkObserved(ctx, events.Event{Name: "TransferCompleted", TxHash: common.HexToHash(hashA).Hex(), BlockNumber: 4}); err != nil {
		t.Fatalf("mark observed failed: %v", err)
	}
	stored, err := ledger.GetByTxHash(ctx, hashA)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Gas != 100 || stored.Status != StatusObserved || stored.From != sub.From.Hex() {
		t.Fatalf("unexpected record: %+v", stored)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Parallel()

	if ledger, err := Open(context.Background(), Options{Driver: "memory"}); err != nil || ledger == nil {
		t.Fatalf("memory ledger: %v", err)
	}
	if _, err := Open(context.Background(), Options{Driver: "file", DataDir: t.TempDir()}); err != nil {
		t.Fatalf("file ledger: %v", err)
	}
	if _, err := Open(context.Background(), Options{Driver: "mongo"}); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func TestSQLLedgerRecord(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertLedgerSQL(), mockResult{rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db, now: fixedClock}
	record := &LedgerRecord{Operation: "storeProof", TrackingID: "track-1", TxHash: hashA, Gas: 200}
	if err := ledger.Record(context.Background(), record); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if record.ID == "" || record.CreatedAt != 1700000000 {
		t.Fatalf("record not prepared: %+v", record)
	}
}

func TestSQLLedgerRecordDuplicate(t *testing.T) {
	t.Parallel()

	dup := execOp(insertLedgerSQL(), mockResult{})
	dup.err = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	db, driver := newMockDB(t, []mockOperation{dup})
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db, now: fixedClock}
	if err := ledger.Record(context.Background(), &LedgerRecord{TxHash: hashA}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSQLLedgerMarkObserved(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(markObservedSQL(), mockResult{rowsAffected: 1}),
		execOp(markObservedSQL(), mockResult{rowsAffected: 0}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db, now: fixedClock}
	if err := ledger.MarkObserved(context.Background(), hashA, "StoreProofCompleted", 5); err != nil {
		t.Fatalf("mark observed failed: %v", err)
	}
	if err := ledger.MarkObserved(context.Background(), hashB, "StoreProofCompleted", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func ledgerRows(values ...[]driver.Value) mockRowsData {
	return mockRowsData{
		columns: []string{"id", "operation", "tracking_id", "from_address", "tx_hash", "gas", "status", "event", "block_number", "created_at", "updated_at"},
		values:  values,
	}
}

func TestSQLLedgerListLatest(t *testing.T) {
	t.Parallel()

	rows := ledgerRows(
		[]driver.Value{"id-2", "transfer", "track-2", "0xf39f", hashB, int64(100), StatusSubmitted, "", int64(0), int64(20), int64(20)},
		[]driver.Value{"id-1", "storeProof", "track-1", "0xf39f", hashA, int64(200), StatusObserved, "StoreProofCompleted", int64(7), int64(10), int64(12)},
	)
	db, driver := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, operation, tracking_id, from_address, tx_hash, gas, status, event, block_number, created_at, updated_at
    FROM proof_transactions ORDER BY created_at DESC, id DESC LIMIT ?`, rows),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db}
	list, err := ledger.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "id-2" || list[1].BlockNumber != 7 || list[1].Gas != 200 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSQLLedgerGetByTxHash(t *testing.T) {
	t.Parallel()

	query := `SELECT id, operation, tracking_id, from_address, tx_hash, gas, status, event, block_number, created_at, updated_at
    FROM proof_transactions WHERE tx_hash = ?`
	db, driver := newMockDB(t, []mockOperation{
		queryOp(query, ledgerRows([]driver.Value{"id-1", "storeProof", "track-1", "0xf39f", hashA, int64(200), StatusSubmitted, "", int64(0), int64(10), int64(10)})),
		queryOp(query, ledgerRows()),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db}
	record, err := ledger.GetByTxHash(context.Background(), hashA)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.TrackingID != "track-1" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if _, err := ledger.GetByTxHash(context.Background(), hashB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLLedgerRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrations, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{rowsAffected: 0}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db, now: fixedClock}
	if err := ledger.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSQLLedgerSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrations, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	ledger := &SQLLedger{db: db}
	if err := ledger.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSplitSQLStatementsDropsComments(t *testing.T) {
	got := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- second\nCREATE TABLE b (id INT);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("unexpected statements %q", got)
	}
	if v := parseMigrationVersion("0001_create_ledger.sql"); v != "0001" {
		t.Fatalf("unexpected version %q", v)
	}
}

func insertLedgerSQL() string {
	return `INSERT INTO proof_transactions
    (id, operation, tracking_id, from_address, tx_hash, gas, status, event, block_number, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

func markObservedSQL() string {
	return `UPDATE proof_transactions SET status = ?, event = ?, block_number = ?, updated_at = ?
    WHERE tx_hash = ?`
}

func readMigrationStatement() string {
	content, err := embeddedMigrations.ReadFile("0001_create_ledger.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
