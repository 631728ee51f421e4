package proofs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"ProofChain/internal/events"
	"ProofChain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ownerAddr    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	senderAddr   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	targetAddr   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// journal records the order in which node methods were reached.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type fakeBackend struct {
	journal *journal

	mu          sync.Mutex
	callOutput  []byte
	callErr     error
	estimate    uint64
	estimateErr error
	estimated   []gethcore.CallMsg
	head        uint64
	logs        []types.Log
	queries     []gethcore.FilterQuery
}

func (b *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	b.journal.add("call")
	if b.callErr != nil {
		return nil, b.callErr
	}
	return b.callOutput, nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	b.journal.add("estimate")
	b.mu.Lock()
	b.estimated = append(b.estimated, msg)
	b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.estimate, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	var out []types.Log
	for _, lg := range b.logs {
		if q.FromBlock.Uint64() <= lg.BlockNumber && lg.BlockNumber <= q.ToBlock.Uint64() && lg.Topics[0] == q.Topics[0][0] {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

type fakeAccounts struct {
	journal *journal

	unlockResult bool
	unlockErr    error
	lockResult   bool
	lockErr      error
	sendErr      error
	hash         common.Hash

	unlocked []common.Address
	sent     []web3.TxArgs
}

func (a *fakeAccounts) UnlockAccount(_ context.Context, account common.Address, _ string, _ uint64) (bool, error) {
	a.journal.add("unlock")
	a.unlocked = append(a.unlocked, account)
	if a.unlockErr != nil {
		return false, a.unlockErr
	}
	return a.unlockResult, nil
}

func (a *fakeAccounts) LockAccount(context.Context, common.Address) (bool, error) {
	a.journal.add("lock")
	if a.lockErr != nil {
		return false, a.lockErr
	}
	return a.lockResult, nil
}

func (a *fakeAccounts) SendTransaction(_ context.Context, args web3.TxArgs) (common.Hash, error) {
	a.journal.add("send")
	a.sent = append(a.sent, args)
	if a.sendErr != nil {
		return common.Hash{}, a.sendErr
	}
	return a.hash, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	submissions []Submission
	observed    []events.Event
}

func (r *fakeRecorder) RecordSubmission(_ context.Context, sub Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, sub)
	return nil
}

func (r *fakeRecorder) MarkObserved(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, ev)
	return nil
}

// nodeError mimics a JSON-RPC error object returned by the node.
type nodeError struct{ msg string }

func (e nodeError) Error() string  { return e.msg }
func (e nodeError) ErrorCode() int { return -32000 }

var errTransport = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(backend *fakeBackend, accounts *fakeAccounts, opts ...Option) *Gateway {
	base := []Option{WithLogger(quietLogger()), WithAuditLogger(quietLogger())}
	g, err := NewGateway(contractAddr, backend, accounts, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return g
}

func newFakes() (*journal, *fakeBackend, *fakeAccounts) {
	j := &journal{}
	return j, &fakeBackend{journal: j}, &fakeAccounts{journal: j, unlockResult: true, lockResult: true}
}

func packProof(owner common.Address, encrypted, public, previous string) []byte {
	out, err := registryABI.Methods["getProof"].Outputs.Pack(owner, encrypted, public, previous)
	if err != nil {
		panic(err)
	}
	return out
}
