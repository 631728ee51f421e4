package proofs

import (
	"context"
	"errors"
	"testing"
	"time"

	"ProofChain/internal/events"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

func storeCompletedLog(block uint64) types.Log {
	def := registryABI.Events["StoreProofCompleted"]
	data, err := def.Inputs.NonIndexed().Pack("track-1", "track-0")
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{def.ID, common.BytesToHash(senderAddr.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x02"),
		Index:       1,
	}
}

func transferCompletedLog(block uint64) types.Log {
	def := registryABI.Events["TransferCompleted"]
	data, err := def.Inputs.NonIndexed().Pack("track-1")
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{def.ID, common.BytesToHash(senderAddr.Bytes()), common.BytesToHash(targetAddr.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x03"),
	}
}

func TestDecodeCompletion(t *testing.T) {
	ev, err := DecodeCompletion(storeCompletedLog(7))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Name != "StoreProofCompleted" || ev.BlockNumber != 7 || ev.LogIndex != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Fields["from"] != senderAddr.Hex() || ev.Fields["trackingId"] != "track-1" || ev.Fields["previousTrackingId"] != "track-0" {
		t.Fatalf("unexpected fields %v", ev.Fields)
	}

	ev, err = DecodeCompletion(transferCompletedLog(8))
	if err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if ev.Fields["to"] != targetAddr.Hex() || ev.Fields["trackingId"] != "track-1" {
		t.Fatalf("unexpected fields %v", ev.Fields)
	}
}

func TestDecodeCompletionRejectsUnknownTopic(t *testing.T) {
	if _, err := DecodeCompletion(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}); err == nil {
		t.Fatal("expected unknown event error")
	}
	if _, err := DecodeCompletion(types.Log{}); err == nil {
		t.Fatal("expected missing topic error")
	}
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestListenPollsAndPublishes(t *testing.T) {
	_, backend, accounts := newFakes()
	backend.head = 10
	removed := storeCompletedLog(10)
	removed.Removed = true
	backend.logs = []types.Log{storeCompletedLog(10), removed, storeCompletedLog(3)}

	pub := events.NewMemoryPublisher(8)
	recorder := &fakeRecorder{}
	g := newTestGateway(backend, accounts, WithPublisher(pub), WithRecorder(recorder), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Listen(ctx) }()

	ev := waitEvent(t, pub.Events())
	if ev.Name != "StoreProofCompleted" || ev.TxHash != common.HexToHash("0x02").Hex() {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ObservedAt.IsZero() {
		t.Fatal("observed time not set")
	}

	// blocks before the listener started and removed logs are skipped
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("listen: %v", err)
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("unexpected extra events: %d", len(pub.Events()))
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.observed) != 1 {
		t.Fatalf("expected one observed event, got %d", len(recorder.observed))
	}
}

type fakeSubscriber struct {
	logs []types.Log
	err  error
}

func (s *fakeSubscriber) SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- types.Log) (gethcore.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	var matching []types.Log
	for _, lg := range s.logs {
		if lg.Topics[0] == q.Topics[0][0] {
			matching = append(matching, lg)
		}
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, lg := range matching {
			select {
			case ch <- lg:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func TestListenUsesSubscription(t *testing.T) {
	_, backend, accounts := newFakes()
	pub := events.NewMemoryPublisher(8)
	sub := &fakeSubscriber{logs: []types.Log{transferCompletedLog(4)}}
	g := newTestGateway(backend, accounts, WithPublisher(pub), WithLogSubscriber(sub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Listen(ctx)

	ev := waitEvent(t, pub.Events())
	if ev.Name != "TransferCompleted" || ev.Fields["to"] != targetAddr.Hex() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestListenFallsBackToPolling(t *testing.T) {
	_, backend, accounts := newFakes()
	backend.head = 5
	backend.logs = []types.Log{transferCompletedLog(5)}
	pub := events.NewMemoryPublisher(8)
	sub := &fakeSubscriber{err: errors.New("notifications not supported")}
	g := newTestGateway(backend, accounts, WithPublisher(pub), WithLogSubscriber(sub), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Listen(ctx)

	ev := waitEvent(t, pub.Events())
	if ev.Name != "TransferCompleted" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
