package proofs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"ProofChain/internal/events"
	"ProofChain/internal/observability/metrics"
	"ProofChain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Listen follows the completion event of every operation that declares one
// and publishes each decoded event. It blocks until ctx is cancelled.
// Delivery is best-effort and never affects an operation's result.
func (g *Gateway) Listen(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, op := range Operations() {
		if op.CompletionEvent == "" {
			continue
		}
		event, ok := registryABI.Events[op.CompletionEvent]
		if !ok {
			return fmt.Errorf("合约 ABI 中不存在事件 %s", op.CompletionEvent)
		}
		query := gethcore.FilterQuery{
			Addresses: []common.Address{g.contract},
			Topics:    [][]common.Hash{{event.ID}},
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			g.follow(ctx, name, query)
		}(op.CompletionEvent)
	}
	wg.Wait()
	return nil
}

func (g *Gateway) follow(ctx context.Context, name string, query gethcore.FilterQuery) {
	log := g.logger.With(slog.String("event", name))
	if g.subscriber != nil {
		err := g.subscribe(ctx, name, query)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Warn("log subscription unavailable, falling back to polling", slog.String("error", err.Error()))
	}
	g.poll(ctx, name, query)
}

func (g *Gateway) subscribe(ctx context.Context, name string, query gethcore.FilterQuery) error {
	logs := make(chan types.Log, 64)
	raw, err := g.subscriber.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return err
	}
	sub := web3.NewEventSubscription(logs, raw)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			g.logger.Error("error in event listener", slog.String("event", name), slog.String("error", err.Error()))
			return err
		case lg := <-sub.Logs():
			g.handleLog(ctx, name, lg)
		}
	}
}

// poll queries FilterLogs from the head seen at start, one block range per tick.
func (g *Gateway) poll(ctx context.Context, name string, query gethcore.FilterQuery) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var next uint64
	started := false
	for {
		head, err := g.backend.BlockNumber(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				g.logger.Error("error in event listener", slog.String("event", name), slog.String("error", err.Error()))
			}
		case !started:
			next = head
			started = true
			fallthrough
		case head >= next:
			if g.fetch(ctx, name, query, next, head) {
				next = head + 1
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) fetch(ctx context.Context, name string, query gethcore.FilterQuery, from, to uint64) bool {
	q := query
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	logs, err := g.backend.FilterLogs(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Error("error in event listener", slog.String("event", name), slog.String("error", err.Error()))
		}
		return false
	}
	for _, lg := range logs {
		g.handleLog(ctx, name, lg)
	}
	return true
}

func (g *Gateway) handleLog(ctx context.Context, name string, lg types.Log) {
	if lg.Removed {
		return
	}
	ev, err := DecodeCompletion(lg)
	if err != nil {
		g.logger.Error("error in event listener", slog.String("event", name), slog.String("error", err.Error()))
		metrics.ObserveEvent(name, metrics.OutcomeError)
		return
	}
	ev.ObservedAt = g.now().UTC()
	g.logger.Info("got event result",
		slog.String("event", ev.Name),
		slog.String("tx_hash", ev.TxHash),
		slog.Any("fields", ev.Fields))

	if err := g.publisher.Publish(ctx, ev); err != nil {
		g.logger.Warn("publish completion event failed", slog.String("event", ev.Name), slog.String("error", err.Error()))
	}
	if g.recorder != nil {
		if err := g.recorder.MarkObserved(ctx, ev); err != nil {
			g.logger.Warn("mark transaction observed failed", slog.String("tx_hash", ev.TxHash), slog.String("error", err.Error()))
		}
	}
	metrics.ObserveEvent(ev.Name, metrics.OutcomeSuccess)
}

// DecodeCompletion turns a raw contract log into an event, using the first
// topic to find the event definition.
func DecodeCompletion(lg types.Log) (events.Event, error) {
	if len(lg.Topics) == 0 {
		return events.Event{}, errors.New("日志缺少事件主题")
	}
	def, err := registryABI.EventByID(lg.Topics[0])
	if err != nil {
		return events.Event{}, fmt.Errorf("未知的合约事件: %w", err)
	}

	values := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := def.Inputs.NonIndexed().UnpackIntoMap(values, lg.Data); err != nil {
			return events.Event{}, fmt.Errorf("解析事件 %s 数据失败: %w", def.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range def.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return events.Event{}, fmt.Errorf("解析事件 %s 主题失败: %w", def.Name, err)
	}

	fields := make(map[string]string, len(values))
	for key, value := range values {
		fields[key] = formatValue(value)
	}
	return events.Event{
		Name:        def.Name,
		Contract:    lg.Address.Hex(),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Fields:      fields,
	}, nil
}

func formatValue(v any) string {
	switch value := v.(type) {
	case common.Address:
		return value.Hex()
	case common.Hash:
		return value.Hex()
	case string:
		return value
	case *big.Int:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}
