package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Event 描述一次合约完成事件，例如 StoreProofCompleted。
type Event struct {
	Name        string            `json:"name"`
	Contract    string            `json:"contract"`
	TxHash      string            `json:"tx_hash"`
	BlockNumber uint64            `json:"block_number"`
	LogIndex    uint              `json:"log_index"`
	Fields      map[string]string `json:"fields,omitempty"`
	ObservedAt  time.Time         `json:"observed_at"`
}

// Encode 将事件序列化为 JSON，供消息队列投递。
func (e Event) Encode() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

// Decode 从 JSON 还原事件。
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return ev, nil
}

// Publisher 是只写的事件通道，监听器只负责投递，不等待任何消费结果。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher 仅把事件写入日志，是默认的投递方式。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 创建日志投递器。
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish 记录事件。
func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("completion event published",
		slog.String("event", ev.Name),
		slog.String("tx_hash", ev.TxHash),
		slog.Uint64("block_number", ev.BlockNumber),
		slog.Any("fields", ev.Fields),
	)
	return nil
}

// Close 无需释放资源。
func (p *LogPublisher) Close() error { return nil }

// Fanout 将事件广播到多个投递器，任何一个失败都会被汇总返回。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建广播投递器，忽略 nil。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			set = append(set, p)
		}
	}
	return &Fanout{publishers: set}
}

// Publish 将事件投递给所有下游。
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有下游。
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
