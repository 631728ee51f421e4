package events

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示投递器已关闭。
var ErrClosed = errors.New("事件通道已关闭")

// MemoryPublisher 使用带缓冲的 channel 保存事件，主要用于测试和单进程部署。
// 缓冲区满时丢弃最新事件，监听器不会因此阻塞。
type MemoryPublisher struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewMemoryPublisher 创建内存投递器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入缓冲区。
func (p *MemoryPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- ev:
		return nil
	default:
		p.dropped++
		return nil
	}
}

// Events 返回只读的事件流。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Dropped 返回因缓冲区满而丢弃的事件数。
func (p *MemoryPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close 关闭事件流。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}
