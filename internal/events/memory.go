package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 使用 channel 缓存事件，主要用于测试与本地调试。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入缓冲区，缓冲区满时等待或随 ctx 取消。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件发布器已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	}
}

// Events 返回事件通道。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Drain 取出当前缓冲的全部事件。
func (p *MemoryPublisher) Drain() []Event {
	var drained []Event
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return drained
			}
			drained = append(drained, event)
		default:
			return drained
		}
	}
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	p.mu.Unlock()
	return nil
}
