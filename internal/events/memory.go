package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用带缓冲的 channel 在进程内传递事件。
type MemoryBus struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryBus 创建一个内存事件总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{ch: make(chan Event, size)}
}

// Publish 投递事件；缓冲区已满时直接返回错误，不阻塞调用方。
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("事件总线已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.ch <- event:
		return nil
	default:
		return errors.New("事件总线缓冲区已满")
	}
}

// Consume 依次处理事件，直到 ctx 结束或总线关闭。
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-b.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, event)
		}
	}
}

// Close 关闭内存总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}

// Discard 丢弃所有事件，用于未配置事件渠道的场景。
type Discard struct{}

// Publish 忽略事件。
func (Discard) Publish(context.Context, Event) error { return nil }

// Consume 阻塞直到 ctx 结束。
func (Discard) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close 无需释放资源。
func (Discard) Close() error { return nil }
