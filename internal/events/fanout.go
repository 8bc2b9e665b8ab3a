package events

import (
	"context"
	"errors"
	"fmt"
)

// Fanout 将事件投递到多个发布者，单个发布者失败不影响其余发布者。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建一个新的 Fanout，忽略 nil 发布者。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p == nil {
			continue
		}
		set = append(set, p)
	}
	return &Fanout{publishers: set}
}

// Publish 将事件广播至所有发布者。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for i, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部发布者。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
