package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"DRaaS-Chain/internal/config"
)

func waitForSubscriber(t *testing.T, server *miniredis.Miniredis, channel string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.PubSubNumSub(channel)[channel] > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber on %s", channel)
}

func TestRedisBusRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	bus, err := NewRedisBus(RedisConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- bus.Consume(ctx, func(_ context.Context, event Event) error {
			mu.Lock()
			got = append(got, event)
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
			return nil
		})
	}()
	waitForSubscriber(t, server, "draas:events")

	phase := New(KindSessionPhase)
	phase.SessionID = "s-1"
	phase.Phase = "confirming"
	phase.TxHash = "0xabc"
	if err := bus.Publish(ctx, phase); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// 无法解析的消息会被跳过。
	server.Publish("draas:events", "not json")
	cancelled := New(KindDeploymentCancel)
	cancelled.DeploymentID = "dep-1"
	if err := bus.Publish(ctx, cancelled); err != nil {
		t.Fatalf("publish: %v", err)
	}

	<-done
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != phase.ID || got[0].Phase != "confirming" || got[0].TxHash != "0xabc" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	if got[1].Kind != KindDeploymentCancel || got[1].DeploymentID != "dep-1" {
		t.Fatalf("unexpected second event %+v", got[1])
	}
}

func TestRedisBusUsesConfiguredChannel(t *testing.T) {
	server := miniredis.RunT(t)
	bus, err := Open(config.EventsConfig{
		Driver: "redis",
		Redis:  config.RedisConfig{Address: server.Addr(), Key: "console:events"},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	received := make(chan Event, 1)
	go func() {
		_ = bus.Consume(ctx, func(_ context.Context, event Event) error {
			received <- event
			return nil
		})
	}()
	waitForSubscriber(t, server, "console:events")

	event := New(KindSessionPhase)
	event.Phase = "settled"
	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-received:
		if got.ID != event.ID {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

func TestNewRedisBusRequiresReachableServer(t *testing.T) {
	if _, err := NewRedisBus(RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}

	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	if _, err := NewRedisBus(RedisConfig{Address: addr}); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestRabbitMQBusValidation(t *testing.T) {
	if _, err := NewRabbitMQBus(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := NewRabbitMQBus(RabbitMQConfig{URL: "http://localhost:5672/"}); err == nil {
		t.Fatal("expected error for non-AMQP URL")
	}

	var bus *RabbitMQBus
	if err := bus.Publish(context.Background(), New(KindSessionPhase)); err == nil {
		t.Fatal("expected error publishing on an unopened bus")
	}
	if err := (&RabbitMQBus{}).Consume(context.Background(), func(context.Context, Event) error { return nil }); err == nil {
		t.Fatal("expected error consuming on an unopened bus")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close nil bus: %v", err)
	}
}
