package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind 标识事件类型。
type Kind string

const (
	// KindSessionPhase 表示上传会话进入了新的阶段。
	KindSessionPhase Kind = "session.phase"
	// KindDeploymentCancel 表示一次取消部署的结果。
	KindDeploymentCancel Kind = "deployment.cancel"
)

// Event 是发布到外部渠道的会话事件。
type Event struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	SessionID    string    `json:"session_id,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Phase        string    `json:"phase,omitempty"`
	Progress     int       `json:"progress,omitempty"`
	Message      string    `json:"message,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// New 创建带有唯一 ID 与时间戳的事件。
func New(kind Kind) Event {
	return Event{ID: uuid.NewString(), Kind: kind, OccurredAt: time.Now().UTC()}
}

// Handler 处理从渠道收到的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责订阅事件，阻塞直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Consumer
}
