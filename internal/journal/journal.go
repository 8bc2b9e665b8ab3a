package journal

import (
	"context"
	"time"

	xerrors "DRaaS-Chain/internal/errors"
)

// 与上传会话阶段保持一致的取值。
const (
	PhaseSubmitting      = "submitting"
	PhaseAwaitingPayment = "awaiting_payment"
	PhaseConfirming      = "confirming"
	PhaseSettled         = "settled"
	PhaseFailed          = "failed"
)

// unpaidPhases 列出提交已成功但费用未结清的阶段。
var unpaidPhases = []string{PhaseAwaitingPayment, PhaseConfirming, PhaseFailed}

// ErrEntryNotFound 表示日志中没有对应会话。
var ErrEntryNotFound = xerrors.New(xerrors.CodeNotFound, "支付日志不存在")

// Entry 记录一次上传会话的最新状态。
type Entry struct {
	SessionID    string    `json:"session_id"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Runtime      string    `json:"runtime,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	Phase        string    `json:"phase"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	ValueWei     string    `json:"value_wei,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Unpaid 判断会话是否已在调度器侧创建部署，但链上费用未确认。
func (e Entry) Unpaid() bool {
	if e.DeploymentID == "" {
		return false
	}
	for _, phase := range unpaidPhases {
		if e.Phase == phase {
			return true
		}
	}
	return false
}

// Orphaned 从未支付列表中去掉仍可能属于活动会话的条目：live 是当前活动会话
// 的 ID；尚未失败、且在 grace 内更新过的条目可能仍在另一个进程中等待确认。
func Orphaned(entries []Entry, live string, now time.Time, grace time.Duration) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if live != "" && entry.SessionID == live {
			continue
		}
		if entry.Phase != PhaseFailed && now.Sub(entry.UpdatedAt) < grace {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Store 抽象了支付日志的持久化接口。Record 以 SessionID 为键覆盖写入。
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Get(ctx context.Context, sessionID string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Unpaid(ctx context.Context) ([]Entry, error)
	Close() error
}

func validate(entry Entry) error {
	if entry.SessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if entry.Phase == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话阶段不能为空")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
