package orchestrator

import (
	"time"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/journal"
)

// Phase 是上传会话所处的阶段。
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseSubmitting      Phase = journal.PhaseSubmitting
	PhaseAwaitingPayment Phase = journal.PhaseAwaitingPayment
	PhaseConfirming      Phase = journal.PhaseConfirming
	PhaseSettled         Phase = journal.PhaseSettled
	PhaseFailed          Phase = journal.PhaseFailed
)

// Active 表示会话仍在进行中，此时不接受新的上传。
func (p Phase) Active() bool {
	switch p {
	case PhaseSubmitting, PhaseAwaitingPayment, PhaseConfirming:
		return true
	}
	return false
}

// Terminal 表示会话已经结束。
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseFailed
}

// 各阶段展示给用户的进度与文案。
const (
	progressSubmitting = 10
	progressAwaiting   = 70
	progressConfirming = 85
	progressSettled    = 100

	messageSubmitting = "Uploading code package..."
	messageAwaiting   = "Processing payment on blockchain..."
	messageConfirming = "Waiting for transaction confirmation..."
	messageSettled    = "Successfully deployed! Transaction hash: "
)

// Session 是当前上传会话的快照。
type Session struct {
	ID            string    `json:"id,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
	Runtime       string    `json:"runtime,omitempty"`
	Phase         Phase     `json:"phase"`
	SubmissionID  string    `json:"submission_id,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	ValueWei      string    `json:"value_wei,omitempty"`
	StatusMessage string    `json:"status_message,omitempty"`
	Progress      int       `json:"progress"`
	ErrorCode     string    `json:"error_code,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

func idleSession() Session {
	return Session{Phase: PhaseIdle}
}

// advance 切换到下一个阶段，进度在会话内只增不减。
func (s *Session) advance(phase Phase, progress int, message string, now time.Time) {
	s.Phase = phase
	if progress > s.Progress {
		s.Progress = progress
	}
	s.StatusMessage = message
	s.UpdatedAt = now
}

// fail 结束会话，保留已达到的进度，优先使用服务方给出的错误信息。
func (s *Session) fail(err error, now time.Time) {
	s.Phase = PhaseFailed
	s.ErrorCode = string(xerrors.CodeOf(err))
	s.StatusMessage = xerrors.MessageOf(err)
	s.UpdatedAt = now
}

func (s Session) journalEntry() journal.Entry {
	return journal.Entry{
		SessionID:    s.ID,
		DeploymentID: s.SubmissionID,
		Runtime:      s.Runtime,
		FileName:     s.FileName,
		Phase:        string(s.Phase),
		Progress:     s.Progress,
		Message:      s.StatusMessage,
		TxHash:       s.TxHash,
		ValueWei:     s.ValueWei,
		ErrorCode:    s.ErrorCode,
		CreatedAt:    s.StartedAt,
	}
}
