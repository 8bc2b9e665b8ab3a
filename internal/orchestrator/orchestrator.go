package orchestrator

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/events"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/observability/tracing"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/pkg/logger"
)

const tracerName = "DRaaS-Chain/orchestrator"

// DefaultPaymentTimeout 是等待链上确认的默认上限。
const DefaultPaymentTimeout = 5 * time.Minute

// Scheduler 是编排器依赖的调度 API 子集。
type Scheduler interface {
	SubmitCode(ctx context.Context, upload scheduling.Upload) (string, error)
	CancelDeployment(ctx context.Context, deploymentID, agentIP string) (string, error)
}

// Store 是编排器依赖的对账存储子集。
type Store interface {
	Refresh(ctx context.Context) error
	Deployment(id string) (scheduling.Deployment, bool)
	Agent(id string) (scheduling.Agent, bool)
	SelectedID() string
	ClearSelection()
}

// Orchestrator 串联代码提交与链上付费，同一时刻最多只有一个活动会话。
type Orchestrator struct {
	scheduler      Scheduler
	payer          web3.FeePayer
	store          Store
	journal        journal.Store
	publisher      events.Publisher
	paymentTimeout time.Duration
	log            *slog.Logger

	mu      sync.Mutex
	session Session

	// 异步会话的生命周期。
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithJournal 设置支付日志。
func WithJournal(store journal.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.journal = store
		}
	}
}

// WithPublisher 设置会话事件的发布渠道。
func WithPublisher(publisher events.Publisher) Option {
	return func(o *Orchestrator) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithPaymentTimeout 设置等待交易确认的上限。
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.paymentTimeout = timeout
		}
	}
}

// New 创建编排器。payer 为 nil 表示没有可用的钱包。
func New(scheduler Scheduler, payer web3.FeePayer, store Store, opts ...Option) *Orchestrator {
	runCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		scheduler:      scheduler,
		payer:          payer,
		store:          store,
		journal:        journal.NewMemoryStore(),
		publisher:      events.Discard{},
		paymentTimeout: DefaultPaymentTimeout,
		log:            logger.Named("orchestrator"),
		session:        idleSession(),
		runCtx:         runCtx,
		runCancel:      cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Session 返回当前会话的快照。
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// WalletAvailable 判断是否配置了签名钱包。
func (o *Orchestrator) WalletAvailable() bool {
	return o.payer != nil && o.payer.WalletAvailable()
}

// RequestUpload 同步执行一次完整的上传会话，返回会话的终态。
func (o *Orchestrator) RequestUpload(ctx context.Context, upload scheduling.Upload) (Session, error) {
	upload, session, err := o.admit(ctx, upload)
	if err != nil {
		return session, err
	}
	return o.run(ctx, upload)
}

// StartUpload 校验并受理会话后在后台执行，立即返回 Submitting 阶段的快照。
// 后台会话不随 ctx 取消，只在 Close 时中止。
func (o *Orchestrator) StartUpload(ctx context.Context, upload scheduling.Upload) (Session, error) {
	upload, session, err := o.admit(ctx, upload)
	if err != nil {
		return session, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runCtx, cancel := mergeCancel(context.WithoutCancel(ctx), o.runCtx)
		defer cancel()
		_, _ = o.run(runCtx, upload)
	}()
	return session, nil
}

// admit 执行 Idle → Submitting 的转换。没有钱包时保持 Idle，不发起任何网络请求。
func (o *Orchestrator) admit(ctx context.Context, upload scheduling.Upload) (scheduling.Upload, Session, error) {
	if len(upload.Content) == 0 {
		return upload, o.Session(), xerrors.New(CodeInvalidUpload, "")
	}
	runtime, err := scheduling.ParseRuntime(string(upload.Type))
	if err != nil {
		return upload, o.Session(), xerrors.Wrap(CodeInvalidUpload, err, "Unsupported runtime type")
	}
	upload.Type = runtime

	o.mu.Lock()
	if o.session.Phase.Active() {
		current := o.session
		o.mu.Unlock()
		return upload, current, ErrUploadInProgress
	}
	if !o.WalletAvailable() {
		o.session = idleSession()
		o.session.StatusMessage = web3.ErrWalletUnavailable.Message()
		o.session.ErrorCode = string(web3.CodeWalletUnavailable)
		current := o.session
		o.mu.Unlock()
		return upload, current, web3.ErrWalletUnavailable
	}

	now := time.Now().UTC()
	o.session = Session{
		ID:        uuid.NewString(),
		FileName:  upload.FileName,
		Runtime:   string(upload.Type),
		StartedAt: now,
	}
	o.session.advance(PhaseSubmitting, progressSubmitting, messageSubmitting, now)
	session := o.session
	o.mu.Unlock()

	o.log.Info("upload session started",
		slog.String("session_id", session.ID),
		slog.String("file", session.FileName),
		slog.String("runtime", session.Runtime))
	o.record(ctx, session)
	return upload, session, nil
}

// run 从 Submitting 推进到 Settled 或 Failed。
func (o *Orchestrator) run(ctx context.Context, upload scheduling.Upload) (Session, error) {
	ctx, span := tracing.Start(ctx, tracerName, "upload.session",
		attribute.String("session.id", o.Session().ID),
		attribute.String("upload.runtime", string(upload.Type)))
	var err error
	defer func() { tracing.End(span, err) }()

	// Submitting → AwaitingPayment：提交只尝试一次。
	submitCtx, submitSpan := tracing.Start(ctx, tracerName, "upload.submit")
	submissionID, err := o.scheduler.SubmitCode(submitCtx, upload)
	tracing.End(submitSpan, err)
	if err != nil {
		return o.finish(ctx, err)
	}
	o.update(ctx, func(s *Session, now time.Time) {
		s.SubmissionID = submissionID
		s.advance(PhaseAwaitingPayment, progressAwaiting, messageAwaiting, now)
	})
	span.SetAttributes(attribute.String("deployment.id", submissionID))

	// AwaitingPayment → Confirming：进入付费前再次确认钱包。
	if !o.WalletAvailable() {
		err = web3.ErrWalletUnavailable
		return o.finish(ctx, err)
	}
	payCtx, paySpan := tracing.Start(ctx, tracerName, "upload.pay", attribute.String("deployment.id", submissionID))
	pending, err := o.payer.SubmitFee(payCtx, submissionID)
	tracing.End(paySpan, err)
	if err != nil {
		err = web3.ClassifySendError(err)
		return o.finish(ctx, err)
	}
	o.update(ctx, func(s *Session, now time.Time) {
		s.TxHash = pending.TxHash.Hex()
		if pending.Value != nil {
			s.ValueWei = pending.Value.String()
		}
		s.advance(PhaseConfirming, progressConfirming, messageConfirming, now)
	})

	// Confirming → Settled：确认等待由编排器限时。
	waitCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	confirmCtx, confirmSpan := tracing.Start(waitCtx, tracerName, "upload.confirm", attribute.String("tx.hash", pending.TxHash.Hex()))
	receipt, err := o.payer.AwaitConfirmation(confirmCtx, pending)
	tracing.End(confirmSpan, err)
	cancel()
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
			err = web3.TimeoutError(err)
		}
		return o.finish(ctx, err)
	}
	metrics.ObserveConfirmation(time.Since(pending.SubmittedAt))

	o.update(ctx, func(s *Session, now time.Time) {
		s.TxHash = receipt.TxHash.Hex()
		s.advance(PhaseSettled, progressSettled, messageSettled+web3.ShortHash(receipt.TxHash), now)
	})
	session := o.Session()
	o.audit(session)
	metrics.ObserveSession(string(session.Phase), "")

	// 立即刷新，新部署无需等待下一次轮询即可出现。
	if o.store != nil {
		if refreshErr := o.store.Refresh(ctx); refreshErr != nil {
			o.log.Warn("post-settle refresh incomplete", slog.Any("error", refreshErr))
		}
	}
	return session, nil
}

// finish 将会话置为 Failed 并返回错误。
func (o *Orchestrator) finish(ctx context.Context, err error) (Session, error) {
	o.update(ctx, func(s *Session, now time.Time) {
		s.fail(err, now)
	})
	session := o.Session()
	o.log.Warn("upload session failed",
		slog.String("session_id", session.ID),
		slog.String("deployment_id", session.SubmissionID),
		slog.String("error_code", session.ErrorCode),
		slog.Any("error", err))
	o.audit(session)
	metrics.ObserveSession(string(session.Phase), session.ErrorCode)
	return session, err
}

// update 在锁内修改会话，然后写入日志并发布事件。
func (o *Orchestrator) update(ctx context.Context, mutate func(*Session, time.Time)) {
	o.mu.Lock()
	mutate(&o.session, time.Now().UTC())
	session := o.session
	o.mu.Unlock()
	o.record(ctx, session)
}

func (o *Orchestrator) record(ctx context.Context, session Session) {
	// 日志与事件属于旁路，失败不影响会话。
	ctx = context.WithoutCancel(ctx)
	if err := o.journal.Record(ctx, session.journalEntry()); err != nil {
		o.log.Warn("journal write failed", slog.String("session_id", session.ID), slog.Any("error", err))
	}
	event := events.New(events.KindSessionPhase)
	event.SessionID = session.ID
	event.DeploymentID = session.SubmissionID
	event.Phase = string(session.Phase)
	event.Progress = session.Progress
	event.Message = session.StatusMessage
	event.TxHash = session.TxHash
	event.ErrorCode = session.ErrorCode
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.log.Warn("event publish failed", slog.String("session_id", session.ID), slog.Any("error", err))
	}
}

func (o *Orchestrator) audit(session Session) {
	logger.Audit().Info("upload session finished",
		slog.String("session_id", session.ID),
		slog.String("deployment_id", session.SubmissionID),
		slog.String("tx_hash", session.TxHash),
		slog.String("value_wei", session.ValueWei),
		slog.String("phase", string(session.Phase)),
		slog.String("error_code", session.ErrorCode))
}

// Acknowledge 确认已结束的会话并回到 Idle。
func (o *Orchestrator) Acknowledge() (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.Phase.Active() {
		return o.session, ErrUploadInProgress
	}
	previous := o.session
	o.session = idleSession()
	return previous, nil
}

// Reset 在离开页面等场景下丢弃空闲或已结束的会话，活动会话不受影响。
func (o *Orchestrator) Reset() error {
	_, err := o.Acknowledge()
	return err
}

// Close 中止后台会话并等待其退出。
func (o *Orchestrator) Close() {
	o.runCancel()
	o.wg.Wait()
}

// mergeCancel 返回携带 parent 值、并在 other 取消时一并取消的上下文。
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
