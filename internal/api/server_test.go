package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
)

// fakeScheduler 同时充当编排器的调度器与对账存储的数据源。
type fakeScheduler struct {
	mu          sync.Mutex
	deployments map[string]scheduling.Deployment
	submitErr   error
	submitGate  chan struct{}
	cancels     int
}

func (f *fakeScheduler) ListAgents(context.Context) (map[string]scheduling.Agent, error) {
	return map[string]scheduling.Agent{
		"b": {ID: "b", IP: "10.0.0.3:5001", State: scheduling.AgentBusy, Reputation: 50},
		"a": {ID: "a", IP: "10.0.0.2:5001", State: scheduling.AgentFree, Reputation: 80},
	}, nil
}

func (f *fakeScheduler) ListDeployments(context.Context) (map[string]scheduling.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]scheduling.Deployment, len(f.deployments))
	for k, v := range f.deployments {
		out[k] = v
	}
	return out, nil
}

func (f *fakeScheduler) FetchDeploymentDetail(_ context.Context, id string) (scheduling.DeploymentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deployments[id]
	if !ok {
		return scheduling.DeploymentDetail{}, xerrors.New(scheduling.CodeTransientFetch, "")
	}
	return scheduling.DeploymentDetail{DeploymentID: id, Status: dep.Status, Logs: "hello"}, nil
}

func (f *fakeScheduler) SubmitCode(context.Context, scheduling.Upload) (string, error) {
	if f.submitGate != nil {
		<-f.submitGate
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments["d1"] = scheduling.Deployment{ID: "d1", AgentID: "10.0.0.2:5001", Status: scheduling.StatusPending}
	return "d1", nil
}

func (f *fakeScheduler) CancelDeployment(_ context.Context, id, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	dep := f.deployments[id]
	dep.Status = scheduling.StatusCancelled
	f.deployments[id] = dep
	return "cancelled", nil
}

type fakePayer struct{ wallet bool }

func (p fakePayer) WalletAvailable() bool { return p.wallet }
func (p fakePayer) SubmitFee(_ context.Context, tag string) (*web3.PendingPayment, error) {
	return &web3.PendingPayment{Tag: tag, TxHash: common.HexToHash("0xabc"), Value: big.NewInt(1), SubmittedAt: time.Now()}, nil
}
func (p fakePayer) AwaitConfirmation(_ context.Context, pending *web3.PendingPayment) (web3.Receipt, error) {
	return web3.Receipt{TxHash: pending.TxHash, Status: 1, BlockNumber: 1}, nil
}
func (p fakePayer) Fee(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

type fixture struct {
	scheduler *fakeScheduler
	store     *reconcile.Store
	orch      *orchestrator.Orchestrator
	journal   *journal.MemoryStore
	handler   http.Handler
}

func newFixture(t *testing.T, wallet bool) *fixture {
	t.Helper()
	f := &fixture{
		scheduler: &fakeScheduler{deployments: map[string]scheduling.Deployment{
			"d0": {ID: "d0", AgentID: "10.0.0.3:5001", Status: scheduling.StatusRunning},
			"dx": {ID: "dx", AgentID: "10.0.0.3:5001", Status: scheduling.StatusFailed},
		}},
		journal: journal.NewMemoryStore(),
	}
	f.store = reconcile.New(f.scheduler, time.Hour)
	f.orch = orchestrator.New(f.scheduler, fakePayer{wallet: wallet}, f.store, orchestrator.WithJournal(f.journal))
	t.Cleanup(f.orch.Close)
	require.NoError(t, f.store.Refresh(context.Background()))
	f.handler = NewServer(":0", f.orch, f.store, WithJournal(f.journal), WithMaxUploadBytes(1024)).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, content []byte, runtime string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("code", "app.zip")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("type", runtime))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestListAgentsSorted(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/agents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 2)
	require.Equal(t, "a", resp.Agents[0].ID)
	require.False(t, resp.FetchedAt.IsZero())
}

func TestUploadFlow(t *testing.T) {
	f := newFixture(t, true)
	body, contentType := multipartUpload(t, []byte("PK"), "python")

	rec := f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var session orchestrator.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, orchestrator.PhaseSubmitting, session.Phase)

	require.Eventually(t, func() bool {
		return f.orch.Session().Phase == orchestrator.PhaseSettled
	}, time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/session", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, 100, session.Progress)
	require.Equal(t, "d1", session.SubmissionID)

	rec = f.do(t, http.MethodGet, "/api/v1/deployments", nil, "")
	var deps deploymentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deps))
	require.Len(t, deps.Deployments, 3)

	rec = f.do(t, http.MethodDelete, "/api/v1/session", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, orchestrator.PhaseIdle, f.orch.Session().Phase)
}

func TestUploadConflictAndValidation(t *testing.T) {
	f := newFixture(t, true)
	f.scheduler.submitGate = make(chan struct{})
	defer close(f.scheduler.submitGate)

	body, contentType := multipartUpload(t, []byte("PK"), "python")
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType).Code)

	body, contentType = multipartUpload(t, []byte("PK"), "python")
	rec := f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(orchestrator.CodeUploadInProgress), decodeError(t, rec).Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/session", nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/uploads", bytes.NewBufferString("{}"), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartUpload(t, bytes.Repeat([]byte("x"), 4096), "python")
	rec = f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadWithoutWallet(t *testing.T) {
	f := newFixture(t, false)
	body, contentType := multipartUpload(t, []byte("PK"), "python")

	rec := f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	require.Equal(t, string(web3.CodeWalletUnavailable), decodeError(t, rec).Code)
}

func TestSelectAndCancel(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/api/v1/deployments/selected", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/deployments/d0/select", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var selected selectedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &selected))
	require.Equal(t, "hello", selected.Detail.Logs)

	rec = f.do(t, http.MethodPost, "/api/v1/deployments/selected/refresh", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/deployments/selected/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result orchestrator.CancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Skipped)
	require.Equal(t, 1, f.scheduler.cancels)
	require.Empty(t, f.store.SelectedID())
}

func TestCancelTerminalIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/deployments/dx/select", nil, "").Code)

	rec := f.do(t, http.MethodPost, "/api/v1/deployments/selected/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result orchestrator.CancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Skipped)
	require.Zero(t, f.scheduler.cancels)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/deployments/selected", nil, "").Code)
	require.Empty(t, f.store.SelectedID())
}

func TestSelectUnknownDeploymentIsBadGateway(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/api/v1/deployments/ghost/select", nil, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, string(scheduling.CodeTransientFetch), decodeError(t, rec).Code)
}

func TestUnpaidPayments(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.journal.Record(context.Background(), journal.Entry{
		SessionID: "s1", DeploymentID: "d9", Phase: journal.PhaseFailed, ErrorCode: "TRANSACTION_REJECTED",
	}))
	// 刚进入确认阶段的会话可能仍在等待回执，不应出现在补缴列表中。
	require.NoError(t, f.journal.Record(context.Background(), journal.Entry{
		SessionID: "s2", DeploymentID: "d8", Phase: journal.PhaseConfirming, TxHash: "0xabc",
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/payments/unpaid", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Payments []journal.Entry `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Payments, 1)
	require.Equal(t, "d9", resp.Payments[0].DeploymentID)
}

func TestResetState(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/api/v1/deployments/d0/select", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, contentType := multipartUpload(t, []byte("PK"), "python")
	rec = f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)
	// 等待结算后的刷新完成，新部署出现在快照中。
	require.Eventually(t, func() bool {
		_, ok := f.store.Deployment("d1")
		return f.orch.Session().Phase == orchestrator.PhaseSettled && ok
	}, time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodDelete, "/api/v1/state", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, orchestrator.PhaseIdle, f.orch.Session().Phase)
	require.Empty(t, f.store.SelectedID())
	require.Empty(t, f.store.CurrentDeployments())
}

func TestResetStateKeepsActiveUpload(t *testing.T) {
	f := newFixture(t, true)
	f.scheduler.submitGate = make(chan struct{})
	defer close(f.scheduler.submitGate)

	body, contentType := multipartUpload(t, []byte("PK"), "python")
	rec := f.do(t, http.MethodPost, "/api/v1/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/state", nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, orchestrator.PhaseSubmitting, f.orch.Session().Phase)
	require.NotEmpty(t, f.store.CurrentDeployments())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"wallet":false`)

	rec = f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "draas_http_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPut, "/api/v1/agents", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t, true)
	handler := NewServer(":0", f.orch, f.store, WithJournal(f.journal), WithToken("s3cret")).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// 健康检查不需要令牌。
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
