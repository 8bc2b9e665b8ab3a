package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type agentsResponse struct {
	Agents    []scheduling.Agent `json:"agents"`
	FetchedAt time.Time          `json:"fetched_at"`
}

type deploymentsResponse struct {
	Deployments []scheduling.Deployment `json:"deployments"`
	FetchedAt   time.Time               `json:"fetched_at"`
}

type selectedResponse struct {
	SelectedID string                       `json:"selected_id"`
	Detail     *scheduling.DeploymentDetail `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"wallet": s.uploads.WalletAvailable(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshots.Snapshot()
	writeJSON(w, http.StatusOK, agentsResponse{Agents: sortedAgents(snap.Agents), FetchedAt: snap.AgentsFetchedAt})
}

func (s *Server) handleDeployments(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshots.Snapshot()
	writeJSON(w, http.StatusOK, deploymentsResponse{Deployments: sortedDeployments(snap.Deployments), FetchedAt: snap.DeploymentsFetchedAt})
}

// handleRefresh 手动触发一次刷新；与定时轮询共享同一次请求。
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.snapshots.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshots.Snapshot())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := s.snapshots.SelectDeployment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectedResponse{SelectedID: id, Detail: &detail})
}

func (s *Server) handleSelected(w http.ResponseWriter, _ *http.Request) {
	id := s.snapshots.SelectedID()
	if id == "" {
		s.writeError(w, reconcile.ErrNoSelection)
		return
	}
	resp := selectedResponse{SelectedID: id}
	if detail, ok := s.snapshots.SelectedDeploymentDetail(); ok {
		resp.Detail = &detail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshSelected(w http.ResponseWriter, r *http.Request) {
	detail, err := s.snapshots.RefreshSelected(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectedResponse{SelectedID: detail.DeploymentID, Detail: &detail})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.snapshots.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelSelected(w http.ResponseWriter, r *http.Request) {
	result, err := s.uploads.RequestCancel(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUpload 受理上传后立即返回 202，会话在后台继续推进。
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("code")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stdErrors.As(err, &tooLarge) {
			s.writeError(w, xerrors.Wrap(orchestrator.CodeInvalidUpload, err, "Code package is too large"))
			return
		}
		s.writeError(w, xerrors.Wrap(orchestrator.CodeInvalidUpload, err, ""))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, xerrors.Wrap(orchestrator.CodeInvalidUpload, err, "Failed to read code package"))
		return
	}

	session, err := s.uploads.StartUpload(r.Context(), scheduling.Upload{
		FileName: header.Filename,
		Content:  content,
		Type:     scheduling.Runtime(r.FormValue("type")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.uploads.Session())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, _ *http.Request) {
	previous, err := s.uploads.Acknowledge()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previous)
}

func (s *Server) handleUnpaid(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "payment journal is not configured"))
		return
	}
	entries, err := s.journal.Unpaid(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	live := ""
	if session := s.uploads.Session(); session.Phase.Active() {
		live = session.ID
	}
	entries = journal.Orphaned(entries, live, time.Now().UTC(), s.settleGrace)
	writeJSON(w, http.StatusOK, map[string]any{"payments": entries})
}

// handleReset 在客户端离开控制台时清空快照、选中项和已结束的会话。
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.uploads.Reset(); err != nil {
		s.writeError(w, err)
		return
	}
	s.snapshots.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(xerrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(xerrors.CodeOf(err)),
		Message: xerrors.MessageOf(err),
	}})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, orchestrator.CodeInvalidUpload:
		return http.StatusBadRequest
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound, orchestrator.CodeDeploymentNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, orchestrator.CodeUploadInProgress, reconcile.CodeSelectionSuperseded:
		return http.StatusConflict
	case web3.CodeWalletUnavailable:
		return http.StatusPreconditionFailed
	case scheduling.CodeTransientFetch, scheduling.CodeCancelFailed:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout, web3.CodeTransactionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sortedAgents(in map[string]scheduling.Agent) []scheduling.Agent {
	out := make([]scheduling.Agent, 0, len(in))
	for _, agent := range in {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedDeployments(in map[string]scheduling.Deployment) []scheduling.Deployment {
	out := make([]scheduling.Deployment, 0, len(in))
	for _, dep := range in {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
