package scheduling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "DRaaS-Chain/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		Headers: map[string]string{"ngrok-skip-browser-warning": "true"},
		Retry: &RetryPolicy{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
	})
	require.NoError(t, err)
	return client
}

func TestSubmitCodeSendsMultipartOnce(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "/upload_code", r.URL.Path)
		require.Equal(t, "true", r.Header.Get("ngrok-skip-browser-warning"))
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		file, header, err := r.FormFile("code")
		require.NoError(t, err)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "app.zip", header.Filename)
		require.Equal(t, "PK-bytes", string(content))
		require.Equal(t, "python", r.FormValue("type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "deployed", "deployment_id": "d1", "agent": "10.0.0.2:5001"})
	}))

	id, err := client.SubmitCode(context.Background(), Upload{FileName: "app.zip", Content: []byte("PK-bytes"), Type: RuntimePython})
	require.NoError(t, err)
	require.Equal(t, "d1", id)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmitCodeSurfacesServerMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"bad zip"}`))
	}))

	_, err := client.SubmitCode(context.Background(), Upload{FileName: "f.zip", Content: []byte("x"), Type: RuntimePython})
	require.Error(t, err)
	require.Equal(t, CodeSubmissionFailed, xerrors.CodeOf(err))
	require.Equal(t, "bad zip", xerrors.MessageOf(err))
}

func TestSubmitCodeIsNeverRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","message":{"error":"no capacity"}}`))
	}))

	_, err := client.SubmitCode(context.Background(), Upload{FileName: "f.zip", Content: []byte("x"), Type: RuntimeGolang})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Equal(t, `{"error":"no capacity"}`, xerrors.MessageOf(err))
}

func TestSubmitCodeWithoutMessageUsesGenericReason(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))

	_, err := client.SubmitCode(context.Background(), Upload{Content: []byte("x"), Type: RuntimeCustom})
	require.Equal(t, "Upload failed", xerrors.MessageOf(err))
}

func TestListAgentsDecodesHeartbeatRecords(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/agents", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"agent-1": {"ip": "10.0.0.2:5001", "cpu": 12.5, "memory": 40.1, "state": "Free", "Reuptation": 80, "last_seen": 1700000000.5},
			"agent-2": {"ip": "10.0.0.3:5001", "cpu": 91, "memory": 70, "state": "Busy", "last_seen": 1700000001}
		}`))
	}))

	agents, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	require.Equal(t, float64(80), agents["agent-1"].Reputation)
	require.Equal(t, float64(DefaultReputation), agents["agent-2"].Reputation)
	require.Equal(t, AgentBusy, agents["agent-2"].State)
	require.Equal(t, int64(1700000000), agents["agent-1"].LastSeenTime().Unix())
}

func TestListAgentsRejectsSchemaMismatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agent-1": {"ip": "10.0.0.2", "cpu": 250, "state": "Free"}}`))
	}))

	_, err := client.ListAgents(context.Background())
	require.Error(t, err)
	require.Equal(t, CodeTransientFetch, xerrors.CodeOf(err))
}

func TestListDeploymentsRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"d1": {"deployment_id": "d1", "agent": "10.0.0.2:5001", "image": "registry/d1:latest", "status": "running", "mapped_ports": {"80/tcp": [{"HostIp": "0.0.0.0", "HostPort": "32768"}], "443/tcp": null}}}`))
	}))

	deployments, err := client.ListDeployments(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))

	d1 := deployments["d1"]
	require.Equal(t, StatusRunning, d1.Status)
	require.Equal(t, "10.0.0.2:5001", d1.AgentID)
	require.Equal(t, []PortBinding{{HostIP: "0.0.0.0", HostPort: "32768"}}, d1.MappedPorts["80/tcp"])
	require.Equal(t, []string{"443/tcp", "80/tcp"}, d1.MappedPorts.Ports())
}

func TestListDeploymentsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.ListDeployments(context.Background())
	require.Equal(t, CodeTransientFetch, xerrors.CodeOf(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchDeploymentDetail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deployment_logs", r.URL.Path)
		require.Equal(t, "d1", r.URL.Query().Get("deployment_id"))
		_, _ = w.Write([]byte(`{"status": "completed", "logs": "hello\n", "mapped_ports": {"8080/tcp": [{"HostIp": "0.0.0.0", "HostPort": "49153"}]}}`))
	}))

	detail, err := client.FetchDeploymentDetail(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, "d1", detail.DeploymentID)
	require.Equal(t, StatusCompleted, detail.Status)
	require.Equal(t, "hello\n", detail.Logs)
	require.Equal(t, "49153", detail.MappedPorts["8080/tcp"][0].HostPort)
}

func TestCancelDeployment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cancel_deployment", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "d1", body["deployment_id"])
		require.Equal(t, "10.0.0.2:5001", body["agent_ip"])
		_, _ = w.Write([]byte(`{"status": "cancelled", "deployment_id": "d1"}`))
	}))

	status, err := client.CancelDeployment(context.Background(), "d1", "10.0.0.2:5001")
	require.NoError(t, err)
	require.Equal(t, "cancelled", status)
}

func TestCancelDeploymentFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status": "error", "message": "Unknown deployment id"}`))
	}))

	_, err := client.CancelDeployment(context.Background(), "ghost", "")
	require.Equal(t, CodeCancelFailed, xerrors.CodeOf(err))
	require.Equal(t, "Unknown deployment id", xerrors.MessageOf(err))
}

func TestStatusTransitions(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusPending, StatusRunning))
	require.NoError(t, ValidateTransition(StatusRunning, StatusCompleted))
	require.Error(t, ValidateTransition(StatusRunning, StatusPending))
	require.Error(t, ValidateTransition(StatusCancelled, StatusRunning))
	require.True(t, StatusFailed.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())
}

func TestParseRuntime(t *testing.T) {
	rt, err := ParseRuntime(" NodeJS ")
	require.NoError(t, err)
	require.Equal(t, RuntimeNodeJS, rt)

	_, err = ParseRuntime("cobol")
	require.Error(t, err)
}
