package orchestrator_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/internal/web3/ethereum"
)

// feeContractBin answers every call with 0.01 ether, standing in for fee().
const feeContractBin = "0x6010600c60003960106000f3662386f26fc1000060005260206000f3"

// fakeSchedulerAPI serves the scheduler endpoints; an uploaded package shows
// up as a pending deployment on the next poll.
type fakeSchedulerAPI struct {
	mu          sync.Mutex
	deployments map[string]map[string]string
	uploads     int
	cancels     []map[string]string
}

func (f *fakeSchedulerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/agents":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agent-1": map[string]any{"ip": "10.0.0.2:5001", "cpu": 12.5, "memory": 2048, "state": "Free", "Reuptation": 80, "last_seen": 1700000000},
		})
	case "/deployments":
		_ = json.NewEncoder(w).Encode(f.deployments)
	case "/deployment_logs":
		dep, ok := f.deployments[r.URL.Query().Get("deployment_id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Deployment not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       dep["status"],
			"logs":         "Serving on :80",
			"mapped_ports": map[string]any{"80/tcp": []map[string]string{{"HostIp": "0.0.0.0", "HostPort": "32768"}}},
		})
	case "/upload_code":
		if _, _, err := r.FormFile("code"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "No file provided"})
			return
		}
		f.uploads++
		f.deployments["d1"] = map[string]string{"deployment_id": "d1", "agent": "10.0.0.2:5001", "image": "python:3.11", "status": "pending"}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "deployed", "deployment_id": "d1", "agent": "10.0.0.2:5001"})
	case "/cancel_deployment":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.cancels = append(f.cancels, body)
		if dep, ok := f.deployments[body["deployment_id"]]; ok {
			dep["status"] = "cancelled"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSchedulerAPI) counts() (int, []map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, append([]map[string]string(nil), f.cancels...)
}

func TestUploadPayAndCancelAgainstSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	api := &fakeSchedulerAPI{deployments: map[string]map[string]string{}}
	server := httptest.NewServer(api)
	defer server.Close()

	schedulerClient, err := scheduling.NewClient(scheduling.Config{BaseURL: server.URL})
	require.NoError(t, err)
	store := reconcile.New(schedulerClient, time.Hour)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(1337)
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	require.NoError(t, err)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		auth.From: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))},
	})
	defer backend.Close()

	auth.GasLimit = 1_000_000
	contract, _, _, err := bind.DeployContract(auth, abi.ABI{}, common.FromHex(feeContractBin), backend.Client())
	require.NoError(t, err)
	backend.Commit()

	wallet, err := web3.NewKeyWallet(key)
	require.NoError(t, err)
	payer, err := ethereum.NewBackendClient(backend.Client(), ethereum.Config{
		Name:         "simulated",
		ChainID:      chainID,
		Contract:     contract,
		PollInterval: 10 * time.Millisecond,
	}, wallet, ethereum.WithCommit(backend.Commit))
	require.NoError(t, err)
	defer payer.Close()

	paymentJournal := journal.NewMemoryStore()
	orch := orchestrator.New(schedulerClient, payer, store,
		orchestrator.WithJournal(paymentJournal),
		orchestrator.WithPaymentTimeout(10*time.Second))
	defer orch.Close()

	session, err := orch.RequestUpload(ctx, scheduling.Upload{FileName: "app.zip", Content: []byte("PK"), Type: scheduling.RuntimePython})
	require.NoError(t, err)
	require.Equal(t, orchestrator.PhaseSettled, session.Phase)
	require.Equal(t, 100, session.Progress)
	require.Equal(t, "d1", session.SubmissionID)
	uploads, _ := api.counts()
	require.Equal(t, 1, uploads)

	// The settle step refreshed the store, so d1 is visible without a tick.
	dep, ok := store.Deployment("d1")
	require.True(t, ok)
	require.Equal(t, scheduling.StatusPending, dep.Status)

	balance, err := backend.Client().BalanceAt(ctx, contract, nil)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000_000_000_000_000), balance)

	unpaid, err := paymentJournal.Unpaid(ctx)
	require.NoError(t, err)
	require.Empty(t, unpaid)

	detail, err := store.SelectDeployment(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "32768", detail.MappedPorts["80/tcp"][0].HostPort)

	result, err := orch.RequestCancel(ctx)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	_, cancels := api.counts()
	require.Equal(t, []map[string]string{{"deployment_id": "d1", "agent_ip": "10.0.0.2:5001"}}, cancels)

	dep, _ = store.Deployment("d1")
	require.Equal(t, scheduling.StatusCancelled, dep.Status)
	require.Empty(t, store.SelectedID())

	again, err := orch.Cancel(ctx, "d1")
	require.NoError(t, err)
	require.True(t, again.Skipped)
	_, cancels = api.counts()
	require.Len(t, cancels, 1)
}
