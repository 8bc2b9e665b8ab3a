package provider

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/internal/web3/ethereum"
)

type stubClient struct {
	cfg    ethereum.Config
	closed bool
}

func (s *stubClient) WalletAvailable() bool { return false }
func (s *stubClient) SubmitFee(context.Context, string) (*web3.PendingPayment, error) {
	return nil, web3.ErrWalletUnavailable
}
func (s *stubClient) AwaitConfirmation(context.Context, *web3.PendingPayment) (web3.Receipt, error) {
	return web3.Receipt{}, nil
}
func (s *stubClient) PaymentStatus(context.Context, common.Hash) (web3.PaymentState, web3.Receipt, error) {
	return web3.PaymentUnknown, web3.Receipt{}, nil
}
func (s *stubClient) Fee(context.Context) (*big.Int, error)          { return s.cfg.Fee, nil }
func (s *stubClient) FeeInfo(context.Context) (web3.FeeInfo, error) { return web3.FeeInfo{}, nil }
func (s *stubClient) Balance(context.Context) (*big.Int, error)     { return nil, web3.ErrWalletUnavailable }
func (s *stubClient) ChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}
func (s *stubClient) Close() { s.closed = true }

func TestRegistryLoadsChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `default: sepolia
chains:
  sepolia:
    rpc_url: https://rpc.sepolia.example
    chain_id: 11155111
    contract: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
    fee_wei: "10000000000000000"
    description: public testnet
  local:
    rpc_url: http://127.0.0.1:8545
    chain_id: 31337
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	stubs := map[string]*stubClient{}
	dial := func(_ context.Context, cfg ethereum.Config, _ web3.Wallet) (web3.Client, error) {
		stub := &stubClient{cfg: cfg}
		stubs[cfg.Name] = stub
		return stub, nil
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{
		ChainConfig:       path,
		ContractAddress:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		ReceiptPollMillis: 500,
	}, nil, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if got := registry.DefaultChain(); got != "sepolia" {
		t.Fatalf("expected default sepolia, got %s", got)
	}
	if names := registry.Chains(); len(names) != 2 || names[0] != "local" {
		t.Fatalf("unexpected chains %v", names)
	}

	sepolia := stubs["sepolia"].cfg
	if sepolia.ChainID.Int64() != 11155111 || sepolia.Fee.String() != "10000000000000000" {
		t.Fatalf("unexpected sepolia config %+v", sepolia)
	}
	if sepolia.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", sepolia.PollInterval)
	}
	local := stubs["local"].cfg
	if local.Contract.Hex() != "0x5FbDB2315678afecb367f032d93F642f64180aa3" || local.Fee != nil {
		t.Fatalf("expected fallback contract and contract-read fee, got %+v", local)
	}

	registry.Close()
	if !stubs["sepolia"].closed || !stubs["local"].closed {
		t.Fatal("expected all clients to be closed")
	}
}

func TestRegistryRejectsInvalidContract(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.Web3Config{
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: "not-an-address",
	}, nil, func(context.Context, ethereum.Config, web3.Wallet) (web3.Client, error) {
		t.Fatal("dial must not be called")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error for invalid contract address")
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}, nil, nil); err == nil {
		t.Fatal("expected error without any chain")
	}
}
