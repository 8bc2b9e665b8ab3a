package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/internal/web3/ethereum"
)

// Registry manages a set of fee clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// Dialer builds a client for one chain definition. Tests replace it to avoid
// real RPC connections.
type Dialer func(ctx context.Context, cfg ethereum.Config, wallet web3.Wallet) (web3.Client, error)

// DialEthereum is the default Dialer.
func DialEthereum(ctx context.Context, cfg ethereum.Config, wallet web3.Wallet) (web3.Client, error) {
	client, err := ethereum.NewClient(ctx, cfg, wallet)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewRegistry loads chain definitions and instantiates concrete clients that
// share wallet. A nil dial uses DialEthereum.
func NewRegistry(ctx context.Context, cfg config.Web3Config, wallet web3.Wallet, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEthereum
	}
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	registry := &Registry{clients: make(map[string]web3.Client)}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			registry.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		clientCfg, err := chainConfig(name, chain, cfg)
		if err != nil {
			registry.Close()
			return nil, err
		}
		client, err := dial(ctx, clientCfg, wallet)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		registry.clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		defaultChain = strings.TrimSpace(defs.Default)
	}

	if len(registry.clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		clientCfg, err := chainConfig("default", web3.ChainDefinition{
			RPCURL:   cfg.RPCURL,
			Contract: cfg.ContractAddress,
			FeeWei:   cfg.FeeWei,
		}, cfg)
		if err != nil {
			return nil, err
		}
		client, err := dial(ctx, clientCfg, wallet)
		if err != nil {
			return nil, err
		}
		registry.clients["default"] = client
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(registry.clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = registry.Chains()[0]
	}
	if _, ok := registry.clients[defaultChain]; !ok {
		registry.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

func chainConfig(name string, chain web3.ChainDefinition, cfg config.Web3Config) (ethereum.Config, error) {
	contract := strings.TrimSpace(chain.Contract)
	if contract == "" {
		contract = strings.TrimSpace(cfg.ContractAddress)
	}
	if !common.IsHexAddress(contract) {
		return ethereum.Config{}, fmt.Errorf("链 %s 的合约地址无效: %q", name, contract)
	}

	out := ethereum.Config{
		Name:          name,
		RPCURL:        chain.RPCURL,
		Notes:         chain.Description,
		Contract:      common.HexToAddress(contract),
		GasLimit:      cfg.GasLimit,
		PollInterval:  cfg.ReceiptPollInterval(),
		Confirmations: cfg.Confirmations,
	}
	if chain.ChainID > 0 {
		out.ChainID = big.NewInt(chain.ChainID)
	}

	feeWei := strings.TrimSpace(chain.FeeWei)
	if feeWei == "" {
		feeWei = strings.TrimSpace(cfg.FeeWei)
	}
	if feeWei != "" {
		fee, ok := new(big.Int).SetString(feeWei, 10)
		if !ok || fee.Sign() < 0 {
			return ethereum.Config{}, fmt.Errorf("链 %s 的费用配置无效: %q", name, feeWei)
		}
		out.Fee = fee
	}
	return out, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
