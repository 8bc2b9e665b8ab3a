package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/pkg/logger"
)

// DefaultPollInterval is how often a pending receipt is looked up.
const DefaultPollInterval = 2 * time.Second

// Config describes how to construct an EVM compatible fee client.
type Config struct {
	Name     string
	RPCURL   string
	Notes    string
	ChainID  *big.Int
	Contract common.Address
	// Fee overrides the value sent with uploadFile; nil reads fee() from the
	// contract before each payment.
	Fee           *big.Int
	GasLimit      uint64
	PollInterval  time.Duration
	Confirmations uint64
}

// Backend is the chain access a Client needs. Both *ethclient.Client and the
// simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error)
}

// Option customises a Client.
type Option func(*Client)

// WithCommit makes the client seal a block after every send. Only useful
// against a simulated chain that does not mine on its own.
func WithCommit(commit func() common.Hash) Option {
	return func(c *Client) {
		c.commit = commit
	}
}

// Client pays upload fees through the FileUploadFee contract.
type Client struct {
	name          string
	notes         string
	rpcClient     *gethrpc.Client
	eth           *ethclient.Client
	backend       Backend
	commit        func() common.Hash
	wallet        web3.Wallet
	contract      *bind.BoundContract
	address       common.Address
	fee           *big.Int
	gasLimit      uint64
	pollInterval  time.Duration
	confirmations uint64
	log           *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
// wallet may be nil, in which case the client can read the contract but not pay.
func NewClient(ctx context.Context, cfg Config, wallet web3.Wallet) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client, err := NewBackendClient(eth, cfg, wallet)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	client.eth = eth
	return client, nil
}

// NewBackendClient builds a client on top of an existing backend.
func NewBackendClient(backend Backend, cfg Config, wallet web3.Wallet, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("未配置付费合约地址")
	}
	parsed, err := web3.ParseFileUploadFeeABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ABI 失败: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	c := &Client{
		name:          cfg.Name,
		notes:         cfg.Notes,
		backend:       backend,
		wallet:        wallet,
		contract:      bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
		address:       cfg.Contract,
		gasLimit:      cfg.GasLimit,
		pollInterval:  poll,
		confirmations: cfg.Confirmations,
		log:           logger.Named("web3").With(slog.String("chain", cfg.Name)),
	}
	if cfg.Fee != nil {
		c.fee = new(big.Int).Set(cfg.Fee)
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 {
		c.chainID = new(big.Int).Set(cfg.ChainID)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// WalletAvailable reports whether a signing wallet is attached.
func (c *Client) WalletAvailable() bool {
	return c != nil && c.wallet != nil
}

// SubmitFee sends uploadFile(tag) with the fee attached and returns once the
// node accepted the transaction.
func (c *Client) SubmitFee(ctx context.Context, tag string) (*web3.PendingPayment, error) {
	if !c.WalletAvailable() {
		return nil, web3.ErrWalletUnavailable
	}
	if strings.TrimSpace(tag) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payment tag is required")
	}

	// 签名前的读取失败属于节点故障，不是用户拒绝。
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, web3.ChainError(err)
	}
	value, err := c.Fee(ctx)
	if err != nil {
		return nil, web3.ChainError(err)
	}

	opts, err := c.wallet.Transactor(ctx, chainID)
	if err != nil {
		return nil, web3.RejectedError(fmt.Errorf("build transactor: %w", err))
	}
	opts.Value = value
	opts.GasLimit = c.gasLimit

	tx, err := c.contract.Transact(opts, web3.MethodUploadFile, tag)
	if err != nil {
		return nil, web3.ClassifySendError(err)
	}
	if c.commit != nil {
		c.commit()
	}

	c.log.Info("fee transaction sent",
		slog.String("tag", tag),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("value_wei", value.String()))
	return &web3.PendingPayment{
		Tag:         tag,
		TxHash:      tx.Hash(),
		From:        opts.From,
		Value:       value,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// AwaitConfirmation polls for the receipt of pending until it is mined (plus
// the configured confirmations) or ctx is done. It has no deadline of its own.
func (c *Client) AwaitConfirmation(ctx context.Context, pending *web3.PendingPayment) (web3.Receipt, error) {
	if pending == nil {
		return web3.Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "pending payment is required")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, pending.TxHash)
		switch {
		case err == nil && receipt != nil:
			if ready, err := c.confirmed(ctx, receipt); err != nil {
				c.log.Warn("block number lookup failed", slog.Any("error", err))
			} else if ready {
				return c.finish(pending, receipt)
			}
		case err != nil && !errors.Is(err, gethcore.NotFound):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return web3.Receipt{}, ctxErr
			}
			c.log.Warn("receipt lookup failed",
				slog.String("tx_hash", pending.TxHash.Hex()),
				slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return web3.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PaymentStatus reports whether an earlier fee transaction was mined, is
// still pending or is unknown to the node. A mined transaction still waiting
// for the configured confirmations counts as pending.
func (c *Client) PaymentStatus(ctx context.Context, hash common.Hash) (web3.PaymentState, web3.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	switch {
	case err == nil && receipt != nil:
		ready, err := c.confirmed(ctx, receipt)
		if err != nil {
			return web3.PaymentUnknown, web3.Receipt{}, web3.ChainError(err)
		}
		if !ready {
			return web3.PaymentPending, web3.Receipt{}, nil
		}
		return web3.PaymentMined, toReceipt(receipt), nil
	case err != nil && !errors.Is(err, gethcore.NotFound):
		return web3.PaymentUnknown, web3.Receipt{}, web3.ChainError(err)
	}

	_, _, err = c.backend.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		return web3.PaymentPending, web3.Receipt{}, nil
	case errors.Is(err, gethcore.NotFound):
		return web3.PaymentUnknown, web3.Receipt{}, nil
	default:
		return web3.PaymentUnknown, web3.Receipt{}, web3.ChainError(err)
	}
}

func (c *Client) confirmed(ctx context.Context, receipt *coretypes.Receipt) (bool, error) {
	if c.confirmations == 0 || receipt.BlockNumber == nil {
		return true, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head >= receipt.BlockNumber.Uint64()+c.confirmations, nil
}

func toReceipt(receipt *coretypes.Receipt) web3.Receipt {
	out := web3.Receipt{
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out
}

func (c *Client) finish(pending *web3.PendingPayment, receipt *coretypes.Receipt) (web3.Receipt, error) {
	out := toReceipt(receipt)
	if !out.Succeeded() {
		return out, web3.RevertedError(fmt.Errorf("transaction %s reverted in block %d", pending.TxHash.Hex(), out.BlockNumber))
	}
	return out, nil
}

// Fee returns the configured fee or, when none is configured, the contract's
// fee().
func (c *Client) Fee(ctx context.Context) (*big.Int, error) {
	if c.fee != nil {
		return new(big.Int).Set(c.fee), nil
	}
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, web3.MethodFee); err != nil {
		return nil, fmt.Errorf("读取合约费用失败: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("合约 fee() 没有返回值")
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("合约 fee() 返回了意外的类型 %T", out[0])
	}
	return fee, nil
}

// FeeInfo reads fee() and owner() from the contract.
func (c *Client) FeeInfo(ctx context.Context) (web3.FeeInfo, error) {
	info := web3.FeeInfo{Contract: c.address}

	var feeOut []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &feeOut, web3.MethodFee); err != nil {
		return info, fmt.Errorf("读取合约费用失败: %w", err)
	}
	var ownerOut []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &ownerOut, web3.MethodOwner); err != nil {
		return info, fmt.Errorf("读取合约所有者失败: %w", err)
	}
	if len(feeOut) > 0 {
		info.Fee, _ = feeOut[0].(*big.Int)
	}
	if len(ownerOut) > 0 {
		info.Owner, _ = ownerOut[0].(common.Address)
	}
	return info, nil
}

// Balance returns the wallet's balance at the latest block.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	if !c.WalletAvailable() {
		return nil, web3.ErrWalletUnavailable
	}
	balance, err := c.backend.BalanceAt(ctx, c.wallet.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// ChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) ChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// resolveChainID returns the configured chain id after checking that the node
// serves the same chain.
func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	configured := c.chainID
	c.mu.Unlock()

	remote, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if configured != nil && configured.Cmp(remote) != 0 {
		return nil, fmt.Errorf("节点链 ID %s 与配置的 %s 不一致", remote, configured)
	}
	if configured == nil {
		c.mu.Lock()
		c.chainID = new(big.Int).Set(remote)
		c.mu.Unlock()
	}
	return remote, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
