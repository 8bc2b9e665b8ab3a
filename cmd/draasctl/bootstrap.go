package main

import (
	"context"
	"strings"

	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/internal/web3/provider"
)

// newSchedulerClient 根据配置构造调度 API 客户端。
func newSchedulerClient(cfg config.SchedulerConfig) (*scheduling.Client, error) {
	policy := scheduling.DefaultRetryPolicy()
	policy.MaxRetries = cfg.Retries
	return scheduling.NewClient(scheduling.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout(),
		Headers:   cfg.Headers,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Retry:     &policy,
	})
}

// chainConfigured 判断是否配置了任何链端点。
func chainConfigured(cfg config.Web3Config) bool {
	return strings.TrimSpace(cfg.RPCURL) != "" || strings.TrimSpace(cfg.ChainConfig) != ""
}

// openChain 加载钱包并连接默认链。未配置链端点时返回 nil 客户端，
// 此时上传会在发起任何网络请求前被拒绝。approve 非 nil 时每次签名前先征得确认。
func openChain(ctx context.Context, cfg config.Web3Config, approve web3.Approver) (*provider.Registry, web3.Client, error) {
	if !chainConfigured(cfg) {
		return nil, nil, nil
	}
	wallet, err := provider.LoadWallet(cfg)
	if err != nil {
		return nil, nil, err
	}
	if wallet != nil && approve != nil {
		wallet = web3.NewApprovalWallet(wallet, approve)
	}
	registry, err := provider.NewRegistry(ctx, cfg, wallet, provider.DialEthereum)
	if err != nil {
		return nil, nil, err
	}
	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return registry, client, nil
}
