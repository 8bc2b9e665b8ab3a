package provider

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"DRaaS-Chain/internal/config"
)

func TestLoadWalletFromEnvironment(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("DRAAS_TEST_KEY", "0x"+hex.EncodeToString(crypto.FromECDSA(key)))

	wallet, err := LoadWallet(config.Web3Config{PrivateKeyEnv: "DRAAS_TEST_KEY"})
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	if wallet == nil || wallet.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected wallet %v", wallet)
	}
}

func TestLoadWalletNoneConfigured(t *testing.T) {
	wallet, err := LoadWallet(config.Web3Config{PrivateKeyEnv: "DRAAS_UNSET_KEY"})
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	if wallet != nil {
		t.Fatalf("expected no wallet, got %v", wallet)
	}
}

func TestLoadWalletBadKey(t *testing.T) {
	t.Setenv("DRAAS_TEST_KEY", "zz")
	if _, err := LoadWallet(config.Web3Config{PrivateKeyEnv: "DRAAS_TEST_KEY"}); err == nil {
		t.Fatal("expected parse error")
	}
}
