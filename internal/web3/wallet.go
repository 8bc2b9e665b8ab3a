package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a signing capability bound to one account.
type Wallet interface {
	Address() common.Address
	Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeyWallet signs with an in-memory secp256k1 key.
type KeyWallet struct {
	key *ecdsa.PrivateKey
}

// NewKeyWallet wraps an already loaded key.
func NewKeyWallet(key *ecdsa.PrivateKey) (*KeyWallet, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &KeyWallet{key: key}, nil
}

// KeyWalletFromHex parses a hex encoded private key, with or without 0x.
func KeyWalletFromHex(raw string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyWallet(key)
}

// KeyWalletFromKeystore decrypts a V3 keystore file.
func KeyWalletFromKeystore(path, passphrase string) (*KeyWallet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(content, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return NewKeyWallet(key.PrivateKey)
}

// Address returns the account the wallet signs for.
func (w *KeyWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// Transactor builds transact options for chainID.
func (w *KeyWallet) Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// ApprovalRequest describes a transaction waiting for the user's consent.
type ApprovalRequest struct {
	From    common.Address
	To      *common.Address
	Value   *big.Int
	Gas     uint64
	ChainID *big.Int
}

// Approver decides whether a transaction may be signed.
type Approver func(ctx context.Context, req ApprovalRequest) (bool, error)

// ApprovalWallet asks an Approver before every signature, the way a browser
// wallet prompts its user.
type ApprovalWallet struct {
	inner   Wallet
	approve Approver
}

// NewApprovalWallet wraps inner. A nil approver approves everything.
func NewApprovalWallet(inner Wallet, approve Approver) *ApprovalWallet {
	return &ApprovalWallet{inner: inner, approve: approve}
}

// Address returns the wrapped wallet's account.
func (w *ApprovalWallet) Address() common.Address {
	return w.inner.Address()
}

// Transactor returns options whose signer consults the approver first and
// fails with ErrSigningDeclined when consent is refused.
func (w *ApprovalWallet) Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := w.inner.Transactor(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if w.approve == nil {
		return opts, nil
	}
	sign := opts.Signer
	opts.Signer = func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		ok, err := w.approve(ctx, ApprovalRequest{
			From:    from,
			To:      tx.To(),
			Value:   tx.Value(),
			Gas:     tx.Gas(),
			ChainID: chainID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSigningDeclined, err)
		}
		if !ok {
			return nil, ErrSigningDeclined
		}
		return sign(from, tx)
	}
	return opts, nil
}
