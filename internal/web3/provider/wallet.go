package provider

import (
	"os"
	"strings"

	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/internal/web3"
)

// LoadWallet builds the signing wallet described by cfg. It returns a nil
// wallet and no error when neither a private key nor a keystore is configured;
// uploads are then refused before any network call.
func LoadWallet(cfg config.Web3Config) (web3.Wallet, error) {
	if env := strings.TrimSpace(cfg.PrivateKeyEnv); env != "" {
		if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
			wallet, err := web3.KeyWalletFromHex(raw)
			if err != nil {
				return nil, err
			}
			return wallet, nil
		}
	}
	if path := strings.TrimSpace(cfg.KeystorePath); path != "" {
		passphrase := ""
		if env := strings.TrimSpace(cfg.KeystorePassEnv); env != "" {
			passphrase = os.Getenv(env)
		}
		wallet, err := web3.KeyWalletFromKeystore(path, passphrase)
		if err != nil {
			return nil, err
		}
		return wallet, nil
	}
	return nil, nil
}
