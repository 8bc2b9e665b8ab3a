// Package web3 settles upload fees on an EVM chain. It defines the FeePayer
// contract the orchestrator drives, the signing wallets, the FileUploadFee
// contract ABI and the YAML chain definitions used to build clients.
package web3
