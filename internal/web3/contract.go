package web3

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// FileUploadFeeABI is the interface of the fee contract: uploadFile tags a
// payment with a submission identifier, fee and owner are read-only.
const FileUploadFeeABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"_fee","type":"uint256"},{"name":"_owner","type":"address"}]},
	{"type":"function","name":"uploadFile","stateMutability":"payable","inputs":[{"name":"fileHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"fee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const (
	MethodUploadFile = "uploadFile"
	MethodFee        = "fee"
	MethodOwner      = "owner"
)

// ParseFileUploadFeeABI parses FileUploadFeeABI.
func ParseFileUploadFeeABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(FileUploadFeeABI))
}
