package caller

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultMethod is the contract function invoked on every run
const DefaultMethod = "rollover"

// abiFragment describes a single zero-argument, non-payable function with no outputs
const abiFragment = `[{"type":"function","name":"%s","inputs":[],"outputs":[],"stateMutability":"nonpayable"}]`

// ParseABI returns the ABI for `function <method>() public`
func ParseABI(method string) (abi.ABI, error) {
	if method == "" || strings.ContainsAny(method, `"\ (),`) {
		return abi.ABI{}, fmt.Errorf("invalid method name %q", method)
	}

	parsed, err := abi.JSON(strings.NewReader(fmt.Sprintf(abiFragment, method)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}
