package caller

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Signer signs rollover transactions with a raw private key
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from a hex-encoded private key (0x prefix optional)
func NewSigner(hexKey string) (*Signer, error) {
	privateKey, err := utils.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}

	return &Signer{
		privateKey: privateKey,
		address:    utils.AddressFromKey(privateKey),
	}, nil
}

// Address returns the signer's account address
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTransaction signs tx for the given chain
func (s *Signer) SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}
