package utils

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// GenerateID returns a new random attempt identifier
func GenerateID() string {
	return uuid.NewString()
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// ParsePrivateKey parses a hex private key, with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimSpace(hexKey)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		// never echo the key itself
		return nil, NewAppError(ErrCodeConfiguration, "Invalid private key", err.Error())
	}
	return privateKey, nil
}

// AddressFromKey derives the account address for a private key
func AddressFromKey(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ShortHash abbreviates a hex hash for log output
func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:10] + "..."
}
