package chain

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ResolveAddress returns address when set, otherwise the address of the
// private key held in the privateKeyEnv environment variable.
func ResolveAddress(address, privateKeyEnv string) (common.Address, error) {
	if address = strings.TrimSpace(address); address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, fmt.Errorf("invalid address %q", address)
		}
		return common.HexToAddress(address), nil
	}
	if privateKeyEnv == "" {
		return common.Address{}, fmt.Errorf("address or private key env is required")
	}
	key := strings.TrimSpace(os.Getenv(privateKeyEnv))
	if key == "" {
		return common.Address{}, fmt.Errorf("%s is not set", privateKeyEnv)
	}
	return AddressFromKey(key)
}

func AddressFromKey(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
