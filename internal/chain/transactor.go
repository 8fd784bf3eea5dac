package chain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Parse hex ECDSA private key (with / without 0x).
func hexToECDSAPriv(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

// NewTransactorFromHex builds *bind.TransactOpts from hex key and chain ID.
func NewTransactorFromHex(pkHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	prv, err := hexToECDSAPriv(pkHex)
	if err != nil {
		return nil, err
	}
	return bind.NewKeyedTransactorWithChainID(prv, chainID)
}

// AddressFromHex returns the address controlled by a hex private key.
func AddressFromHex(pkHex string) (common.Address, error) {
	prv, err := hexToECDSAPriv(pkHex)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(prv.PublicKey), nil
}
