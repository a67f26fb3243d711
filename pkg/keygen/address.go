package keygen

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// PrivToPubKeyHash is the pay-to-pubkey-hash address for a key. Spendable
// outputs on this chain are always keyed by the compressed form.
func PrivToPubKeyHash(key *btcec.PrivateKey, compressed bool, params *chaincfg.Params) (btcutil.Address, error) {
	var raw []byte
	if compressed {
		raw = key.PubKey().SerializeCompressed()
	} else {
		raw = key.PubKey().SerializeUncompressed()
	}
	pkHash := btcutil.Hash160(raw)
	return btcutil.NewAddressPubKeyHash(pkHash, params)
}

// Address is the encoded form transactions carry.
func Address(key *btcec.PrivateKey, params *chaincfg.Params) (string, error) {
	addr, err := PrivToPubKeyHash(key, true, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
