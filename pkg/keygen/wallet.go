package keygen

import (
	"crypto/sha512"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// NewMnemonic returns a fresh BIP39 mnemonic. bits must be a multiple of 32
// between 128 and 256.
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives an extended key from a mnemonic and optional
// passphrase, walking the given derivation path.
func FromMnemonic(mnemonic, passphrase string, cfg *chaincfg.Params, derivationPath ...uint32) (*hdkeychain.ExtendedKey, error) {
	seed := bip39.NewSeed(mnemonic, passphrase)
	key, err := hdkeychain.NewMaster(seed, cfg)
	if err != nil {
		return nil, err
	}
	for _, num := range derivationPath {
		key, err = key.Derive(num)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func BrainKey(password string, cfg *chaincfg.Params, derivationPath ...uint32) (*hdkeychain.ExtendedKey, error) {
	hasher := sha512.New()                      // <-- use sha512 since it generates the highest complexity key
	hasher.Write([]byte("chaincore-brain-key")) // <-- salt to avoid potential weak keys
	hasher.Write([]byte(password))
	key, err := hdkeychain.NewMaster(hasher.Sum(nil), cfg)
	if err != nil {
		return nil, err
	}
	for _, num := range derivationPath {
		key, err = key.Derive(num)
		if err != nil {
			return nil, err
		}
	}
	return key, err
}

// FromInt is a deterministic key for tests and tooling.
func FromInt(num int) *btcec.PrivateKey {
	var mod btcec.ModNScalar
	mod.Zero()
	mod.SetInt(uint32(num))
	return btcec.PrivKeyFromScalar(&mod)
}
