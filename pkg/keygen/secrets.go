package keygen

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/darwayne/errutil"
)

var _ txauthor.SecretsSource = (*MemorySecretStore)(nil)

func NewMemorySecretStore(keyMap map[string]*btcutil.WIF, params *chaincfg.Params) MemorySecretStore {
	if keyMap == nil {
		keyMap = make(map[string]*btcutil.WIF)
	}
	return MemorySecretStore{
		keyMap: keyMap,
		params: params,
	}
}

type MemorySecretStore struct {
	keyMap map[string]*btcutil.WIF
	params *chaincfg.Params
}

// Add registers a key under its pubkey-hash address and returns the address.
func (m MemorySecretStore) Add(key *btcec.PrivateKey) (string, error) {
	wif, err := btcutil.NewWIF(key, m.params, true)
	if err != nil {
		return "", err
	}
	addr, err := Address(key, m.params)
	if err != nil {
		return "", err
	}
	m.keyMap[addr] = wif
	return addr, nil
}

func (m MemorySecretStore) GetKey(address btcutil.Address) (*btcec.PrivateKey, bool, error) {
	wif, found := m.keyMap[address.EncodeAddress()]
	if !found {
		return nil, false, errutil.NewNotFound("address not found")
	}
	return wif.PrivKey, wif.CompressPubKey, nil
}

// KeyForAddress resolves a signing key from its encoded address.
func (m MemorySecretStore) KeyForAddress(address string) (*btcec.PrivateKey, error) {
	wif, found := m.keyMap[address]
	if !found {
		return nil, errutil.NewNotFound("address not found")
	}
	return wif.PrivKey, nil
}

func (m MemorySecretStore) GetScript(address btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(address)
}

func (m MemorySecretStore) ChainParams() *chaincfg.Params {
	return m.params
}
