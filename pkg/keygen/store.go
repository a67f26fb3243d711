package keygen

import (
	"path"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var _ txauthor.SecretsSource = (*Reader)(nil)

// Reader serves keys from a leveldb file of address -> WIF entries.
type Reader struct {
	db     *leveldb.DB
	params *chaincfg.Params
}

func NewReaderFromDir(dir string, params *chaincfg.Params) (*Reader, error) {
	f := path.Join(dir, params.Name+".db")
	db, err := leveldb.OpenFile(f, &opt.Options{})
	if err != nil {
		return nil, err
	}

	return &Reader{
		db:     db,
		params: params,
	}, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

func (r *Reader) Put(key *btcec.PrivateKey) (string, error) {
	wif, err := btcutil.NewWIF(key, r.params, true)
	if err != nil {
		return "", err
	}
	addr, err := Address(key, r.params)
	if err != nil {
		return "", err
	}
	if err := r.db.Put([]byte(addr), []byte(wif.String()), nil); err != nil {
		return "", errors.Wrap(err, "error writing to db")
	}
	return addr, nil
}

func (r *Reader) GetKey(address btcutil.Address) (*btcec.PrivateKey, bool, error) {
	raw, err := r.db.Get([]byte(address.EncodeAddress()), nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "error getting from db")
	}

	wif, err := btcutil.DecodeWIF(string(raw))
	if err != nil {
		return nil, false, errors.Wrap(err, "error decoding wif")
	}

	return wif.PrivKey, wif.CompressPubKey, nil
}

func (r *Reader) KeyForAddress(address string) (*btcec.PrivateKey, error) {
	raw, err := r.db.Get([]byte(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "error getting from db")
	}
	wif, err := btcutil.DecodeWIF(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "error decoding wif")
	}
	return wif.PrivKey, nil
}

func (r *Reader) GetScript(address btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(address)
}

func (r *Reader) ChainParams() *chaincfg.Params {
	return r.params
}
