package utxoset

import (
	"bytes"
	"encoding/gob"

	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/syndtr/goleveldb/leveldb"
)

// KVStore mirrors the set into leveldb, one record per outpoint, so the set
// survives restarts without replaying the chain.
type KVStore struct {
	db *leveldb.DB
}

func OpenKVStore(path string) (*KVStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &KVStore{db: db}, nil
}

func (s *KVStore) Close() error { return s.db.Close() }

// ApplyUndo mirrors one connected block: deletes spent records, writes
// created ones, in a single leveldb batch.
func (s *KVStore) ApplyUndo(undo Undo) error {
	batch := new(leveldb.Batch)
	for _, u := range undo.Spent {
		key, err := toGob(u.OutPoint())
		if err != nil {
			return err
		}
		batch.Delete(key)
	}
	for _, u := range undo.Created {
		key, err := toGob(u.OutPoint())
		if err != nil {
			return err
		}
		val, err := toGob(u)
		if err != nil {
			return err
		}
		batch.Put(key, val)
	}
	return s.db.Write(batch, nil)
}

// RevertUndo mirrors one disconnected block.
func (s *KVStore) RevertUndo(undo Undo) error {
	batch := new(leveldb.Batch)
	for _, u := range undo.Created {
		key, err := toGob(u.OutPoint())
		if err != nil {
			return err
		}
		batch.Delete(key)
	}
	for _, u := range undo.Spent {
		key, err := toGob(u.OutPoint())
		if err != nil {
			return err
		}
		val, err := toGob(u)
		if err != nil {
			return err
		}
		batch.Put(key, val)
	}
	return s.db.Write(batch, nil)
}

func (s *KVStore) Get(op wire.OutPoint) (chainmodels.UTXO, error) {
	key, err := toGob(op)
	if err != nil {
		return chainmodels.UTXO{}, err
	}
	val, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return chainmodels.UTXO{}, chainerrors.NewNotFound("output %s not in kv store", op)
	}
	if err != nil {
		return chainmodels.UTXO{}, err
	}
	var result chainmodels.UTXO
	if err := fromGob(val, &result); err != nil {
		return chainmodels.UTXO{}, err
	}
	return result, nil
}

// All streams every stored output through fn; a false return stops early.
func (s *KVStore) All(fn func(chainmodels.UTXO) bool) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var u chainmodels.UTXO
		if err := fromGob(iter.Value(), &u); err != nil {
			return err
		}
		if !fn(u) {
			break
		}
	}
	return iter.Error()
}

func toGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
