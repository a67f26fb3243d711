package utxoset

import (
	"compress/gzip"
	"context"
	"encoding/gob"
	"errors"
	"os"

	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
)

// Snapshot is the on-disk form of the set.
type Snapshot struct {
	Height int32
	UTXOs  map[wire.OutPoint]chainmodels.UTXO
}

func NewSnapshotStore(filepath string) SnapshotStore {
	return SnapshotStore{filepath: filepath}
}

// SnapshotStore persists snapshots as gzipped gob, written to a temp file
// and renamed so a crash never leaves a torn snapshot.
type SnapshotStore struct {
	filepath string
}

func (s SnapshotStore) Put(_ context.Context, snap Snapshot) error {
	file, err := os.CreateTemp(os.TempDir(), "chaincore-utxoset")
	if err != nil {
		return err
	}

	writer, err := gzip.NewWriterLevel(file, gzip.BestCompression)
	if err != nil {
		return err
	}
	encoder := gob.NewEncoder(writer)
	if err := encoder.Encode(snap); err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), s.filepath)
}

func (s SnapshotStore) Get(_ context.Context) (Snapshot, error) {
	file, err := os.Open(s.filepath)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{
			UTXOs: make(map[wire.OutPoint]chainmodels.UTXO),
		}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return Snapshot{}, err
	}
	defer reader.Close()

	var result Snapshot
	if err := gob.NewDecoder(reader).Decode(&result); err != nil {
		return Snapshot{}, err
	}

	return result, nil
}
