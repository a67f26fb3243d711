package chainstate

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/gob"
	"runtime"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
)

// BlockStore archives full blocks in sqlite, keyed by hash, with a height
// index for the active chain. Blobs are gzipped gob.
type BlockStore struct {
	db *sql.DB
}

func NewBlockStore(path string) (*BlockStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = wal;"); err != nil {
		return nil, err
	}
	tables := []string{
		`
  CREATE TABLE IF NOT EXISTS blocks (
  hash text NOT NULL PRIMARY KEY,
  data BLOB NOT NULL
  );`,
		`
  CREATE TABLE IF NOT EXISTS height (
  height UNSIGNED BIG INT NOT NULL PRIMARY KEY,
  hash text NOT NULL
  );`,
	}
	for _, query := range tables {
		if _, err := db.Exec(query); err != nil {
			return nil, err
		}
	}
	return &BlockStore{db: db}, nil
}

func (b *BlockStore) Close() error { return b.db.Close() }

func (b *BlockStore) GetBlock(ctx context.Context, hash chainhash.Hash) (*chainmodels.Block, error) {
	row := b.db.QueryRowContext(ctx, `select data from blocks WHERE hash = ?`, hash.String())
	if err := row.Err(); err != nil {
		return nil, err
	}
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, chainerrors.NewNotFound("block %s not archived", hash)
		}
		return nil, err
	}

	return bytesToBlock(data)
}

func (b *BlockStore) GetBlockFromHeight(ctx context.Context, height int32) (*chainmodels.Block, error) {
	row := b.db.QueryRowContext(ctx,
		`
select b.data from height h
            INNER JOIN blocks b on b.hash = h.hash
            WHERE height = ?`, height)
	if err := row.Err(); err != nil {
		return nil, err
	}
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, chainerrors.NewNotFound("no archived block at height %d", height)
		}
		return nil, err
	}

	return bytesToBlock(data)
}

func (b *BlockStore) PutBlock(ctx context.Context, block *chainmodels.Block) error {
	return b.PutBlocks(ctx, block)
}

func (b *BlockStore) PutBlocks(ctx context.Context, blocks ...*chainmodels.Block) (e error) {
	dbtx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if e != nil {
			dbtx.Rollback()
		}
	}()

	stmt, err := dbtx.PrepareContext(ctx, `INSERT OR IGNORE into blocks VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	type write struct {
		hash string
		data []byte
	}
	var mu sync.RWMutex
	var rowsToWrite []write
	var group errgroup.Group
	group.SetLimit(runtime.NumCPU())
	for _, block := range blocks {
		block := block
		group.Go(func() error {
			data, err := blockToBytes(block)
			if err != nil {
				return err
			}

			mu.Lock()
			rowsToWrite = append(rowsToWrite, write{
				hash: block.Header.BlockHash().String(),
				data: data,
			})
			mu.Unlock()

			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	mu.RLock()
	defer mu.RUnlock()
	for _, row := range rowsToWrite {
		if _, err = stmt.ExecContext(ctx, row.hash, row.data); err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// PutHeight records hash as the active block at height, replacing whatever
// a reorg left there.
func (b *BlockStore) PutHeight(ctx context.Context, height int32, hash chainhash.Hash) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE into height VALUES(?, ?)`,
		height, hash.String())
	return err
}

func (b *BlockStore) DeleteHeight(ctx context.Context, height int32) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM height WHERE height = ?`, height)
	return err
}

// GetTip returns the highest indexed active block.
func (b *BlockStore) GetTip(ctx context.Context) (int32, chainhash.Hash, error) {
	row := b.db.QueryRowContext(ctx, `
select height, hash from height
ORDER BY height desc
limit 1;
`)
	if err := row.Err(); err != nil {
		return 0, chainhash.Hash{}, err
	}
	var height int32
	var hashStr string
	if err := row.Scan(&height, &hashStr); err != nil {
		if err == sql.ErrNoRows {
			return 0, chainhash.Hash{}, chainerrors.NewNotFound("archive is empty")
		}
		return 0, chainhash.Hash{}, err
	}
	h, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return 0, chainhash.Hash{}, err
	}
	return height, *h, nil
}

func blockToBytes(block *chainmodels.Block) ([]byte, error) {
	f := new(bytes.Buffer)
	writer, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(writer).Encode(block); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

func bytesToBlock(data []byte) (*chainmodels.Block, error) {
	reader, err := gzip.NewReader(bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	var block chainmodels.Block
	if err := gob.NewDecoder(reader).Decode(&block); err != nil {
		return nil, err
	}
	return &block, nil
}
