package chainmodels

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
)

// BlockHeader commits to the miner identity (pubkey) but not the header
// signature, so a header can be mined first and signed at submission.
type BlockHeader struct {
	Version     int32
	Height      int32
	PrevBlock   chainhash.Hash
	MerkleRoot  chainhash.Hash
	Timestamp   int64
	Bits        uint32
	Nonce       uint64
	MinerPubKey []byte
	Signature   []byte
}

type Block struct {
	Header       BlockHeader
	Transactions []*tx.Transaction
}

// BlockHash is double SHA-256 over the header encoding, signature excluded.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = h.encode(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

func (h *BlockHeader) encode(w io.Writer, withSig bool) error {
	for _, v := range []any{h.Version, h.Height} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(h.PrevBlock[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.MerkleRoot[:]); err != nil {
		return err
	}
	for _, v := range []any{h.Timestamp, h.Bits, h.Nonce} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(h.MinerPubKey))); err != nil {
		return err
	}
	if _, err := w.Write(h.MinerPubKey); err != nil {
		return err
	}
	if withSig {
		if err := binary.Write(w, binary.BigEndian, uint16(len(h.Signature))); err != nil {
			return err
		}
		if _, err := w.Write(h.Signature); err != nil {
			return err
		}
	}
	return nil
}

// SignHeader binds the submitting miner to the block.
func (h *BlockHeader) SignHeader(key *btcec.PrivateKey) {
	h.MinerPubKey = key.PubKey().SerializeCompressed()
	hash := h.BlockHash()
	h.Signature = ecdsa.Sign(key, hash[:]).Serialize()
}

// VerifyHeaderSignature checks the miner signature over the block hash.
func (h *BlockHeader) VerifyHeaderSignature() error {
	if len(h.MinerPubKey) == 0 || len(h.Signature) == 0 {
		return chainerrors.NewValidation("block header is unsigned")
	}
	pub, err := btcec.ParsePubKey(h.MinerPubKey)
	if err != nil {
		return chainerrors.NewValidation("bad miner pubkey: %v", err)
	}
	sig, err := ecdsa.ParseDERSignature(h.Signature)
	if err != nil {
		return chainerrors.NewValidation("bad header signature: %v", err)
	}
	hash := h.BlockHash()
	if !sig.Verify(hash[:], pub) {
		return chainerrors.NewValidation("header signature mismatch")
	}
	return nil
}
