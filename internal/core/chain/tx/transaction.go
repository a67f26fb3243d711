package tx

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
)

type Type uint8

const (
	TypeStandard Type = iota
	TypeTransfer
	TypeCoinbase
	TypePowReward
	TypeQuadraticVote
)

func (t Type) String() string {
	switch t {
	case TypeStandard:
		return "standard"
	case TypeTransfer:
		return "transfer"
	case TypeCoinbase:
		return "coinbase"
	case TypePowReward:
		return "pow_reward"
	case TypeQuadraticVote:
		return "quadratic_vote"
	}
	return "unknown"
}

// IsCoinbase reports whether the type mints new coins instead of spending
// existing outputs.
func (t Type) IsCoinbase() bool {
	return t == TypeCoinbase || t == TypePowReward
}

type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Input spends one prior output. Amount and Address restate what the UTXO
// set holds so a transaction can be checked structurally before the set is
// consulted; the validator cross-checks both.
type Input struct {
	PreviousOutPoint wire.OutPoint
	Address          string
	Amount           int64
	PubKey           []byte
	Signature        []byte
}

type Output struct {
	Address string
	Amount  int64
	Index   uint32
}

// Transaction is immutable once built, except for the confirmation fields
// which only the chain state touches.
type Transaction struct {
	Version   int32
	Type      Type
	Timestamp int64
	Inputs    []Input
	Outputs   []Output

	// Derived by Build: sum(inputs) - sum(outputs). Zero for coinbase.
	Fee int64

	Status      Status
	BlockHeight int32
}

// TxHash is the transaction id: double SHA-256 over the full canonical
// encoding, signatures included.
func (t *Transaction) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = t.encode(&buf, true)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SigHash is what input signatures commit to: the canonical encoding with
// every signature and pubkey blanked out.
func (t *Transaction) SigHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = t.encode(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// SerializeSize is the byte length of the canonical encoding.
func (t *Transaction) SerializeSize() int64 {
	var buf bytes.Buffer
	_ = t.encode(&buf, true)
	return int64(buf.Len())
}

func (t *Transaction) TotalInput() (int64, error) {
	return sumAmounts(t.Inputs, func(in Input) int64 { return in.Amount })
}

func (t *Transaction) TotalOutput() (int64, error) {
	return sumAmounts(t.Outputs, func(out Output) int64 { return out.Amount })
}

func sumAmounts[T any](items []T, amount func(T) int64) (int64, error) {
	var total int64
	for _, item := range items {
		v := amount(item)
		if v < 0 {
			return 0, chainerrors.NewValidation("negative amount %d", v)
		}
		total += v
		if total < 0 {
			return 0, chainerrors.NewValidation("amount overflow")
		}
	}
	return total, nil
}

func (t *Transaction) encode(w io.Writer, withSigs bool) error {
	if err := binary.Write(w, binary.BigEndian, t.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint8(t.Type)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, t.Timestamp); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(t.Inputs))); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := writeString(w, in.Address); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, in.Amount); err != nil {
			return err
		}
		if withSigs {
			if err := writeBytes(w, in.PubKey); err != nil {
				return err
			}
			if err := writeBytes(w, in.Signature); err != nil {
				return err
			}
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(t.Outputs))); err != nil {
		return err
	}
	for _, out := range t.Outputs {
		if err := writeString(w, out.Address); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, out.Amount); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, out.Index); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// KeyStore resolves the signing key for an address.
type KeyStore interface {
	KeyForAddress(address string) (*btcec.PrivateKey, error)
}

// Sign fills in pubkey and signature for every input, resolving keys by
// input address. The transaction must not be mutated afterwards.
func (t *Transaction) Sign(store KeyStore) error {
	sigHash := t.SigHash()
	for i := range t.Inputs {
		key, err := store.KeyForAddress(t.Inputs[i].Address)
		if err != nil {
			return err
		}
		sig := ecdsa.Sign(key, sigHash[:])
		t.Inputs[i].PubKey = key.PubKey().SerializeCompressed()
		t.Inputs[i].Signature = sig.Serialize()
	}
	return nil
}

// VerifySignatures checks every input signature and that each pubkey hashes
// to the input's claimed address.
func (t *Transaction) VerifySignatures(net *chaincfg.Params) error {
	if t.Type.IsCoinbase() {
		return nil
	}
	sigHash := t.SigHash()
	for i, in := range t.Inputs {
		pub, err := btcec.ParsePubKey(in.PubKey)
		if err != nil {
			return chainerrors.NewValidation("input %d: bad pubkey: %v", i, err)
		}
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(in.PubKey), net)
		if err != nil {
			return chainerrors.NewValidation("input %d: %v", i, err)
		}
		if addr.EncodeAddress() != in.Address {
			return chainerrors.NewValidation("input %d: pubkey does not match address %s", i, in.Address)
		}
		sig, err := ecdsa.ParseDERSignature(in.Signature)
		if err != nil {
			return chainerrors.NewValidation("input %d: bad signature: %v", i, err)
		}
		if !sig.Verify(sigHash[:], pub) {
			return chainerrors.NewValidation("input %d: signature mismatch", i)
		}
	}
	return nil
}

// CheckStructure enforces the shape rules that hold independent of any UTXO
// set state.
func (t *Transaction) CheckStructure() error {
	if t.Type.IsCoinbase() {
		if len(t.Inputs) != 0 {
			return chainerrors.NewValidation("coinbase transaction must have no inputs")
		}
		if len(t.Outputs) == 0 {
			return chainerrors.NewValidation("coinbase transaction must have outputs")
		}
	} else {
		if len(t.Inputs) == 0 {
			return chainerrors.NewValidation("transaction has no inputs")
		}
		if len(t.Outputs) == 0 {
			return chainerrors.NewValidation("transaction has no outputs")
		}
	}

	seen := make(map[wire.OutPoint]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Amount <= 0 {
			return chainerrors.NewValidation("input amount must be positive, got %d", in.Amount)
		}
		if _, found := seen[in.PreviousOutPoint]; found {
			return chainerrors.NewConflict("output %s spent twice in one transaction", in.PreviousOutPoint)
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}
	for i, out := range t.Outputs {
		if out.Amount <= 0 {
			return chainerrors.NewValidation("output amount must be positive, got %d", out.Amount)
		}
		if out.Index != uint32(i) {
			return chainerrors.NewValidation("output index %d out of order", out.Index)
		}
		if out.Address == "" {
			return chainerrors.NewValidation("output %d has no address", i)
		}
	}

	if !t.Type.IsCoinbase() {
		totalIn, err := t.TotalInput()
		if err != nil {
			return err
		}
		totalOut, err := t.TotalOutput()
		if err != nil {
			return err
		}
		if totalIn < totalOut {
			return chainerrors.NewValidation("inputs %d do not cover outputs %d", totalIn, totalOut)
		}
	}
	return nil
}
