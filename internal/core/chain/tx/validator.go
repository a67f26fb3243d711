package tx

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
)

// ViewOutput is what a validator needs to know about a referenced output.
type ViewOutput struct {
	Address  string
	Amount   int64
	Height   int32
	Coinbase bool
}

// UTXOView is the read surface the validator checks inputs against. The
// UTXO set implements it directly; the mempool layers an unconfirmed
// overlay on top.
type UTXOView interface {
	Lookup(op wire.OutPoint) (ViewOutput, bool)
	Spendable(op wire.OutPoint) bool
}

type Validator struct {
	net *chaincfg.Params
}

func NewValidator(net *chaincfg.Params) *Validator {
	return &Validator{net: net}
}

// ValidateAmount re-derives the balance of a non-coinbase transaction
// against the view: every input must exist, be spendable, and match the
// amount and owner recorded in the view; inputs must cover outputs plus the
// declared fee exactly.
func (v *Validator) ValidateAmount(t *Transaction, view UTXOView) error {
	if t.Type.IsCoinbase() {
		return chainerrors.NewValidation("coinbase transactions carry no spendable inputs")
	}
	if err := t.CheckStructure(); err != nil {
		return err
	}

	var totalIn int64
	for i, in := range t.Inputs {
		out, found := view.Lookup(in.PreviousOutPoint)
		if !found {
			return chainerrors.NewNotFound("input %d references unknown output %s", i, in.PreviousOutPoint)
		}
		if !view.Spendable(in.PreviousOutPoint) {
			return chainerrors.NewValidation("input %d references unspendable output %s", i, in.PreviousOutPoint)
		}
		if out.Amount != in.Amount {
			return chainerrors.NewValidation("input %d claims %d but output holds %d", i, in.Amount, out.Amount)
		}
		if out.Address != in.Address {
			return chainerrors.NewValidation("input %d claims owner %s but output belongs to %s", i, in.Address, out.Address)
		}
		totalIn += in.Amount
		if totalIn < 0 {
			return chainerrors.NewValidation("input amount overflow")
		}
	}

	totalOut, err := t.TotalOutput()
	if err != nil {
		return err
	}
	if totalIn != totalOut+t.Fee {
		return chainerrors.NewValidation("inputs %d != outputs %d + fee %d", totalIn, totalOut, t.Fee)
	}
	return nil
}

// ValidateFull is amount validation plus signature verification.
func (v *Validator) ValidateFull(t *Transaction, view UTXOView) error {
	if err := v.ValidateAmount(t, view); err != nil {
		return err
	}
	return t.VerifySignatures(v.net)
}
