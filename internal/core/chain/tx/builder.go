package tx

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Builder accumulates inputs and outputs as a value: every call returns a
// fresh builder, so a partially filled builder can be branched and retried
// without aliasing.
type Builder struct {
	version   int32
	txType    Type
	timestamp int64
	inputs    []Input
	outputs   []Output
}

func NewBuilder(txType Type) Builder {
	return Builder{
		version:   1,
		txType:    txType,
		timestamp: time.Now().Unix(),
	}
}

func (b Builder) WithTimestamp(ts time.Time) Builder {
	b.timestamp = ts.Unix()
	return b
}

func (b Builder) AddInput(txid chainhash.Hash, index uint32, address string, amount int64) Builder {
	in := Input{
		PreviousOutPoint: wire.OutPoint{Hash: txid, Index: index},
		Address:          address,
		Amount:           amount,
	}
	b.inputs = append(b.inputs[:len(b.inputs):len(b.inputs)], in)
	return b
}

func (b Builder) AddOutput(address string, amount int64) Builder {
	out := Output{
		Address: address,
		Amount:  amount,
		Index:   uint32(len(b.outputs)),
	}
	b.outputs = append(b.outputs[:len(b.outputs):len(b.outputs)], out)
	return b
}

// Build finalizes the transaction: structural checks and fee derivation.
// The caller signs afterwards via Transaction.Sign.
func (b Builder) Build() (*Transaction, error) {
	t := &Transaction{
		Version:   b.version,
		Type:      b.txType,
		Timestamp: b.timestamp,
		Inputs:    append([]Input(nil), b.inputs...),
		Outputs:   append([]Output(nil), b.outputs...),
		Status:    StatusPending,
	}
	if err := t.CheckStructure(); err != nil {
		return nil, err
	}
	if !t.Type.IsCoinbase() {
		totalIn, err := t.TotalInput()
		if err != nil {
			return nil, err
		}
		totalOut, err := t.TotalOutput()
		if err != nil {
			return nil, err
		}
		t.Fee = totalIn - totalOut
	}
	return t, nil
}
