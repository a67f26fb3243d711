package txhelper

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"

	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
)

// ToString renders a transaction as hex over its gob encoding; used by the
// feed and broadcast layers.
func ToString(t *tx.Transaction) string {
	var buff bytes.Buffer
	writer := hex.NewEncoder(&buff)
	if err := gob.NewEncoder(writer).Encode(t); err != nil {
		return ""
	}

	return buff.String()
}

func ToStringPTR(t *tx.Transaction) *string {
	str := ToString(t)
	if str == "" {
		return nil
	}

	return &str
}

func FromString(str string) *tx.Transaction {
	data, err := hex.DecodeString(str)
	if err != nil {
		return nil
	}

	return FromBytes(data)
}

func FromBytes(data []byte) *tx.Transaction {
	var t tx.Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil
	}

	return &t
}

func ToBytes(t *tx.Transaction) []byte {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(t); err != nil {
		return nil
	}
	return buff.Bytes()
}
