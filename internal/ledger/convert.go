package ledger

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Largest timestamp accepted from the ledger (9999-12-31T23:59:59Z).
const maxUnixSeconds = 253402300799

const maxCount = math.MaxInt32

func single(method string, out []any) (any, error) {
	if len(out) != 1 {
		return nil, &CorruptDataError{Field: method, Value: fmt.Sprintf("%d outputs", len(out))}
	}
	return out[0], nil
}

func asBigInt(field string, v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, &CorruptDataError{Field: field, Value: nil}
		}
		return n, nil
	case uint8:
		return big.NewInt(int64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, &CorruptDataError{Field: field, Value: v}
	}
}

// toCount narrows a uint256 counter to int with an explicit bound.
func toCount(field string, v any) (int, error) {
	n, err := asBigInt(field, v)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsInt64() || n.Int64() > maxCount {
		return 0, &CorruptDataError{Field: field, Value: n.String()}
	}
	return int(n.Int64()), nil
}

// toOptionalTime narrows a uint256 unix timestamp. Zero is the ledger's
// encoding of "absent" and becomes nil.
func toOptionalTime(field string, v any) (*time.Time, error) {
	n, err := asBigInt(field, v)
	if err != nil {
		return nil, err
	}
	if n.Sign() == 0 {
		return nil, nil
	}
	if n.Sign() < 0 || !n.IsInt64() || n.Int64() > maxUnixSeconds {
		return nil, &CorruptDataError{Field: field, Value: n.String()}
	}
	t := time.Unix(n.Int64(), 0).UTC()
	return &t, nil
}

// toTime is toOptionalTime for fields the ledger always populates.
func toTime(field string, v any) (time.Time, error) {
	t, err := toOptionalTime(field, v)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, &CorruptDataError{Field: field, Value: 0}
	}
	return *t, nil
}

func toBool(field string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, &CorruptDataError{Field: field, Value: v}
	}
	return b, nil
}

func toString(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &CorruptDataError{Field: field, Value: v}
	}
	return s, nil
}

func toAddress(field string, v any) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, &CorruptDataError{Field: field, Value: v}
	}
	return a, nil
}

// toOptionalAddress maps the zero address to nil.
func toOptionalAddress(field string, v any) (*common.Address, error) {
	a, err := toAddress(field, v)
	if err != nil {
		return nil, err
	}
	if IsZeroAddress(a) {
		return nil, nil
	}
	return &a, nil
}

func toAddresses(field string, v any) ([]common.Address, error) {
	list, ok := v.([]common.Address)
	if !ok {
		return nil, &CorruptDataError{Field: field, Value: v}
	}
	out := make([]common.Address, len(list))
	copy(out, list)
	return out, nil
}

func toMainDocumentType(field string, v any) (MainDocumentType, error) {
	n, err := asBigInt(field, v)
	if err != nil {
		return 0, err
	}
	switch {
	case n.Cmp(big.NewInt(int64(DPP))) == 0:
		return DPP, nil
	case n.Cmp(big.NewInt(int64(DGD))) == 0:
		return DGD, nil
	default:
		return 0, &CorruptDataError{Field: field, Value: n.String()}
	}
}

// toDocument converts an ABI tuple (an anonymous struct built by go-ethereum)
// into Document. abi.ConvertType panics on shape mismatch, which is corrupt data here.
func toDocument(field string, v any) (doc Document, err error) {
	if d, ok := v.(Document); ok {
		return d, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &CorruptDataError{Field: field, Value: r}
		}
	}()
	converted := *abi.ConvertType(v, new(Document)).(*Document)
	return converted, nil
}

func toDocuments(field string, v any) (docs []Document, err error) {
	if d, ok := v.([]Document); ok {
		out := make([]Document, len(d))
		copy(out, d)
		return out, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &CorruptDataError{Field: field, Value: r}
		}
	}()
	converted := *abi.ConvertType(v, new([]Document)).(*[]Document)
	return converted, nil
}

// documentIDs maps attachment tuples 1:1 onto their identifiers.
func documentIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.Id
	}
	return ids
}
