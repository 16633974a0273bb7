package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ConvertArgs maps loosely typed JSON arguments onto the Go types the ABI
// packer expects for fn's inputs.
func ConvertArgs(name ContractName, fn string, raw []any) ([]any, error) {
	_, method, err := lookupMethod(name, fn)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(method.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArguments, fn, len(method.Inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, input := range method.Inputs {
		v, err := convertArg(input.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d (%s): %v", ErrInvalidArguments, i, input.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(t abi.Type, raw any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := raw.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("expected address")
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool")
		}
		return b, nil
	case abi.StringTy:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	case abi.UintTy, abi.IntTy:
		if t.Size != 256 {
			return nil, fmt.Errorf("unsupported integer width %d", t.Size)
		}
		return toBigInt(raw)
	case abi.FixedBytesTy:
		if t.Size != 32 {
			return nil, fmt.Errorf("unsupported bytes%d", t.Size)
		}
		return toBytes32(raw)
	case abi.SliceTy:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array")
		}
		switch t.Elem.T {
		case abi.AddressTy:
			addrs := make([]common.Address, len(items))
			for i, item := range items {
				v, err := convertArg(*t.Elem, item)
				if err != nil {
					return nil, err
				}
				addrs[i] = v.(common.Address)
			}
			return addrs, nil
		case abi.FixedBytesTy:
			hashes := make([][32]byte, len(items))
			for i, item := range items {
				v, err := convertArg(*t.Elem, item)
				if err != nil {
					return nil, err
				}
				hashes[i] = v.([32]byte)
			}
			return hashes, nil
		}
	}
	return nil, fmt.Errorf("unsupported type %s", t.String())
}

func toBigInt(raw any) (*big.Int, error) {
	switch v := raw.(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 0)
		if !ok {
			return nil, fmt.Errorf("expected integer string")
		}
		return n, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("expected integer")
		}
		return big.NewInt(int64(v)), nil
	}
	return nil, fmt.Errorf("expected integer")
}

func toBytes32(raw any) ([32]byte, error) {
	var out [32]byte
	s, ok := raw.(string)
	if !ok {
		return out, fmt.Errorf("expected hex string")
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("expected 32 byte hex")
	}
	copy(out[:], b)
	return out, nil
}
