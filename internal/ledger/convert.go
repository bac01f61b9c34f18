package ledger

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// encodeArg converts the string form used by the mirror into the Go value
// go-ethereum expects when packing an argument of type t.
func encodeArg(t abi.Type, s string) (interface{}, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		n, ok := math.ParseBig256(s)
		if !ok || s == "" {
			return nil, fmt.Errorf("invalid %s value %q", t.String(), s)
		}
		if t.T == abi.UintTy && n.Sign() < 0 {
			return nil, fmt.Errorf("negative %s value %q", t.String(), s)
		}
		if t.Size > 64 {
			return n, nil
		}
		return fitInteger(t, n)

	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil

	case abi.FixedBytesTy:
		raw, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", t.String(), s, err)
		}
		if len(raw) != t.Size {
			return nil, fmt.Errorf("%s value %q has %d bytes", t.String(), s, len(raw))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(raw))
		return arr.Interface(), nil

	case abi.BytesTy:
		raw, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes value %q: %w", s, err)
		}
		return raw, nil

	case abi.StringTy:
		return s, nil

	case abi.BoolTy:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value %q", s)
		}
		return b, nil
	}

	return nil, fmt.Errorf("unsupported argument type %s", t.String())
}

// encodeSliceArg converts a list of strings into a slice of the element
// type of t.
func encodeSliceArg(t abi.Type, values []string) (interface{}, error) {
	if t.T != abi.SliceTy || t.Elem == nil {
		return nil, fmt.Errorf("argument type %s is not a dynamic array", t.String())
	}
	out := reflect.MakeSlice(t.GetType(), 0, len(values))
	for _, v := range values {
		elem, err := encodeArg(*t.Elem, v)
		if err != nil {
			return nil, err
		}
		out = reflect.Append(out, reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}

func fitInteger(t abi.Type, n *big.Int) (interface{}, error) {
	v := reflect.New(t.GetType()).Elem()
	switch v.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !n.IsUint64() || v.OverflowUint(n.Uint64()) {
			return nil, fmt.Errorf("value %s overflows %s", n, t.String())
		}
		v.SetUint(n.Uint64())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !n.IsInt64() || v.OverflowInt(n.Int64()) {
			return nil, fmt.Errorf("value %s overflows %s", n, t.String())
		}
		v.SetInt(n.Int64())
	default:
		return nil, fmt.Errorf("unsupported integer type %s", t.String())
	}
	return v.Interface(), nil
}

// formatValue renders an unpacked ABI value in the mirror's string schema:
// integers in base 10, addresses checksummed, byte strings as 0x hex.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case *big.Int:
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case [32]byte:
		return hexutil.Encode(x[:])
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			for i := range raw {
				raw[i] = byte(rv.Index(i).Uint())
			}
			return hexutil.Encode(raw)
		}
	}
	return fmt.Sprint(v)
}

// toUint64 reads an unpacked unsigned integer of any width.
func toUint64(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case *big.Int:
		if !x.IsUint64() {
			return 0, fmt.Errorf("value %s does not fit in uint64", x)
		}
		return x.Uint64(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}

// isZeroID reports whether an order id is the zero value of its ABI type,
// which the order book returns for unset slots.
func isZeroID(id string) bool {
	if id == "" || id == "0" {
		return true
	}
	raw, err := hexutil.Decode(id)
	if err != nil {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}
