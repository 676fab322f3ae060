package store

import (
	"fmt"
	"strconv"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
)

// toSQL converts a payload value into a driver argument for a column of type ft.
// Values are expected to be cast upstream, so a mismatched kind is an error
// rather than a coercion.
func toSQL(column string, ft schema.FieldType, v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRString:
		if ft == schema.FieldString {
			return string(val), nil
		}
	case ir.IRInt:
		if ft == schema.FieldInt {
			return int64(val), nil
		}
	case ir.IRBool:
		if ft == schema.FieldBool {
			return bool(val), nil
		}
	case *ir.Entity:
		if ft == schema.FieldInt && val.Exists() {
			return int64(val.Key), nil
		}
	}
	return nil, fmt.Errorf("%w: column %s expects %s, got %s", ErrInvalidValue, column, ft, ir.TypeName(v))
}

// fromSQL converts a scanned driver value back into a payload value.
func fromSQL(ft schema.FieldType, raw any) (ir.IRValue, error) {
	switch val := raw.(type) {
	case nil:
		return ir.IRNull{}, nil
	case int64:
		if ft == schema.FieldBool {
			return ir.IRBool(val != 0), nil
		}
		if ft == schema.FieldString {
			return ir.IRString(strconv.FormatInt(val, 10)), nil
		}
		return ir.IRInt(val), nil
	case bool:
		if ft == schema.FieldInt {
			if val {
				return ir.IRInt(1), nil
			}
			return ir.IRInt(0), nil
		}
		return ir.IRBool(val), nil
	case []byte:
		return stringValue(ft, string(val))
	case string:
		return stringValue(ft, val)
	default:
		return nil, fmt.Errorf("unsupported column value of type %T", raw)
	}
}

func stringValue(ft schema.FieldType, s string) (ir.IRValue, error) {
	switch ft {
	case schema.FieldInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer column holds %q: %w", s, err)
		}
		return ir.IRInt(n), nil
	case schema.FieldBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("boolean column holds %q: %w", s, err)
		}
		return ir.IRBool(b), nil
	default:
		return ir.IRString(s), nil
	}
}

// keyFromSQL converts a scanned identity value.
func keyFromSQL(raw any) (ir.Key, error) {
	v, err := fromSQL(schema.FieldInt, raw)
	if err != nil {
		return ir.NoKey, err
	}
	n, ok := v.(ir.IRInt)
	if !ok || n <= 0 {
		return ir.NoKey, fmt.Errorf("invalid key value %v", raw)
	}
	return ir.Key(n), nil
}
