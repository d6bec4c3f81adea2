package rel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncomparable is wrapped when two values have no natural total order
// against each other, e.g. a string sorted against a number.
var ErrIncomparable = errors.New("values are not comparable")

// Compare orders two values by their natural comparison: numbers against
// numbers (integer and float freely mixed), strings against strings, bools
// against bools (false < true). Absent values (nil) sort before everything,
// so sparse tuples stay sortable. Anything else fails with ErrIncomparable.
func Compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, incomparable(a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, incomparable(a, b)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, incomparable(a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, incomparable(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func incomparable(a, b any) error {
	return fmt.Errorf("%T vs %T: %w", a, b, ErrIncomparable)
}
