package typeconv

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrConversion is returned when a value has no integer reading.
var ErrConversion = errors.New("typeconv: type conversion failed")

// AnyToInt64 returns the integer held by a decoded JSON value. Numbers must
// be integral; strings must hold a base 10 integer.
func AnyToInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, errors.Wrapf(ErrConversion, "%v is not an integer", x)
		}
		return int64(x), nil
	case json.Number:
		return parseInt(x.String())
	case string:
		return parseInt(x)
	default:
		return 0, errors.Wrapf(ErrConversion, "unsupported type %T", v)
	}
}

// AnyToString returns a string for given empty interface
func AnyToString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	default:
		return "", errors.Wrapf(ErrConversion, "unsupported type %T", v)
	}
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrConversion, "%q is not an integer", s)
	}
	return n, nil
}
