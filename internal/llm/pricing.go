package llm

import (
	"fmt"
	"strconv"
	"strings"
)

// Pricing is the per-token price pair of a model, already formatted.
type Pricing struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// String renders the "input/output" form used in response metadata.
func (p Pricing) String() string {
	return p.Input + "/" + p.Output
}

// FormatPrice renders a price without scientific notation or trailing zeros.
// Float artifacts such as 0.000149999999999999 are rounded up at the digit
// preceding a run of four or more 9s. nil and zero render as "0"; values
// that are not numbers return ok=false.
func FormatPrice(v any) (s string, ok bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return "0", true
	case string:
		if t == "0" {
			return "0", true
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return "", false
		}
		f = parsed
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return "", false
	}
	if f == 0 {
		return "0", true
	}

	formatted := strconv.FormatFloat(f, 'f', 20, 64)
	if nines := strings.Index(formatted, "9999"); nines > 0 {
		places := nines - strings.Index(formatted, ".") - 1
		if places > 0 {
			return trimDecimal(roundUp(strconv.FormatFloat(f, 'f', -1, 64), places)), true
		}
	}
	return trimDecimal(formatted), true
}

// PriceString is FormatPrice with non-numeric values rendered as-is.
func PriceString(v any) string {
	if s, ok := FormatPrice(v); ok {
		return s
	}
	return fmt.Sprint(v)
}

// roundUp rounds the plain decimal string s away from zero to the given
// number of fractional digits.
func roundUp(s string, places int) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	for len(frac) < places {
		frac += "0"
	}

	bump := strings.Trim(frac[places:], "0") != ""
	digits := []byte(intPart + frac[:places])
	if bump {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] == '9' {
				digits[i] = '0'
				continue
			}
			digits[i]++
			break
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}

	split := len(digits) - places
	out := string(digits[:split]) + "." + string(digits[split:])
	if neg {
		out = "-" + out
	}
	return out
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}
