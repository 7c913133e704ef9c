package filter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pitabwire/storefront/model"
)

// Semantic rule codes.
const (
	NameMissingLetter          Reason = "NameMissingLetter"
	PostalCodeWrongLength      Reason = "PostalCodeWrongLength"
	AddressMissingNumberOrText Reason = "AddressMissingNumberOrText"
)

// Rule is a semantic predicate on a raw value. Message may use the {field}
// and {value} placeholders.
type Rule struct {
	Code    Reason
	Message string
	Check   func(value string) bool
}

func (r Rule) message(field, value string) string {
	return strings.NewReplacer("{field}", field, "{value}", value).Replace(r.Message)
}

// HasLetter requires at least one alphabetic character.
func HasLetter() Rule {
	return Rule{
		Code:    NameMissingLetter,
		Message: "Name must contain at least one letter",
		Check: func(v string) bool {
			return strings.IndexFunc(v, unicode.IsLetter) >= 0
		},
	}
}

// DigitsExactly requires exactly n ASCII digits and nothing else.
func DigitsExactly(n int) Rule {
	return Rule{
		Code:    PostalCodeWrongLength,
		Message: fmt.Sprintf("{field} must be exactly %d digits", n),
		Check: func(v string) bool {
			if len(v) != n {
				return false
			}
			for i := 0; i < len(v); i++ {
				if v[i] < '0' || v[i] > '9' {
					return false
				}
			}
			return true
		},
	}
}

// HasDigitAndLetter requires at least one digit and at least one letter.
func HasDigitAndLetter() Rule {
	return Rule{
		Code:    AddressMissingNumberOrText,
		Message: "Address must contain both a number and text",
		Check: func(v string) bool {
			return strings.IndexFunc(v, unicode.IsDigit) >= 0 &&
				strings.IndexFunc(v, unicode.IsLetter) >= 0
		},
	}
}

// CrossRule is a resource-level check over already-coerced values. Check
// receives the coerced value of every key in Keys that is present and valid;
// keys that are absent or failed an earlier stage are missing from the map.
type CrossRule struct {
	Keys  []string
	Check func(values map[string]any) *Problem
}

// RangeOrder rejects a lower-bound value greater than its paired upper-bound
// value. The problem is attached to the upper key.
func RangeOrder(lowerKey, upperKey string) CrossRule {
	return CrossRule{
		Keys: []string{lowerKey, upperKey},
		Check: func(values map[string]any) *Problem {
			lo, okLo := values[lowerKey]
			hi, okHi := values[upperKey]
			if !okLo || !okHi {
				return nil
			}
			if c, ok := compareValues(lo, hi); ok && c > 0 {
				return &Problem{
					Field:   upperKey,
					Reason:  RangeInverted,
					Message: fmt.Sprintf("%s must not be earlier than %s", upperKey, lowerKey),
				}
			}
			return nil
		},
	}
}

// compareValues orders two coerced scalar values of the same type.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case model.TimeOfDay:
		y, ok := b.(model.TimeOfDay)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}
