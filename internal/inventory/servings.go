package inventory

import (
	"encoding/json"
	"strconv"
)

// unlimitedSentinel is the wire value for a menu item without recipe lines.
const unlimitedSentinel = -1

// Servings is the number of servings of a menu item that can still be sold.
// It is either Unlimited or Limited(n) with n >= 0.
type Servings struct {
	limited bool
	n       int64
}

// Unlimited is the value for menu items with no recipe lines.
func Unlimited() Servings { return Servings{} }

// Limited returns a bounded serving count. Negative counts are clamped to zero.
func Limited(n int64) Servings {
	if n < 0 {
		n = 0
	}
	return Servings{limited: true, n: n}
}

func (s Servings) IsUnlimited() bool { return !s.limited }

// Count returns the bounded count and true, or 0 and false when unlimited.
func (s Servings) Count() (int64, bool) {
	return s.n, s.limited
}

// Allows reports whether qty more servings fit.
func (s Servings) Allows(qty int64) bool {
	return !s.limited || qty <= s.n
}

// Int returns the wire representation: -1 for unlimited.
func (s Servings) Int() int64 {
	if !s.limited {
		return unlimitedSentinel
	}
	return s.n
}

func (s Servings) String() string {
	if !s.limited {
		return "unlimited"
	}
	return strconv.FormatInt(s.n, 10)
}

func (s Servings) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(s.Int(), 10)), nil
}

func (s *Servings) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n < 0 {
		*s = Unlimited()
		return nil
	}
	*s = Limited(n)
	return nil
}
