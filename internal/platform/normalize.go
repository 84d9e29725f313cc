package platform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/brokerdesk/internal/model"
)

// envelope covers both response shapes the manager API emits:
// {"retcode": "0 Done", "answer": {...}} and {"success": true, "data": {...}}.
type envelope struct {
	Retcode json.RawMessage `json:"retcode"`
	Answer  json.RawMessage `json:"answer"`
	Success *bool           `json:"success"`
	Valid   *bool           `json:"valid"`
	Data    json.RawMessage `json:"data"`

	empty bool
}

func (e *envelope) done() bool {
	if e.empty {
		return true
	}
	if e.Success != nil {
		return *e.Success
	}
	switch v := decodeAny(e.Retcode).(type) {
	case string:
		return v == "0 Done"
	case float64:
		return v == 0
	}
	return false
}

func (e *envelope) retcodeText() string {
	if len(e.Retcode) == 0 {
		return "<none>"
	}
	return strings.Trim(string(e.Retcode), `"`)
}

func (e *envelope) answerFields() map[string]any {
	m, _ := decodeAny(e.Answer).(map[string]any)
	return m
}

// ticket finds the deal ticket in either response shape.
func (e *envelope) ticket() string {
	for _, raw := range []json.RawMessage{e.Data, e.Answer} {
		m, _ := decodeAny(raw).(map[string]any)
		if t := lookupString(m, "ticket"); t != "" {
			return t
		}
		if t := lookupString(m, "deal"); t != "" {
			return t
		}
	}
	return ""
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// lookup matches key case-insensitively and ignoring underscores, so
// "MarginFree", "marginfree" and "margin_free" are the same field.
func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		want := foldKey(key)
		for k, v := range m {
			if foldKey(k) == want && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func foldKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func lookupString(m map[string]any, keys ...string) string {
	v, ok := lookup(m, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return fmt.Sprint(t)
	}
}

// lookupDecimal reads a number or numeric string. Missing or malformed
// values are zero.
func lookupDecimal(m map[string]any, keys ...string) decimal.Decimal {
	v, ok := lookup(m, keys...)
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

func normalizeAccount(login string, m map[string]any) *model.AccountSummary {
	a := &model.AccountSummary{
		Login:          lookupString(m, "login"),
		CurrencyDigits: int(lookupDecimal(m, "CurrencyDigits").IntPart()),
		Balance:        lookupDecimal(m, "Balance"),
		Credit:         lookupDecimal(m, "Credit"),
		Margin:         lookupDecimal(m, "Margin"),
		MarginFree:     lookupDecimal(m, "MarginFree"),
		MarginLevel:    lookupDecimal(m, "MarginLevel"),
		MarginLeverage: lookupDecimal(m, "MarginLeverage", "Leverage"),
		Profit:         lookupDecimal(m, "Profit"),
		Storage:        lookupDecimal(m, "Storage"),
		Floating:       lookupDecimal(m, "Floating"),
		Equity:         lookupDecimal(m, "Equity"),
	}
	if a.Login == "" {
		a.Login = login
	}
	if a.CurrencyDigits == 0 {
		a.CurrencyDigits = 2
	}
	return a
}
