package promotion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/diegoholiveira/jsonlogic/v3"
)

// Facts is the data document a promotion condition is evaluated against.
type Facts struct {
	Subtotal   float64     `json:"subtotal"`
	Quantity   int         `json:"quantity"`
	CustomerID string      `json:"customerId"`
	Items      []FactsItem `json:"items"`
}

// FactsItem describes one order line inside Facts.
type FactsItem struct {
	ItemID    string  `json:"itemId"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"lineTotal"`
}

// FactsFor projects an order into condition facts.
func FactsFor(o Order) Facts {
	f := Facts{
		Subtotal: o.Subtotal.InexactFloat64(),
		Items:    make([]FactsItem, 0, len(o.Items)),
	}
	if o.CustomerID != nil {
		f.CustomerID = o.CustomerID.String()
	}
	for _, it := range o.Items {
		f.Quantity += it.Quantity
		f.Items = append(f.Items, FactsItem{
			ItemID:    it.ItemID.String(),
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal.InexactFloat64(),
		})
	}
	return f
}

// EvaluateCondition applies a JSONLogic rule to facts and reports whether the result is truthy.
func EvaluateCondition(rule json.RawMessage, facts Facts) (bool, error) {
	if len(bytes.TrimSpace(rule)) == 0 {
		return true, nil
	}
	data, err := json.Marshal(facts)
	if err != nil {
		return false, err
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(rule), bytes.NewReader(data), &out); err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	raw := bytes.TrimSpace(out.Bytes())
	if len(raw) == 0 {
		return false, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decode condition result: %w", err)
	}
	return truthy(result), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
