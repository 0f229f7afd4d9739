package promotion

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/money"
)

// LineAmount computes the line-level reduction of BUY_X_GET_Y and BUNDLE promotions.
// Other types return zero.
func LineAmount(r Rule, items []LineItem) decimal.Decimal {
	switch r.Type {
	case TypeBuyXGetY:
		return money.Round(buyXGetY(r, items))
	case TypeBundle:
		return money.Round(bundle(r, items))
	default:
		return money.Zero
	}
}

type stock struct {
	quantity  int
	unitPrice decimal.Decimal
}

// aggregate merges order lines by item. The unit price of the first line wins.
func aggregate(items []LineItem) map[uuid.UUID]stock {
	out := make(map[uuid.UUID]stock, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		s, ok := out[it.ItemID]
		if !ok {
			s.unitPrice = it.UnitPrice
		}
		s.quantity += it.Quantity
		out[it.ItemID] = s
	}
	return out
}

func buyXGetY(r Rule, items []LineItem) decimal.Decimal {
	if r.BuyQuantity <= 0 || r.GetQuantity <= 0 {
		return money.Zero
	}
	inOrder := aggregate(items)

	buy := map[uuid.UUID]Line{}
	get := map[uuid.UUID]Line{}
	for _, l := range r.Lines {
		switch l.Role {
		case RoleBuy:
			buy[l.ItemID] = l
		case RoleGet:
			get[l.ItemID] = l
		}
	}
	if len(buy) == 0 {
		for id := range inOrder {
			buy[id] = Line{ItemID: id, Role: RoleBuy}
		}
	}
	if len(get) == 0 {
		get = buy
	}

	buyUnits := 0
	for id, l := range buy {
		qty := inOrder[id].quantity
		if l.IsRequired && qty < max(l.RequiredQuantity, 1) {
			return money.Zero
		}
		buyUnits += qty
	}

	sets := buyUnits / r.BuyQuantity
	if sameItems(buy, get) {
		sets = buyUnits / (r.BuyQuantity + r.GetQuantity)
	}
	free := sets * r.GetQuantity
	if free <= 0 {
		return money.Zero
	}

	type candidate struct {
		id    uuid.UUID
		stock stock
		pct   decimal.Decimal
	}
	candidates := make([]candidate, 0, len(get))
	for id, l := range get {
		s, ok := inOrder[id]
		if !ok {
			continue
		}
		pct := money.Hundred
		switch {
		case l.DiscountPercentage != nil:
			pct = *l.DiscountPercentage
		case r.GetDiscountPercentage != nil:
			pct = *r.GetDiscountPercentage
		}
		candidates = append(candidates, candidate{id: id, stock: s, pct: money.Clamp(pct, money.Zero, money.Hundred)})
	}
	// cheapest units are given away first; ties by id keep the result stable
	sort.Slice(candidates, func(i, j int) bool {
		if c := candidates[i].stock.unitPrice.Cmp(candidates[j].stock.unitPrice); c != 0 {
			return c < 0
		}
		return candidates[i].id.String() < candidates[j].id.String()
	})

	total := money.Zero
	for _, c := range candidates {
		if free == 0 {
			break
		}
		units := min(free, c.stock.quantity)
		free -= units
		unitOff := c.stock.unitPrice.Mul(c.pct).Div(money.Hundred)
		total = total.Add(unitOff.Mul(decimal.NewFromInt(int64(units))))
	}
	return total
}

func sameItems(a, b map[uuid.UUID]Line) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func bundle(r Rule, items []LineItem) decimal.Decimal {
	var lines []Line
	for _, l := range r.Lines {
		if l.Role == RoleBundle {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return money.Zero
	}
	var required []Line
	for _, l := range lines {
		if l.IsRequired {
			required = append(required, l)
		}
	}
	if len(required) == 0 {
		required = lines
	}

	inOrder := aggregate(items)
	bundles := -1
	listValue := money.Zero
	for _, l := range required {
		need := max(l.RequiredQuantity, 1)
		s := inOrder[l.ItemID]
		n := s.quantity / need
		if bundles < 0 || n < bundles {
			bundles = n
		}
		listValue = listValue.Add(s.unitPrice.Mul(decimal.NewFromInt(int64(need))))
	}
	if bundles <= 0 {
		return money.Zero
	}
	count := decimal.NewFromInt(int64(bundles))

	if r.BundlePrice != nil {
		perBundle := money.Max(listValue.Sub(*r.BundlePrice), money.Zero)
		return perBundle.Mul(count)
	}

	perBundle := money.Zero
	for _, l := range lines {
		n := max(l.RequiredQuantity, 1)
		s := inOrder[l.ItemID]
		if s.quantity < n*bundles {
			continue
		}
		need := decimal.NewFromInt(int64(n))
		switch {
		case l.SpecialPrice != nil:
			perBundle = perBundle.Add(money.Max(s.unitPrice.Sub(*l.SpecialPrice), money.Zero).Mul(need))
		case l.DiscountPercentage != nil:
			pct := money.Clamp(*l.DiscountPercentage, money.Zero, money.Hundred)
			perBundle = perBundle.Add(s.unitPrice.Mul(need).Mul(pct).Div(money.Hundred))
		}
	}
	return perBundle.Mul(count)
}
