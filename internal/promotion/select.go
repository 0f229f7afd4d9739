package promotion

import "sort"

// Sort orders rules by ascending priority, breaking ties by code.
func Sort(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Code < rules[j].Code
	})
}

// Select walks candidates in precedence order and returns the promotions to apply.
// Cumulative matches stack; the first non-cumulative match is included and ends the
// selection. The input slice is not modified.
func Select(candidates []Rule, match func(Rule) bool) []Rule {
	ordered := make([]Rule, len(candidates))
	copy(ordered, candidates)
	Sort(ordered)

	var selected []Rule
	for _, r := range ordered {
		if match != nil && !match(r) {
			continue
		}
		selected = append(selected, r)
		if !r.IsCumulative {
			break
		}
	}
	return selected
}
