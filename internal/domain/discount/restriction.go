package discount

import "strings"

// restrictionSets groups a code's restrictions by type into include and
// exclude value sets.
type restrictionSets struct {
	include map[RestrictionType]map[string]struct{}
	exclude map[RestrictionType]map[string]struct{}
}

func buildRestrictionSets(restrictions []Restriction) restrictionSets {
	s := restrictionSets{
		include: make(map[RestrictionType]map[string]struct{}),
		exclude: make(map[RestrictionType]map[string]struct{}),
	}
	for _, r := range restrictions {
		target := s.include
		if !r.Include {
			target = s.exclude
		}
		set, ok := target[r.Type]
		if !ok {
			set = make(map[string]struct{})
			target[r.Type] = set
		}
		set[strings.ToLower(r.Value)] = struct{}{}
	}
	return s
}

// passes reports whether value survives the include/exclude sets for typ.
// Include values of one type form a union; exclude overrides include.
func (s restrictionSets) passes(typ RestrictionType, value string) bool {
	value = strings.ToLower(value)
	if set, ok := s.exclude[typ]; ok {
		if _, hit := set[value]; hit {
			return false
		}
	}
	if set, ok := s.include[typ]; ok && len(set) > 0 {
		_, hit := set[value]
		return hit
	}
	return true
}

// eligibleLines returns the indexes of cart lines that survive the code's
// restriction filtering for the given buyer. Different restriction types are
// ANDed: a line must pass all of them. Customer-email restrictions gate the
// whole cart; a buyer outside the allow-list makes every line ineligible.
func eligibleLines(c *Code, cart Cart, buyer Buyer) []int {
	if len(c.Restrictions) == 0 {
		all := make([]int, len(cart.Lines))
		for i := range cart.Lines {
			all[i] = i
		}
		return all
	}

	sets := buildRestrictionSets(c.Restrictions)

	if !sets.passes(RestrictCustomerEmail, buyer.Email) {
		return nil
	}

	var eligible []int
	for i, line := range cart.Lines {
		if !sets.passes(RestrictProduct, line.SKU) {
			continue
		}
		if !sets.passes(RestrictCategory, line.Category) {
			continue
		}
		eligible = append(eligible, i)
	}
	return eligible
}
