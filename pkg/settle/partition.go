package settle

// Partition splits an entity set by exact display-name match against an
// exclusion list. Excluded entities are settled individually; the remainder
// is settled as one merged group. The two groups share no state.
func Partition(entities []Entity, excludeNames []string) (excluded, remaining []Entity) {
	if len(excludeNames) == 0 {
		return nil, entities
	}
	set := make(map[string]bool, len(excludeNames))
	for _, n := range excludeNames {
		if n != "" {
			set[n] = true
		}
	}
	for _, e := range entities {
		if set[e.Name] {
			excluded = append(excluded, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	return excluded, remaining
}
