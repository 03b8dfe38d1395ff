package models

// Id-set helpers. Sets are kept as slices so insertion order survives JSON round trips.

// ContainsID reports whether id is present in ids.
func ContainsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// UniqueIDs drops empty and repeated ids, keeping first-seen order.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || ContainsID(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// UnionIDs appends every id of add that base does not already hold.
func UnionIDs(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	out = append(out, base...)
	for _, id := range add {
		if id == "" || ContainsID(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RemoveID returns ids without any occurrence of id.
func RemoveID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// CloneIDs copies ids, never returning nil.
func CloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
