// Package catalog resolves problem-code and accessory UUIDs to display names.
package catalog

// Kind selects which reference table a UUID belongs to.
type Kind string

const (
	KindProblem   Kind = "problem"
	KindAccessory Kind = "accessory"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindProblem, KindAccessory:
		return true
	}
	return false
}

// Names maps UUID to display name. A nil value marks a UUID that did not resolve.
type Names map[string]*string

// Resolved pairs the problem and accessory lookups of one order.
type Resolved struct {
	Problems    Names `json:"problems"`
	Accessories Names `json:"accessories"`
}

// dedupe drops empty and repeated UUIDs, keeping the first occurrence.
func dedupe(uuids []string) []string {
	seen := make(map[string]struct{}, len(uuids))
	out := make([]string, 0, len(uuids))
	for _, id := range uuids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
