package media

import (
	"fmt"
	"sort"
	"strings"
)

// Roster is the closed set of agents the classifier may name, plus the
// fallback used when it cannot decide.
type Roster struct {
	Agents       []string       `yaml:"agents" json:"agents"`
	DefaultAgent string         `yaml:"default_agent" json:"default_agent"`
	SlotRoles    map[int]string `yaml:"slot_roles" json:"slot_roles"`
}

func DefaultRoster() Roster {
	return Roster{
		Agents:       []string{"vesper", "kestrel", "marrow", "sable"},
		DefaultAgent: "vesper",
		SlotRoles: map[int]string{
			1:  "primary portrait",
			2:  "profile left",
			3:  "profile right",
			4:  "full body",
			5:  "close-up eyes",
			6:  "hands",
			7:  "signature outfit",
			8:  "alternate outfit",
			9:  "environment",
			10: "prop",
			11: "action pose",
			12: "expression sheet",
			13: "silhouette",
			14: "mood reference",
		},
	}
}

func (r Roster) Validate() error {
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster: at least one agent required")
	}
	seen := map[string]bool{}
	for _, a := range r.Agents {
		k := normalizeAgent(a)
		if k == "" {
			return fmt.Errorf("roster: empty agent name")
		}
		if k == UnknownAgent {
			return fmt.Errorf("roster: %q is reserved", UnknownAgent)
		}
		if seen[k] {
			return fmt.Errorf("roster: duplicate agent %q", a)
		}
		seen[k] = true
	}
	if _, ok := r.Canonical(r.DefaultAgent); !ok {
		return fmt.Errorf("roster: default agent %q is not in the roster", r.DefaultAgent)
	}
	for slot := range r.SlotRoles {
		if !ValidSlot(slot) {
			return NewSlotValidationError(slot)
		}
	}
	return nil
}

// Canonical maps a free-form agent name onto the roster spelling.
func (r Roster) Canonical(agent string) (string, bool) {
	k := normalizeAgent(agent)
	if k == "" {
		return "", false
	}
	for _, a := range r.Agents {
		if normalizeAgent(a) == k {
			return normalizeAgent(a), true
		}
	}
	return "", false
}

func (r Roster) RoleForSlot(slot int) string {
	return r.SlotRoles[slot]
}

// Names returns the agents in sorted canonical form.
func (r Roster) Names() []string {
	out := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		out = append(out, normalizeAgent(a))
	}
	sort.Strings(out)
	return out
}

func normalizeAgent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
