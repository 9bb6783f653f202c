package tabular

import (
	"regexp"
	"sort"
	"strings"
)

// KOPattern matches a KEGG Orthology identifier.
var KOPattern = regexp.MustCompile(`K\d{5}`)

// ParseKOs extracts KO identifiers from a comma-separated annotation cell such as
// "ko:K00925,ko:K00625". Tokens that carry no KO (e.g. "-") are ignored.
func ParseKOs(value string) []string {
	set := make(Set)
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" || token == "-" {
			continue
		}
		token = strings.ReplaceAll(token, "ko:", "")
		for _, ko := range KOPattern.FindAllString(token, -1) {
			set.Add(ko)
		}
	}
	return set.Sorted()
}

// Set is a string set with deterministic iteration through Sorted.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func (s Set) Add(items ...string) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s Set) Union(other Set) {
	for it := range other {
		s[it] = struct{}{}
	}
}

// Intersect returns the sorted members of s that are also in other.
func (s Set) Intersect(other Set) []string {
	var out []string
	for it := range s {
		if other.Has(it) {
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

// Intersects reports whether s and other share any member.
func (s Set) Intersects(other Set) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for it := range small {
		if large.Has(it) {
			return true
		}
	}
	return false
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
