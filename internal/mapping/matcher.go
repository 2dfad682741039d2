package mapping

import (
	"strings"
)

// Reason explains the outcome of a match attempt.
type Reason string

const (
	ReasonMatched          Reason = "matched"
	ReasonNoRule           Reason = "no rule matches"
	ReasonAlreadyProcessed Reason = "object already lives under the rule destination"
)

// Decision is the full result of resolving one object path.
type Decision struct {
	Path   string
	Folder string
	Rule   *Rule
	Reason Reason
}

// Matched reports whether the object should be imported.
func (d Decision) Matched() bool {
	return d.Reason == ReasonMatched
}

// Matcher resolves object paths against an ordered rule list. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	rules []Rule
}

// NewMatcher wraps rules in evaluation order.
func NewMatcher(rules []Rule) *Matcher {
	return &Matcher{rules: rules}
}

// Matcher returns a matcher over the configured rules.
func (c *ImportConfig) Matcher() *Matcher {
	return NewMatcher(c.Rules)
}

// Match returns the rule an object path should be imported with. Only the
// first matching rule is considered; when that rule's destination already
// contains the object, the path is treated as unmatched.
func (m *Matcher) Match(objectPath string) (Rule, bool) {
	d := m.Resolve(objectPath)
	if !d.Matched() {
		return Rule{}, false
	}
	return *d.Rule, true
}

// Resolve is Match with the reasoning kept, for callers that report it.
func (m *Matcher) Resolve(objectPath string) Decision {
	folder, _ := SplitPath(objectPath)
	d := Decision{Path: objectPath, Folder: folder, Reason: ReasonNoRule}
	for i := range m.rules {
		rule := &m.rules[i]
		if !rule.matches(objectPath, folder) {
			continue
		}
		d.Rule = rule
		if rule.HasDestination() && underFolder(folder, rule.DestinationFolder) {
			d.Reason = ReasonAlreadyProcessed
		} else {
			d.Reason = ReasonMatched
		}
		return d
	}
	return d
}

func (r *Rule) matches(objectPath, folder string) bool {
	switch r.Kind {
	case KindFolder:
		return r.Pattern == folder
	default:
		return r.re != nil && r.re.MatchString(objectPath)
	}
}

// SplitPath splits an object path at its last slash. Objects in the bucket
// root have an empty folder.
func SplitPath(objectPath string) (folder, name string) {
	idx := strings.LastIndex(objectPath, "/")
	if idx < 0 {
		return "", objectPath
	}
	return objectPath[:idx], objectPath[idx+1:]
}

func underFolder(folder, destination string) bool {
	destination = strings.Trim(destination, "/")
	if destination == "" {
		return false
	}
	return folder == destination || strings.HasPrefix(folder, destination+"/")
}
