package phonebook

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// PrefixSet is an ordered list of dialing prefixes treated as
// interchangeable at the start of a number, e.g. {"+39", "0039", "39"}.
// The order decides which candidate wins when several could match.
type PrefixSet []string

// ParsePrefixes parses a comma-separated prefix list into a PrefixSet.
// Entries are normalized like phone numbers; an empty input yields nil.
func ParsePrefixes(s string) (PrefixSet, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var set PrefixSet
	for _, part := range strings.Split(s, ",") {
		p := NormalizeNumber(strings.TrimSpace(part))
		if p == "" {
			return nil, fmt.Errorf("invalid prefix %q", part)
		}
		set = append(set, p)
	}
	return set, nil
}

// Index is an immutable number-to-name mapping built from one parsed
// phonebook document. Lookups never mutate it, so it is safe for concurrent
// readers without locking.
type Index struct {
	names    map[string]string
	contacts []Contact
}

// NewIndex builds an index from contacts. When two contacts share a number,
// the first one listed wins.
func NewIndex(contacts []Contact) *Index {
	names := make(map[string]string)
	for _, c := range contacts {
		for _, n := range c.Numbers {
			if _, exists := names[n]; !exists {
				names[n] = c.Name
			}
		}
	}
	return &Index{names: names, contacts: contacts}
}

// Len returns the number of distinct indexed numbers.
func (ix *Index) Len() int {
	return len(ix.names)
}

// Contacts returns the raw contact list for diagnostics.
func (ix *Index) Contacts() []Contact {
	return ix.contacts
}

// Resolve looks up a number against the index. Matching order:
//
//  1. Exact match on the normalized number.
//  2. If the number starts with a prefix from a set, retry with that prefix
//     stripped and with every other prefix of the same set substituted.
//  3. Treat the number as a bare local form and retry with each prefix of
//     each set prepended, also with leading zeros stripped first.
//
// The first hit in configured order wins. A miss returns ok == false; it is
// "name unknown", not an error.
func (ix *Index) Resolve(number string, sets []PrefixSet) (string, bool) {
	n := NormalizeNumber(number)
	if n == "" {
		return "", false
	}

	if name, ok := ix.names[n]; ok {
		return name, true
	}

	for _, set := range sets {
		if name, ok := ix.resolveSubstituted(n, set); ok {
			return name, true
		}
		if name, ok := ix.resolvePrepended(n, set); ok {
			return name, true
		}
	}
	return "", false
}

// resolveSubstituted handles a query that already carries a prefix from the
// set: the bare remainder and every sibling prefix are tried in order.
func (ix *Index) resolveSubstituted(n string, set PrefixSet) (string, bool) {
	for _, p := range set {
		if !strings.HasPrefix(n, p) || len(n) == len(p) {
			continue
		}
		bare := n[len(p):]
		if name, ok := ix.names[bare]; ok {
			return name, true
		}
		for _, q := range set {
			if q == p {
				continue
			}
			if name, ok := ix.names[q+bare]; ok {
				return name, true
			}
		}
		// Only the first matching prefix of a set is substituted.
		break
	}
	return "", false
}

// resolvePrepended handles a query in bare local form whose directory entry
// is stored with a prefix. The trunk-zero variant covers national formats
// like 03489... stored as +393489...
func (ix *Index) resolvePrepended(n string, set PrefixSet) (string, bool) {
	trimmed := strings.TrimLeft(n, "0")
	for _, p := range set {
		if name, ok := ix.names[p+n]; ok {
			return name, true
		}
		if trimmed != "" && trimmed != n {
			if name, ok := ix.names[p+trimmed]; ok {
				return name, true
			}
		}
	}
	return "", false
}

// Directory holds the currently active Index behind an atomic pointer.
// Refreshes build a complete new index and swap it in as a unit, so
// concurrent lookups always see either the fully-old or fully-new snapshot.
type Directory struct {
	prefixes []PrefixSet
	current  atomic.Pointer[Index]
}

// NewDirectory creates an empty directory with the given prefix sets.
func NewDirectory(sets ...PrefixSet) *Directory {
	d := &Directory{}
	for _, s := range sets {
		if len(s) > 0 {
			d.prefixes = append(d.prefixes, s)
		}
	}
	d.current.Store(NewIndex(nil))
	return d
}

// Replace atomically swaps in a freshly built index.
func (d *Directory) Replace(ix *Index) {
	d.current.Store(ix)
}

// Resolve looks up a number against the current snapshot.
func (d *Directory) Resolve(number string) (string, bool) {
	return d.current.Load().Resolve(number, d.prefixes)
}

// Entries returns the number of indexed numbers in the current snapshot.
func (d *Directory) Entries() int {
	return d.current.Load().Len()
}

// Contacts returns the contact list of the current snapshot.
func (d *Directory) Contacts() []Contact {
	return d.current.Load().Contacts()
}

// Prefixes returns the configured prefix sets.
func (d *Directory) Prefixes() []PrefixSet {
	return d.prefixes
}
