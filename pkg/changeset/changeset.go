/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// Package changeset models the set of package upgrades produced by one
// dependency scan, and formats the commit and pull request text derived
// from it.
package changeset

import (
	"fmt"
	"sort"
	"strings"
)

// Change is a single package upgrade: the package name and the version
// it is being moved to.
type Change struct {
	Name    string
	Version string
}

// Set is an ordered collection of package upgrades. Order is fixed once
// the Set is built and is preserved in all derived text.
type Set []Change

// FromMap builds a Set from a name to version mapping, ordered by
// package name so that runs over the same input produce identical
// commit text.
func FromMap(updates map[string]string) Set {
	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	set := make(Set, 0, len(names))
	for _, name := range names {
		set = append(set, Change{Name: name, Version: updates[name]})
	}
	return set
}

// Empty reports whether the scan found nothing to upgrade.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Summary returns the commit title line, e.g. "npmup (3 updates)".
func (s Set) Summary() string {
	return strings.TrimSpace(fmt.Sprintf("npmup (%d updates)", len(s)))
}

// Description returns the commit body: one line per upgrade in Set
// order, trimmed of leading and trailing whitespace.
func (s Set) Description() string {
	var b strings.Builder
	for _, c := range s {
		fmt.Fprintf(&b, "`%s`: `%s`\n", c.Name, c.Version)
	}
	return strings.TrimSpace(b.String())
}

// FilePatch maps repository-relative paths to full new file contents.
// One patch is applied as a single commit; partial application is never
// an acceptable intermediate state.
type FilePatch map[string]string
