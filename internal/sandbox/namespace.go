// Package sandbox contains each agent's writes to its own namespace subtree
// and appends validated observations to that namespace's append-only log.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"enclave/internal/pathguard"
)

// LogName is the append-only entries file inside every namespace directory.
const LogName = "entries.jsonl"

// Namespace is the filesystem subtree exclusively owned by one agent. The
// allowed root is writable by exactly that agent; the deny roots (the corpus
// directory and every sibling namespace root) are never writable regardless
// of path manipulation.
type Namespace struct {
	ID          string
	AllowedRoot string
	DenyRoots   []string
}

// NewNamespace builds and validates a namespace rooted at
// namespacesRoot/id. The identifier must be a single path component, and the
// allowed root must be disjoint from every deny root; a namespace that fails
// either check is a configuration error, not a runtime warning.
func NewNamespace(namespacesRoot, id string, denyRoots []string) (Namespace, error) {
	if err := ValidateID(id); err != nil {
		return Namespace{}, err
	}
	allowed := filepath.Join(namespacesRoot, id)
	resolvedAllowed, err := pathguard.Resolve(allowed)
	if err != nil {
		return Namespace{}, fmt.Errorf("resolve namespace root %s: %w", allowed, err)
	}
	for _, deny := range denyRoots {
		resolvedDeny, err := pathguard.Resolve(deny)
		if err != nil {
			return Namespace{}, fmt.Errorf("resolve deny root %s: %w", deny, err)
		}
		if pathguard.Within(resolvedAllowed, resolvedDeny) || pathguard.Within(resolvedDeny, resolvedAllowed) {
			return Namespace{}, fmt.Errorf("namespace %q root %s is not disjoint from deny root %s", id, resolvedAllowed, resolvedDeny)
		}
	}
	return Namespace{ID: id, AllowedRoot: resolvedAllowed, DenyRoots: denyRoots}, nil
}

// LogPath is the namespace's append-only log file.
func (n Namespace) LogPath() string {
	return filepath.Join(n.AllowedRoot, LogName)
}

// ValidateID rejects namespace identifiers that are empty or that carry path
// structure. Identifiers become directory names, so anything beyond a single
// clean component is refused before it reaches the filesystem.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("namespace id must not be empty")
	}
	if id != filepath.Base(filepath.Clean(id)) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("namespace id %q must be a single path component", id)
	}
	return nil
}
