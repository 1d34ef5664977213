// Package pathguard decides whether a candidate filesystem path may be
// written to, given one allowed root and a set of denied roots. Decisions are
// made over the fully resolved path, so symlink indirection and relative
// segments cannot smuggle a write outside the allowed subtree.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Violation reports a rejected write target. The resolved path is retained
// for audit logging; callers must not echo it to external clients.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("path violation: %s: %s", v.Reason, v.Path)
}

// Authorize reports whether candidate may be written to. The candidate is
// resolved (symlinks followed, . and .. normalized) before any containment
// check; a candidate that cannot be resolved is rejected rather than
// permitted. The final path components are allowed to not exist yet, since
// appends create the log file on first write, but every existing component
// must resolve. Deny roots are checked even when the allow check passed:
// deny always wins over allow. The decision is pure and re-evaluated on
// every call; the symlink graph can change between calls.
func Authorize(candidate, allowedRoot string, denyRoots []string) error {
	resolved, err := Resolve(candidate)
	if err != nil {
		return &Violation{Path: candidate, Reason: fmt.Sprintf("cannot resolve: %v", err)}
	}
	allowed, err := Resolve(allowedRoot)
	if err != nil {
		return &Violation{Path: candidate, Reason: fmt.Sprintf("cannot resolve allowed root: %v", err)}
	}
	if !Within(resolved, allowed) {
		return &Violation{Path: resolved, Reason: "outside allowed root"}
	}
	for _, deny := range denyRoots {
		denied, err := Resolve(deny)
		if err != nil {
			return &Violation{Path: resolved, Reason: fmt.Sprintf("cannot resolve deny root: %v", err)}
		}
		if Within(resolved, denied) {
			return &Violation{Path: resolved, Reason: "inside denied root"}
		}
	}
	return nil
}

// Resolve canonicalizes path to an absolute, symlink-free form, walking it
// component by component. Symlinks are evaluated before a following ".." is
// applied, so "link/.." names the parent of the link target, never the
// directory holding the link. Components that do not exist yet are resolved
// lexically below their nearest existing ancestor; a component that exists
// but cannot be followed (for example a dangling symlink) is an error.
func Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = cwd + string(filepath.Separator) + path
	}
	resolved := string(filepath.Separator)
	exists := true
	for _, comp := range strings.Split(path, string(filepath.Separator)) {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, comp)
		if !exists {
			resolved = next
			continue
		}
		if _, err := os.Lstat(next); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				exists = false
				resolved = next
				continue
			}
			return "", err
		}
		real, err := filepath.EvalSymlinks(next)
		if err != nil {
			return "", err
		}
		resolved = real
	}
	return resolved, nil
}

// Within reports whether path equals root or is a descendant of it. Both
// arguments must already be canonical.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
