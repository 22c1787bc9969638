package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Scope describes what a phase is allowed to deliver and touch.
// Stored as JSON on the phase record.
type Scope struct {
	Deliverables    []string `json:"deliverables"`
	AllowedPaths    []string `json:"allowed_paths,omitempty"`
	ProtectedPaths  []string `json:"protected_paths,omitempty"`
	ReadOnlyContext []string `json:"read_only_context,omitempty"`
}

// ProtectsPath reports whether the given path falls under a protected path.
// Matching is prefix-based on cleaned, slash-normalized paths so that
// "db/migrations" protects "db/migrations/0001_init.sql".
func (s *Scope) ProtectsPath(path string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	for _, p := range s.ProtectedPaths {
		prot := filepath.ToSlash(filepath.Clean(p))
		if cleaned == prot || strings.HasPrefix(cleaned, prot+"/") {
			return true
		}
	}
	return false
}

// AllowsPath reports whether the path is inside the allowed set.
// An empty allowed set means the whole workspace is writable (minus
// protected paths).
func (s *Scope) AllowsPath(path string) bool {
	if s.ProtectsPath(path) {
		return false
	}
	if len(s.AllowedPaths) == 0 {
		return true
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	for _, a := range s.AllowedPaths {
		allowed := filepath.ToSlash(filepath.Clean(a))
		if cleaned == allowed || strings.HasPrefix(cleaned, allowed+"/") {
			return true
		}
	}
	return false
}

// ValidatePatchPaths checks every file a patch touches against the scope.
// A violation is a deterministic failure: re-running the same patch against
// the same scope will fail identically, so it must never be retried inline.
func (s *Scope) ValidatePatchPaths(paths []string) error {
	var violations []string
	for _, p := range paths {
		if !s.AllowsPath(p) {
			violations = append(violations, p)
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("patch touches %d path(s) outside phase scope: %s",
			len(violations), strings.Join(violations, ", "))
	}
	return nil
}
