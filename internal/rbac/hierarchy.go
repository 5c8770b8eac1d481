package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// maxDepth bounds ancestor walks; a chain longer than this is treated as a
// cycle.
const maxDepth = 64

// CheckRoleHierarchy reports whether making parent the parent of role keeps
// the hierarchy acyclic. parents maps each role to its current parent.
// An empty parent detaches the role and is always valid.
func CheckRoleHierarchy(parents map[string]string, role, parent string) error {
	if parent == "" {
		return nil
	}
	if role == parent {
		return fmt.Errorf("%w: role %q cannot be its own parent", shared.ErrInvalidHierarchy, role)
	}
	seen := map[string]struct{}{role: {}}
	for cur, depth := parent, 0; cur != ""; cur, depth = parents[cur], depth+1 {
		if _, ok := seen[cur]; ok || depth > maxDepth {
			return fmt.Errorf("%w: %q -> %q forms a cycle", shared.ErrInvalidHierarchy, role, parent)
		}
		seen[cur] = struct{}{}
	}
	return nil
}

// ancestors returns role followed by its parent chain up to the root.
func ancestors(parents map[string]string, role string) []string {
	chain := []string{role}
	for cur, depth := parents[role], 0; cur != "" && depth < maxDepth; cur, depth = parents[cur], depth+1 {
		chain = append(chain, cur)
	}
	return chain
}

// descendants returns role and every role below it.
func descendants(parents map[string]string, role string) []string {
	children := make(map[string][]string, len(parents))
	for r, p := range parents {
		if p != "" {
			children[p] = append(children[p], r)
		}
	}
	out := []string{role}
	queue := []string{role}
	seen := map[string]struct{}{role: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}
