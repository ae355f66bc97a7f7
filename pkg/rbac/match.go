package rbac

import (
	"slices"
	"strings"
)

// permissionMatches reports whether a granted pattern covers the required permission.
//
// Matching rules:
//   - Direct match: "products.read" covers "products.read"
//   - Global wildcard: "*" covers anything well formed
//   - Namespace wildcard: "products.*" covers any "products.<action>"
func permissionMatches(required, granted Permission) bool {
	if required == "" {
		return false
	}
	if required == granted {
		return true
	}
	if granted == Wildcard {
		return required.WellFormed()
	}
	if prefix, ok := strings.CutSuffix(string(granted), permissionDelimiter+string(Wildcard)); ok && prefix != "" {
		return strings.HasPrefix(string(required), prefix+permissionDelimiter) && required.Action() != ""
	}
	return false
}

func anyMatches(grants []Permission, required Permission) bool {
	for _, g := range grants {
		if permissionMatches(required, g) {
			return true
		}
	}
	return false
}

// normalize removes blanks and duplicates and sorts the result.
func normalize(perms []Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if p = Permission(strings.TrimSpace(string(p))); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
