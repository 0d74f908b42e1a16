package supervisor

import "path/filepath"

// matchExpr reports whether expr selects name. The literal "all" matches
// every program name; otherwise expr is a case-sensitive shell-style glob
// (* and ?) matched against name.
func matchExpr(expr, name string) bool {
	if expr == "all" {
		return true
	}
	ok, err := filepath.Match(expr, name)
	return err == nil && ok
}
