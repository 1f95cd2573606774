// Package template implements the "${name}" substitution pass that runs
// over a raw pipeline document before it is parsed into a Pipeline model.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
)

var refPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render substitutes every "${name}" occurrence in src with the
// corresponding value from vars. It fails closed: any reference to a name
// not present in vars is an error, never a silent pass-through.
func Render(src string, vars map[string]string) (string, error) {
	var missing []string
	seen := make(map[string]struct{})

	out := refPattern.ReplaceAllStringFunc(src, func(match string) string {
		name := refPattern.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			if _, dup := seen[name]; !dup {
				missing = append(missing, name)
				seen[name] = struct{}{}
			}
			return match
		}
		return val
	})

	if len(missing) > 0 {
		return "", aqerrors.New(aqerrors.Template, "render",
			fmt.Errorf("unresolved template reference(s): %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

// Refs returns the distinct set of "${name}" references found in src, in
// first-occurrence order.
func Refs(src string) []string {
	matches := refPattern.FindAllStringSubmatch(src, -1)
	seen := make(map[string]struct{})
	var names []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; !ok {
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
	return names
}
