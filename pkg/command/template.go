package command

import (
	"sort"
	"strings"

	"cmdworker/pkg/models"
)

// Compile substitutes parameters into a command template. Every occurrence
// of the literal substring {key} is replaced with the parameter value, one
// pass per key over the progressively rewritten template. Keys are applied
// in sorted order so the output is stable across runs. Template-reserved
// identifiers are skipped even when a matching placeholder exists, unknown
// placeholders stay literal, and unused parameters are no-ops.
func Compile(template string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if models.ReservedParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	compiled := template
	for _, key := range keys {
		compiled = strings.ReplaceAll(compiled, "{"+key+"}", params[key])
	}
	return compiled
}
