package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value, or default when the variable is unset or empty.
//
// An unset variable without a default expands to the empty string; its
// name is returned in missing, once per name in order of appearance.
func ExpandEnv(input string) (expanded string, missing []string) {
	seen := make(map[string]bool)
	expanded = envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]

		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if def != "" {
			return def
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return ""
	})
	return expanded, missing
}
