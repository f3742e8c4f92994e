package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
)

// CheckCommandAllowed enforces the --enable-commands allowlist. An entry
// allows its exact path and every subcommand below it, so "revoke" covers
// "revoke run" and "revoke single".
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		norm := normalize(allowed)
		if norm == "" {
			continue
		}
		if norm == normPath || strings.HasPrefix(normPath, norm+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// IsMutating reports whether a command path submits transactions.
func IsMutating(commandPath string) bool {
	switch normalize(commandPath) {
	case "sweep run", "revoke run", "revoke single", "revoke partial":
		return true
	default:
		return false
	}
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
