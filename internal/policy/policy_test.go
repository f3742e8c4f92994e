package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "sweep run"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"scan"}, "scan"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{" Revoke "}, "revoke single"); err != nil {
		t.Fatalf("expected parent entry to allow subcommand: %v", err)
	}
	err := CheckCommandAllowed([]string{"scan", "quote"}, "sweep run")
	if err == nil || !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if err := CheckCommandAllowed([]string{"runs"}, "runsx list"); err == nil {
		t.Fatal("prefix must match whole path segments")
	}
}

func TestIsMutating(t *testing.T) {
	if !IsMutating("sweep  run") || !IsMutating("revoke single") || !IsMutating("Revoke Partial") {
		t.Fatal("transaction commands should be mutating")
	}
	if IsMutating("scan") || IsMutating("approvals scan") {
		t.Fatal("read commands should not be mutating")
	}
}
