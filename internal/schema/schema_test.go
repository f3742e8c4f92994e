package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "dustsweep"}
	child := &cobra.Command{Use: "revoke", Short: "revoke approvals"}
	leaf := &cobra.Command{
		Use:         "run",
		Short:       "revoke selected approvals",
		Annotations: map[string]string{AnnotationMutating: "true"},
	}
	leaf.Flags().String("chain", "", "chain id")
	leaf.Flags().Bool("all", false, "select everything")
	_ = leaf.MarkFlagRequired("chain")
	child.AddCommand(leaf)
	root.AddCommand(child)

	s, err := Build(root, "revoke run")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "dustsweep revoke run" || !s.Mutating {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 2 {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	for _, f := range s.Flags {
		if f.Required != (f.Name == "chain") {
			t.Fatalf("unexpected required marker on %s", f.Name)
		}
	}

	if _, err := Build(root, "revoke missing"); err == nil {
		t.Fatal("expected unknown command error")
	}
}
