package tunio

import "testing"

func TestOpenUnknownInterfaceFails(t *testing.T) {
	if _, err := Open("tunshield-test-nonexistent0"); err == nil {
		t.Fatalf("expected Open to fail for a nonexistent interface")
	}
}
