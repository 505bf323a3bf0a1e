package docker

import "testing"

func TestConvertEnvVars(t *testing.T) {
	out := convertEnvVars(map[string]string{"FOO": "bar"})
	if len(out) != 1 || out[0] != "FOO=bar" {
		t.Fatalf("expected [FOO=bar], got %v", out)
	}
}
