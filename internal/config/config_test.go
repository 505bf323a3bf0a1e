package config

import (
	"os"
	"testing"
)

func TestLoadRequiresEncryptionKey(t *testing.T) {
	os.Unsetenv("GOFER_ENCRYPTION_KEY")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() with no encryption key should fail")
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("GOFER_ENCRYPTION_KEY", "a-32-byte-long-test-key-value!!")
	t.Setenv("GOFER_API_HOST", "0.0.0.0:9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.APIHost != "0.0.0.0:9090" {
		t.Fatalf("APIHost = %q, want overridden value", cfg.APIHost)
	}
	if cfg.EncryptionKey != "a-32-byte-long-test-key-value!!" {
		t.Fatalf("EncryptionKey not set from environment")
	}
}

func TestEnvVarNamesIncludesCoreSettings(t *testing.T) {
	names := map[string]bool{}
	for _, n := range EnvVarNames() {
		names[n] = true
	}
	for _, want := range []string{"GOFER_LOG_LEVEL", "GOFER_API_HOST", "GOFER_STORAGE_PATH", "GOFER_ENCRYPTION_KEY"} {
		if !names[want] {
			t.Errorf("EnvVarNames() missing %q", want)
		}
	}
}
