package common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "gateway.env")
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return file
}

func unsetForTest(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadEnvFileMissingIsNoop(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadEnvFileKeepsExistingAndSkipsBrokenLines(t *testing.T) {
	t.Setenv("RPC_URL", "http://from-shell:8545")
	unsetForTest(t, "ADMIN_API_KEY", "CHAIN_ID", "JWT_ISSUER")
	file := writeEnvFile(t, strings.Join([]string{
		"# local overrides",
		"RPC_URL=http://from-file:8545",
		"ADMIN_API_KEY=\"ops key\"",
		"this line is not an assignment",
		"export CHAIN_ID=31337",
		"JWT_ISSUER='d4l-gateway'",
		"",
	}, "\n"))

	if err := LoadEnvFile(file); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	want := map[string]string{
		"RPC_URL":       "http://from-shell:8545",
		"ADMIN_API_KEY": "ops key",
		"CHAIN_ID":      "31337",
		"JWT_ISSUER":    "d4l-gateway",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s=%q want %q", k, got, v)
		}
	}
}

func TestLoadEnvFileDirectoryFails(t *testing.T) {
	err := LoadEnvFile(t.TempDir())
	if err == nil {
		t.Fatal("expected error when path is a directory")
	}
	if !strings.HasPrefix(err.Error(), "open env file:") && !strings.HasPrefix(err.Error(), "read env file:") {
		t.Fatalf("unexpected error shape: %v", err)
	}
}

func FuzzLoadEnvFileNeverFailsOnContent(f *testing.F) {
	f.Add("RPC_URL=http://localhost:8545\nCHAIN_ID=31337\n")
	f.Add("BROKEN\n# comment\n ADMIN_API_KEY = \"x\" \n")
	f.Add("KEY='unterminated\n")
	f.Add(strings.Repeat("A", 70000))

	f.Fuzz(func(t *testing.T, content string) {
		if len(content) > 200000 {
			content = content[:200000]
		}
		err := LoadEnvFile(writeEnvFile(t, content))
		if err == nil {
			return
		}
		// Only scanner limits may fail a readable file.
		if !strings.HasPrefix(err.Error(), "read env file:") || errors.Unwrap(err) == nil {
			t.Fatalf("unexpected error for readable file: %v", err)
		}
	})
}
