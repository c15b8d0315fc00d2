package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in   string
		kind string
		arg  string
	}{
		{"sdk", "sdk", ""},
		{"none", "none", ""},
		{"env::OPENAI_API_KEY", "env", "OPENAI_API_KEY"},
		{"path::/etc/secret", "path", "/etc/secret"},
		{"path_from_env::KEY_PATH", "path_from_env", "KEY_PATH"},
		{"dynamic::my_key", "dynamic", "my_key"},
	}
	for _, c := range cases {
		loc, err := ParseLocation(c.in)
		if err != nil {
			t.Fatalf("ParseLocation(%q): %v", c.in, err)
		}
		if loc.Kind != c.kind || loc.Arg != c.arg {
			t.Errorf("ParseLocation(%q) = %+v, want kind=%s arg=%s", c.in, loc, c.kind, c.arg)
		}
	}

	if _, err := ParseLocation("bogus::x"); err == nil {
		t.Fatal("expected error for unrecognized location")
	}
}

func TestResolverEnvAndMemoization(t *testing.T) {
	t.Setenv("TEST_CRED_ENV", "sekret")
	r := NewResolver()

	v, err := r.Resolve("openai", "env::TEST_CRED_ENV", nil, false)
	if err != nil || v != "sekret" {
		t.Fatalf("Resolve = %q, %v", v, err)
	}

	os.Unsetenv("TEST_CRED_ENV")
	v, err = r.Resolve("openai", "env::TEST_CRED_ENV", nil, false)
	if err != nil || v != "sekret" {
		t.Fatalf("expected cached value after unset, got %q, %v", v, err)
	}
}

func TestResolverMissingEnv(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("openai", "env::DOES_NOT_EXIST_XYZ", nil, false)
	if err == nil {
		t.Fatal("expected MissingCredentialError")
	}
	if _, ok := err.(*MissingCredentialError); !ok {
		t.Fatalf("expected *MissingCredentialError, got %T", err)
	}

	v, err := r.Resolve("openai", "env::DOES_NOT_EXIST_XYZ", nil, true)
	if err != nil || v != "" {
		t.Fatalf("skipValidation should suppress error, got %q, %v", v, err)
	}
}

func TestResolverPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(p, []byte("  filesecret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewResolver()
	v, err := r.Resolve("anthropic", "path::"+p, nil, false)
	if err != nil || v != "filesecret" {
		t.Fatalf("Resolve = %q, %v", v, err)
	}
}

func TestResolverDynamic(t *testing.T) {
	r := NewResolver()
	v, err := r.Resolve("openai", "dynamic::user_key", map[string]string{"user_key": "xyz"}, false)
	if err != nil || v != "xyz" {
		t.Fatalf("Resolve = %q, %v", v, err)
	}

	if _, err := r.Resolve("openai", "dynamic::missing", map[string]string{}, false); err == nil {
		t.Fatal("expected error for missing dynamic key")
	}
}

func TestResolverSDKAndNone(t *testing.T) {
	r := NewResolver()
	if v, err := r.Resolve("bedrock", "sdk", nil, false); err != nil || v != "" {
		t.Fatalf("sdk location should resolve to empty string, got %q, %v", v, err)
	}
	if v, err := r.Resolve("dummy", "none", nil, false); err != nil || v != "" {
		t.Fatalf("none location should resolve to empty string, got %q, %v", v, err)
	}
}
