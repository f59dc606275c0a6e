package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, envPrefix+"_") {
			t.Setenv(name, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load(nil, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Lang != "en" || c.ClipboardClear != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.Generator != (Generator{Length: 12, Uppercase: true, Numbers: true, Symbols: true}) {
		t.Fatalf("unexpected generator defaults %+v", c.Generator)
	}
	if !strings.HasSuffix(c.Dir, ".ferris-vault") {
		t.Fatalf("unexpected default dir %q", c.Dir)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "dir: /srv/vault\nlang: es\nclipboard_clear: 10s\ngenerator:\n  length: 20\n  symbols: false\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Dir != "/srv/vault" || c.Lang != "es" || c.ClipboardClear != 10*time.Second {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Generator.Length != 20 || c.Generator.Symbols || !c.Generator.Numbers {
		t.Fatalf("unexpected generator config %+v", c.Generator)
	}

	t.Setenv("FERRISVAULT_LANG", "en")
	t.Setenv("FERRISVAULT_GENERATOR_LENGTH", "32")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("dir", "", "")
	flags.Bool("no-numbers", false, "")
	if err := flags.Parse([]string{"--dir", "/tmp/other", "--no-numbers"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	c, err = Load(flags, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Lang != "en" || c.Generator.Length != 32 {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.Dir != "/tmp/other" || c.Generator.Numbers {
		t.Fatalf("flags not applied: %+v", c)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := Load(nil, filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "ferrisvault.yaml")
	want := Config{
		Dir:            "/srv/vault",
		Lang:           "es",
		ClipboardClear: 45 * time.Second,
		Generator:      Generator{Length: 16, Uppercase: true},
	}
	if err := WriteConfigTo(want, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}
