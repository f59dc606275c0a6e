package vault

import (
	"strings"
	"testing"
)

func TestGenerateCharset(t *testing.T) {
	tests := []struct {
		name string
		opts GeneratorOptions
		deny string
	}{
		{"lower only", GeneratorOptions{Length: 64}, upperChars + numberChars + symbolChars},
		{"no symbols", GeneratorOptions{Length: 64, Uppercase: true, Numbers: true}, symbolChars},
		{"all", DefaultGeneratorOptions(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pw, err := Generate(tt.opts)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if len(pw) != ClampLength(tt.opts.Length) {
				t.Fatalf("unexpected length %d", len(pw))
			}
			cs := tt.opts.Charset()
			for _, r := range pw {
				if !strings.ContainsRune(cs, r) {
					t.Fatalf("character %q outside charset", r)
				}
				if tt.deny != "" && strings.ContainsRune(tt.deny, r) {
					t.Fatalf("character %q should not appear", r)
				}
			}
		})
	}
}

func TestClampLength(t *testing.T) {
	for in, want := range map[int]int{0: 4, 3: 4, 4: 4, 12: 12, 64: 64, 200: 64} {
		if got := ClampLength(in); got != want {
			t.Fatalf("ClampLength(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestGenerateVaries(t *testing.T) {
	a, _ := Generate(DefaultGeneratorOptions())
	b, _ := Generate(DefaultGeneratorOptions())
	if a == b {
		t.Fatal("two generated passwords were identical")
	}
}
