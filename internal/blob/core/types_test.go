package core

import (
	"errors"
	"testing"
)

func TestCleanKey(t *testing.T) {
	good := map[string]string{
		"versions/1/a.json":  "versions/1/a.json",
		"versions//2/b.json": "versions/2/b.json",
		`versions\3\c.json`:  "versions/3/c.json",
	}
	for in, want := range good {
		got, err := CleanKey(in)
		if err != nil || got != want {
			t.Fatalf("CleanKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "  ", "/abs", "../escape", "a/../../b", "."} {
		if _, err := CleanKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("CleanKey(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestCloneMetadata(t *testing.T) {
	if CloneMetadata(nil) != nil {
		t.Fatalf("nil metadata should stay nil")
	}
	in := map[string]string{"version": "1"}
	out := CloneMetadata(in)
	out["version"] = "2"
	if in["version"] != "1" {
		t.Fatalf("clone shares storage with input")
	}
}
