package pathexpand

import (
	"os"
	"testing"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestExpandLeadingTemp(t *testing.T) {
	got, err := Expand("%TEMP%/scratch.tif", lookupFrom(nil))
	if err != nil {
		t.Fatal(err)
	}
	want := os.TempDir() + string(os.PathSeparator) + "scratch.tif"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandBraces(t *testing.T) {
	got, err := Expand("${home}/data/${name}.tif", lookupFrom(map[string]string{
		"home": "/srv", "name": "tile01",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != "/srv/data/tile01.tif" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandUndefinedFails(t *testing.T) {
	_, err := Expand("${missing}", lookupFrom(nil))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestExpandSecureRejectsTokens(t *testing.T) {
	if _, err := ExpandSecure("%TEMP%/x"); err != ErrInsecurePath {
		t.Fatalf("expected ErrInsecurePath, got %v", err)
	}
	if _, err := ExpandSecure("${x}"); err != ErrInsecurePath {
		t.Fatalf("expected ErrInsecurePath, got %v", err)
	}
	got, err := ExpandSecure("/plain/path.tif")
	if err != nil || got != "/plain/path.tif" {
		t.Fatalf("got %q, %v", got, err)
	}
}
