package manifest

import "testing"

func TestNormalizeImageURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/toolkit/blob/main/icon.png":        "https://raw.githubusercontent.com/acme/toolkit/main/icon.png",
		"http://github.com/acme/toolkit/blob/dev/assets/a/b.svg":    "https://raw.githubusercontent.com/acme/toolkit/dev/assets/a/b.svg",
		"https://raw.githubusercontent.com/acme/toolkit/main/x.png": "https://raw.githubusercontent.com/acme/toolkit/main/x.png",
		"https://example.com/icon.png":                              "https://example.com/icon.png",
		"https://github.com/acme/toolkit/tree/main/icon.png":        "https://github.com/acme/toolkit/tree/main/icon.png",
		"": "",
	}
	for in, want := range cases {
		if got := NormalizeImageURL(in); got != want {
			t.Fatalf("%q: expected %q got %q", in, want, got)
		}
	}
}

func TestResolveImage(t *testing.T) {
	if got := ResolveImage("https://github.com/a/b/blob/main/m.png", "https://example.com/s.png"); got != "https://raw.githubusercontent.com/a/b/main/m.png" {
		t.Fatalf("expected manifest image preferred, got %q", got)
	}
	if got := ResolveImage("", "https://github.com/a/b/blob/main/s.png"); got != "https://raw.githubusercontent.com/a/b/main/s.png" {
		t.Fatalf("expected submitted image normalized, got %q", got)
	}
	if got := ResolveImage(" ", ""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestPackageURL(t *testing.T) {
	if got := PackageURL(Repo{Owner: "acme", Name: "toolkit"}, "0.0.1"); got != "pkg:github/acme/toolkit@0.0.1" {
		t.Fatalf("unexpected purl %q", got)
	}
}
