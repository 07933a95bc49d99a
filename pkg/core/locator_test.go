package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/qalab/browserflow/pkg/flow"
)

func TestResolveSelector(t *testing.T) {
	tests := []struct {
		name string
		sel  flow.Selector
		want Locator
	}{
		{"id", flow.Selector{ID: "login-btn"}, Locator{UsingCSS, "#login-btn"}},
		{"id with digit first", flow.Selector{ID: "1st"}, Locator{UsingCSS, `#\31 st`}},
		{"css", flow.Selector{CSS: "button[type='submit']"}, Locator{UsingCSS, "button[type='submit']"}},
		{"name", flow.Selector{Name: "login"}, Locator{UsingCSS, `[name="login"]`}},
		{"link text", flow.Selector{LinkText: "Sign up"}, Locator{UsingLinkText, "Sign up"}},
		{"partial link", flow.Selector{PartialLinkText: "Forgotten"}, Locator{UsingPartialLinkText, "Forgotten"}},
		{"placeholder", flow.Selector{Placeholder: "First name"}, Locator{UsingCSS, `[placeholder*="First name" i]`}},
		{"id beats text", flow.Selector{ID: "email", Text: "Email"}, Locator{UsingCSS, "#email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSelector(tt.sel)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveSelector() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveSelector_Text(t *testing.T) {
	got, err := ResolveSelector(flow.Selector{Text: "Welcome"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Using != UsingXPath {
		t.Errorf("Using = %q, want xpath", got.Using)
	}
	if !strings.Contains(got.Value, "'Welcome'") {
		t.Errorf("xpath %q does not quote the text", got.Value)
	}
}

func TestResolveSelector_Empty(t *testing.T) {
	_, err := ResolveSelector(flow.Selector{})
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("expected ErrMissingRequired, got %v", err)
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		`plain`:        `'plain'`,
		`it's`:         `"it's"`,
		`say "it's" x`: `concat('say "it', "'", 's" x')`,
	}
	for in, want := range tests {
		if got := XPathLiteral(in); got != want {
			t.Errorf("XPathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
