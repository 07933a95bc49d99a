package core

import (
	"fmt"
	"strings"

	"github.com/qalab/browserflow/pkg/flow"
)

// W3C locator strategies.
const (
	UsingCSS             = "css selector"
	UsingLinkText        = "link text"
	UsingPartialLinkText = "partial link text"
	UsingXPath           = "xpath"
)

// Locator is a resolved W3C strategy/value pair.
type Locator struct {
	Using string
	Value string
}

func (l Locator) String() string {
	return l.Using + "=" + l.Value
}

// ResolveSelector maps a flow selector onto a W3C locator. id, name and
// placeholder become CSS; text becomes an XPath over normalized text.
func ResolveSelector(sel flow.Selector) (Locator, error) {
	key, value := sel.Primary()
	switch key {
	case "id":
		return Locator{UsingCSS, "#" + cssEscapeIdent(value)}, nil
	case "css":
		return Locator{UsingCSS, value}, nil
	case "name":
		return Locator{UsingCSS, fmt.Sprintf("[name=%s]", cssQuote(value))}, nil
	case "xpath":
		return Locator{UsingXPath, value}, nil
	case "linkText":
		return Locator{UsingLinkText, value}, nil
	case "partialLinkText":
		return Locator{UsingPartialLinkText, value}, nil
	case "placeholder":
		return Locator{UsingCSS, fmt.Sprintf("[placeholder*=%s i]", cssQuote(value))}, nil
	case "text":
		return Locator{UsingXPath, TextXPath(value)}, nil
	default:
		return Locator{}, ErrMissingRequired.WithMessage("selector is empty")
	}
}

// TextXPath matches the innermost elements whose normalized text contains
// text, plus inputs whose value or placeholder does.
func TextXPath(text string) string {
	q := XPathLiteral(text)
	return fmt.Sprintf(
		"//*[contains(normalize-space(.), %[1]s) and not(*[contains(normalize-space(.), %[1]s)])]"+
			" | //input[contains(@value, %[1]s) or contains(@placeholder, %[1]s)]", q)
}

// XPathLiteral quotes s for XPath 1.0, which has no escape sequences.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}

func cssQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// cssEscapeIdent escapes characters that are not valid in a bare CSS identifier.
func cssEscapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-' || r == '_' || r >= 0x80,
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, `\3%c `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
