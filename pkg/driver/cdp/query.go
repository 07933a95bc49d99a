package cdp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
)

// query is a DOM search expression understood by DOM.performSearch,
// which accepts both CSS selectors and XPath.
type query struct {
	expr  string
	xpath bool
}

// buildQuery maps a selector to a search expression. Everything but css
// becomes XPath so index and enabled filters can be applied uniformly.
func buildQuery(sel flow.Selector) (query, error) {
	key, value := sel.Primary()
	if key == "" {
		return query{}, core.ErrMissingRequired.WithMessage("selector is empty")
	}

	if key == "css" {
		expr := value
		if sel.Enabled != nil {
			if *sel.Enabled {
				expr += ":enabled"
			} else {
				expr += ":disabled"
			}
		}
		if sel.Index != "" {
			return query{}, core.ErrUnsupportedStep.WithMessage("index cannot be combined with css in the cdp driver; use xpath")
		}
		return query{expr: expr}, nil
	}

	lit := core.XPathLiteral(value)
	var xp string
	switch key {
	case "id":
		xp = fmt.Sprintf("//*[@id=%s]", lit)
	case "name":
		xp = fmt.Sprintf("//*[@name=%s]", lit)
	case "xpath":
		xp = value
	case "linkText":
		xp = fmt.Sprintf("//a[normalize-space(.)=%s]", lit)
	case "partialLinkText":
		xp = fmt.Sprintf("//a[contains(normalize-space(.), %s)]", lit)
	case "placeholder":
		xp = fmt.Sprintf("//*[contains(@placeholder, %s)]", lit)
	default:
		xp = core.TextXPath(value)
	}

	if sel.Enabled != nil {
		if *sel.Enabled {
			xp = "(" + xp + ")[not(@disabled)]"
		} else {
			xp = "(" + xp + ")[@disabled]"
		}
	}
	if sel.Index != "" {
		idx, err := strconv.Atoi(sel.Index)
		if err != nil || idx < 0 {
			return query{}, core.ErrInvalidConfig.WithMessagef("invalid index %q", sel.Index)
		}
		xp = fmt.Sprintf("(%s)[%d]", xp, idx+1)
	}
	return query{expr: xp, xpath: true}, nil
}

// visibleCountJS counts matches with a layout box.
func (q query) visibleCountJS() string {
	expr, _ := json.Marshal(q.expr)
	return fmt.Sprintf(`(function(expr, isXPath) {
	let nodes = [];
	if (isXPath) {
		const r = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) nodes.push(r.snapshotItem(i));
	} else {
		nodes = Array.from(document.querySelectorAll(expr));
	}
	return nodes.filter(n => n.getClientRects && n.getClientRects().length > 0).length;
})(%s, %t)`, expr, q.xpath)
}
