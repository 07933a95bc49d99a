package webdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/qalab/browserflow/pkg/core"
	"github.com/qalab/browserflow/pkg/flow"
)

type fakeElement struct {
	id        string
	tag       string
	text      string
	displayed bool
	enabled   bool
	attrs     map[string]string
}

// fakeRemote is a minimal in-memory WebDriver remote end. Elements are
// keyed by the locator value the driver sends.
type fakeRemote struct {
	mu       sync.Mutex
	url      string
	urls     []string // successive CurrentURL answers; the last one sticks
	title    string
	source   string
	elements map[string][]*fakeElement
	active   string
	typed    map[string]string
	clicks   []string
	cleared  []string
	byID     map[string]*fakeElement
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		url:      "http://localhost:5000/login",
		title:    "Login - Demo App",
		source:   "<html><body><h1>Login</h1></body></html>",
		elements: map[string][]*fakeElement{},
		typed:    map[string]string{},
		byID:     map[string]*fakeElement{},
	}
}

func (f *fakeRemote) add(locatorValue string, elems ...*fakeElement) {
	f.elements[locatorValue] = append(f.elements[locatorValue], elems...)
	for _, e := range elems {
		f.byID[e.id] = e
	}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	if path == "/session" && r.Method == http.MethodPost {
		writeJSON(w, map[string]interface{}{
			"value": map[string]interface{}{
				"sessionId": "s1",
				"capabilities": map[string]interface{}{
					"browserName":    "chrome",
					"browserVersion": "131.0",
					"platformName":   "linux",
				},
			},
		})
		return
	}

	rest := strings.TrimPrefix(path, "/session/s1")
	var body map[string]interface{}
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case rest == "" && r.Method == http.MethodDelete:
		writeJSON(w, map[string]interface{}{"value": nil})
	case rest == "/url" && r.Method == http.MethodPost:
		f.url, _ = body["url"].(string)
		f.urls = nil
		writeJSON(w, map[string]interface{}{"value": nil})
	case rest == "/url":
		if len(f.urls) > 0 {
			f.url = f.urls[0]
			f.urls = f.urls[1:]
		}
		writeJSON(w, map[string]interface{}{"value": f.url})
	case rest == "/title":
		writeJSON(w, map[string]interface{}{"value": f.title})
	case rest == "/source":
		writeJSON(w, map[string]interface{}{"value": f.source})
	case rest == "/screenshot":
		writeJSON(w, map[string]interface{}{"value": base64.StdEncoding.EncodeToString([]byte("png"))})
	case rest == "/back", rest == "/refresh", rest == "/window/maximize", rest == "/timeouts":
		writeJSON(w, map[string]interface{}{"value": nil})
	case rest == "/elements" || rest == "/element":
		value, _ := body["value"].(string)
		var list []interface{}
		for _, e := range f.elements[value] {
			list = append(list, map[string]interface{}{w3cElementKey: e.id})
		}
		if rest == "/elements" {
			if list == nil {
				list = []interface{}{}
			}
			writeJSON(w, map[string]interface{}{"value": list})
			return
		}
		if len(list) == 0 {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"error": "no such element", "message": value}})
			return
		}
		writeJSON(w, map[string]interface{}{"value": list[0]})
	case rest == "/element/active":
		if f.active == "" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"error": "no such element", "message": "no focus"}})
			return
		}
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{w3cElementKey: f.active}})
	case strings.HasPrefix(rest, "/element/"):
		f.serveElement(w, r, strings.Split(strings.TrimPrefix(rest, "/element/"), "/"), body)
	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"error": "unknown command", "message": path}})
	}
}

func (f *fakeRemote) serveElement(w http.ResponseWriter, r *http.Request, parts []string, body map[string]interface{}) {
	e, ok := f.byID[parts[0]]
	if !ok || len(parts) < 2 {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"error": "stale element reference", "message": parts[0]}})
		return
	}

	var value interface{}
	switch parts[1] {
	case "click":
		f.clicks = append(f.clicks, e.id)
		f.active = e.id
	case "clear":
		f.cleared = append(f.cleared, e.id)
		f.typed[e.id] = ""
	case "value":
		text, _ := body["text"].(string)
		f.typed[e.id] += text
	case "text":
		value = e.text
	case "name":
		value = e.tag
	case "displayed":
		value = e.displayed
	case "enabled":
		value = e.enabled
	case "attribute", "property":
		if v, ok := e.attrs[parts[2]]; ok {
			value = v
		}
	}
	writeJSON(w, map[string]interface{}{"value": value})
}

func newTestDriver(t *testing.T, remote *fakeRemote) *Driver {
	t.Helper()
	server := httptest.NewServer(remote)
	t.Cleanup(server.Close)

	d, err := NewDriver(context.Background(), server.URL, BrowserOptions{Browser: "chrome", Headless: true})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	d.SetFindTimeout(300)
	return d
}

func button(id, text string) *fakeElement {
	return &fakeElement{id: id, tag: "button", text: text, displayed: true, enabled: true}
}

func TestDriver_BrowserInfo(t *testing.T) {
	d := newTestDriver(t, newFakeRemote())

	info := d.BrowserInfo()
	if info.Browser != "chrome" || info.Driver != "webdriver" || info.SessionID != "s1" {
		t.Errorf("unexpected info: %+v", info)
	}
	if !info.Headless || info.BrowserVersion != "131.0" {
		t.Errorf("unexpected info: %+v", info)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDriver_TapOnByID(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#login-btn", button("e1", "Login"))
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.TapOnStep{Selector: flow.Selector{ID: "login-btn"}})
	if !result.Success {
		t.Fatalf("tapOn failed: %s", result.Message)
	}
	if len(remote.clicks) != 1 || remote.clicks[0] != "e1" {
		t.Errorf("clicks = %v", remote.clicks)
	}
	if result.Element == nil || result.Element.Text != "Login" {
		t.Errorf("element = %+v", result.Element)
	}
	if result.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestDriver_TapOnNotFound(t *testing.T) {
	d := newTestDriver(t, newFakeRemote())

	result := d.Execute(&flow.TapOnStep{Selector: flow.Selector{ID: "missing"}})
	if result.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(result.Error, core.ErrElementNotFound) {
		t.Errorf("error = %v, want element_not_found", result.Error)
	}
}

func TestDriver_TapOnPrefersDisplayed(t *testing.T) {
	remote := newFakeRemote()
	hidden := button("hidden", "Sign up")
	hidden.displayed = false
	remote.add(core.TextXPath("Sign up"), hidden, button("shown", "Sign up"))
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.TapOnStep{Selector: flow.Selector{Text: "Sign up"}})
	if !result.Success {
		t.Fatalf("tapOn failed: %s", result.Message)
	}
	if remote.clicks[0] != "shown" {
		t.Errorf("clicked %s, want shown", remote.clicks[0])
	}
}

func TestDriver_TapOnIndex(t *testing.T) {
	remote := newFakeRemote()
	remote.add(`[placeholder*="Name" i]`, button("first", ""), button("second", ""))
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.TapOnStep{Selector: flow.Selector{Placeholder: "Name", Index: "1"}})
	if !result.Success {
		t.Fatalf("tapOn failed: %s", result.Message)
	}
	if remote.clicks[0] != "second" {
		t.Errorf("clicked %s, want second", remote.clicks[0])
	}
}

func TestDriver_InputTextIntoSelector(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#email", &fakeElement{id: "in1", tag: "input", displayed: true, enabled: true})
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.InputTextStep{Text: "test@example.com", Selector: flow.Selector{ID: "email"}})
	if !result.Success {
		t.Fatalf("inputText failed: %s", result.Message)
	}
	if remote.typed["in1"] != "test@example.com" {
		t.Errorf("typed = %q", remote.typed["in1"])
	}
}

func TestDriver_InputTextIntoFocused(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#q", &fakeElement{id: "q", tag: "input", displayed: true, enabled: true})
	remote.active = "q"
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.InputTextStep{Text: "upwork"})
	if !result.Success {
		t.Fatalf("inputText failed: %s", result.Message)
	}
	if remote.typed["q"] != "upwork" {
		t.Errorf("typed = %q", remote.typed["q"])
	}
}

func TestDriver_InputRandomEmail(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#email", &fakeElement{id: "in1", tag: "input", displayed: true, enabled: true})
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.InputRandomEmailStep{Prefix: "newuser", Domain: "test.com", Selector: flow.Selector{ID: "email"}})
	if !result.Success {
		t.Fatalf("inputRandomEmail failed: %s", result.Message)
	}
	email, _ := result.Data.(string)
	if !strings.HasPrefix(email, "newuser") || !strings.HasSuffix(email, "@test.com") {
		t.Errorf("email = %q", email)
	}
	if remote.typed["in1"] != email {
		t.Errorf("typed %q, returned %q", remote.typed["in1"], email)
	}
}

func TestDriver_PressKey(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#q", &fakeElement{id: "q", tag: "input", displayed: true, enabled: true})
	remote.active = "q"
	d := newTestDriver(t, remote)

	if result := d.Execute(&flow.PressKeyStep{Key: "Enter"}); !result.Success {
		t.Fatalf("pressKey failed: %s", result.Message)
	}
	if remote.typed["q"] != keyCodes["enter"] {
		t.Errorf("typed %q, want enter key code", remote.typed["q"])
	}

	if result := d.Execute(&flow.PressKeyStep{Key: "F13"}); result.Success {
		t.Error("unknown key should fail")
	}
}

func TestDriver_EraseText(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#email", &fakeElement{id: "in1", tag: "input", displayed: true, enabled: true})
	d := newTestDriver(t, remote)

	if result := d.Execute(&flow.EraseTextStep{Selector: flow.Selector{ID: "email"}}); !result.Success {
		t.Fatalf("eraseText failed: %s", result.Message)
	}
	if len(remote.cleared) != 1 {
		t.Errorf("cleared = %v", remote.cleared)
	}
}

func TestDriver_CopyTextFrom(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#welcome", &fakeElement{id: "h", tag: "h1", text: "Welcome, Test!", displayed: true, enabled: true})
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.CopyTextFromStep{Selector: flow.Selector{ID: "welcome"}})
	if !result.Success {
		t.Fatalf("copyTextFrom failed: %s", result.Message)
	}
	if result.Data != "Welcome, Test!" {
		t.Errorf("Data = %v", result.Data)
	}
}

func TestDriver_AssertVisibleByText(t *testing.T) {
	remote := newFakeRemote()
	remote.add(core.TextXPath("Welcome"), &fakeElement{id: "h", tag: "h1", text: "Welcome, Test!", displayed: true, enabled: true})
	d := newTestDriver(t, remote)

	if result := d.Execute(&flow.AssertVisibleStep{Selector: flow.Selector{Text: "Welcome"}}); !result.Success {
		t.Fatalf("assertVisible failed: %s", result.Message)
	}
}

func TestDriver_AssertVisibleHidden(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#flash", &fakeElement{id: "f", tag: "div", displayed: false, enabled: true})
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.AssertVisibleStep{Selector: flow.Selector{ID: "flash"}})
	if result.Success {
		t.Fatal("expected failure for hidden element")
	}
	if !errors.Is(result.Error, core.ErrElementNotVisible) {
		t.Errorf("error = %v", result.Error)
	}
}

func TestDriver_AssertNotVisible(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#shown", button("s", "x"))
	d := newTestDriver(t, remote)

	if result := d.Execute(&flow.AssertNotVisibleStep{Selector: flow.Selector{ID: "absent"}}); !result.Success {
		t.Errorf("absent element: %s", result.Message)
	}

	result := d.Execute(&flow.AssertNotVisibleStep{Selector: flow.Selector{ID: "shown"}})
	if result.Success {
		t.Fatal("expected failure for visible element")
	}
	if !errors.Is(result.Error, core.ErrElementStillVisible) {
		t.Errorf("error = %v", result.Error)
	}
}

func TestDriver_AssertEnabled(t *testing.T) {
	remote := newFakeRemote()
	disabled := button("d", "Submit")
	disabled.enabled = false
	remote.add("#submit", disabled)
	d := newTestDriver(t, remote)

	result := d.Execute(&flow.AssertEnabledStep{Selector: flow.Selector{ID: "submit"}})
	if result.Success || !errors.Is(result.Error, core.ErrElementDisabled) {
		t.Errorf("expected element_disabled, got %+v", result)
	}
}

func TestDriver_AssertAttribute(t *testing.T) {
	remote := newFakeRemote()
	remote.add("#password", &fakeElement{id: "p", tag: "input", displayed: true, enabled: true, attrs: map[string]string{"type": "password"}})
	d := newTestDriver(t, remote)

	want := "password"
	if result := d.Execute(&flow.AssertAttributeStep{Attribute: "type", Equals: &want, Selector: flow.Selector{ID: "password"}}); !result.Success {
		t.Fatalf("assertAttribute failed: %s", result.Message)
	}

	wrong := "text"
	result := d.Execute(&flow.AssertAttributeStep{Attribute: "type", Equals: &wrong, Selector: flow.Selector{ID: "password"}})
	if result.Success || !errors.Is(result.Error, core.ErrTextMismatch) {
		t.Errorf("expected text_mismatch, got %+v", result)
	}
}

func TestDriver_AssertPageContains(t *testing.T) {
	remote := newFakeRemote()
	d := newTestDriver(t, remote)

	if result := d.Execute(&flow.AssertPageContainsStep{Text: "<h1>Login</h1>"}); !result.Success {
		t.Errorf("assertPageContains failed: %s", result.Message)
	}
	if result := d.Execute(&flow.AssertPageContainsStep{Text: "Dashboard"}); result.Success {
		t.Error("expected failure")
	}
}

func TestDriver_AssertTitleAndURL(t *testing.T) {
	d := newTestDriver(t, newFakeRemote())

	if result := d.Execute(&flow.AssertTitleStep{Match: flow.TextMatch{Equals: "Login - Demo App"}}); !result.Success {
		t.Errorf("assertTitle failed: %s", result.Message)
	}
	if result := d.Execute(&flow.AssertURLStep{Match: flow.TextMatch{Contains: "/login"}}); !result.Success {
		t.Errorf("assertUrl failed: %s", result.Message)
	}

	result := d.Execute(&flow.AssertURLStep{Match: flow.TextMatch{Contains: "/dashboard"}})
	if result.Success {
		t.Fatal("expected failure")
	}
	ee, ok := result.Error.(*core.ExecutionError)
	if !ok || ee.Details["actual"] != "http://localhost:5000/login" {
		t.Errorf("expected actual URL in details, got %#v", result.Error)
	}
}

func TestDriver_WaitForURLChange(t *testing.T) {
	remote := newFakeRemote()
	d := newTestDriver(t, remote)
	d.SetFindTimeout(2000)

	d.Execute(&flow.OpenLinkStep{Link: "https://search.brave.com/"})
	remote.urls = []string{"https://search.brave.com/", "https://search.brave.com/search?q=upwork"}

	result := d.Execute(&flow.WaitForURLStep{Match: flow.TextMatch{NotEquals: "https://search.brave.com/"}})
	if !result.Success {
		t.Fatalf("waitForUrl failed: %s", result.Message)
	}
	if result.Data != "https://search.brave.com/search?q=upwork" {
		t.Errorf("Data = %v", result.Data)
	}
}

func TestDriver_Navigation(t *testing.T) {
	remote := newFakeRemote()
	d := newTestDriver(t, remote)

	steps := []flow.Step{
		&flow.OpenLinkStep{Link: "http://localhost:5000/signup"},
		&flow.BackStep{},
		&flow.RefreshStep{},
		&flow.MaximizeWindowStep{},
	}
	for _, s := range steps {
		if result := d.Execute(s); !result.Success {
			t.Errorf("%T failed: %s", s, result.Message)
		}
	}

	url, err := d.CurrentURL()
	if err != nil || url != "http://localhost:5000/signup" {
		t.Errorf("CurrentURL = %q, %v", url, err)
	}
}

func TestDriver_UnsupportedStep(t *testing.T) {
	d := newTestDriver(t, newFakeRemote())

	result := d.Execute(&flow.WaitStep{BaseStep: flow.BaseStep{StepType: flow.StepWait}, Ms: 10})
	if result.Success || !errors.Is(result.Error, core.ErrUnsupportedStep) {
		t.Errorf("expected unsupported_step, got %+v", result)
	}
}

func TestDriver_ScreenshotAndSource(t *testing.T) {
	d := newTestDriver(t, newFakeRemote())

	png, err := d.Screenshot()
	if err != nil || string(png) != "png" {
		t.Errorf("Screenshot = %q, %v", png, err)
	}
	src, err := d.PageSource()
	if err != nil || !strings.Contains(src, "Login") {
		t.Errorf("PageSource = %q, %v", src, err)
	}
}
