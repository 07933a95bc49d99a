// Package webdriver implements core.Driver over the W3C WebDriver protocol
// (chromedriver, geckodriver, msedgedriver, Selenium Grid).
package webdriver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// W3C key codes used by pressKey.
var keyCodes = map[string]string{
	"enter":     "\ue007",
	"return":    "\ue006",
	"tab":       "\ue004",
	"escape":    "\ue00c",
	"backspace": "\ue003",
	"delete":    "\ue017",
	"space":     "\ue00d",
	"arrowup":   "\ue013",
	"arrowdown": "\ue015",
}

// RemoteError is an error reported by the remote end.
type RemoteError struct {
	Status  int    // HTTP status
	Code    string // W3C error code, e.g. "no such element"
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNoSuchElement reports whether err means the element lookup found nothing.
func IsNoSuchElement(err error) bool {
	return hasCode(err, "no such element")
}

// IsStaleElement reports whether err means the element left the DOM.
func IsStaleElement(err error) bool {
	return hasCode(err, "stale element reference")
}

// IsInvalidSession reports whether the session is gone.
func IsInvalidSession(err error) bool {
	return hasCode(err, "invalid session id")
}

func hasCode(err error, code string) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

// SessionInfo is what the remote end returned for a new session.
type SessionInfo struct {
	ID             string
	BrowserName    string
	BrowserVersion string
	PlatformName   string
}

// Client handles HTTP communication with a WebDriver remote end.
type Client struct {
	serverURL string
	sessionID string
	client    *http.Client
}

// NewClient creates a new WebDriver client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute, // Page loads and screenshots can be slow
		},
	}
}

// SessionID returns the current session id, empty when not connected.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Ready polls GET /status once.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.requestContext(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false, err
	}
	value, _ := resp["value"].(map[string]interface{})
	ready, _ := value["ready"].(bool)
	return ready, nil
}

// NewSession creates a new session with the given capabilities.
func (c *Client) NewSession(ctx context.Context, capabilities map[string]interface{}) (*SessionInfo, error) {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	resp, err := c.requestContext(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid session response")
	}

	info := &SessionInfo{}
	info.ID, _ = value["sessionId"].(string)
	if info.ID == "" {
		return nil, fmt.Errorf("no session ID in response")
	}
	if caps, ok := value["capabilities"].(map[string]interface{}); ok {
		info.BrowserName, _ = caps["browserName"].(string)
		info.BrowserVersion, _ = caps["browserVersion"].(string)
		info.PlatformName, _ = caps["platformName"].(string)
	}

	c.sessionID = info.ID
	return info, nil
}

// DeleteSession closes the session.
func (c *Client) DeleteSession() error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.delete(c.sessionPath())
	c.sessionID = ""
	return err
}

// Navigate loads url in the current top-level browsing context.
func (c *Client) Navigate(url string) error {
	_, err := c.post(c.sessionPath()+"/url", map[string]interface{}{"url": url})
	return err
}

// CurrentURL returns the current page address.
func (c *Client) CurrentURL() (string, error) {
	return c.getString(c.sessionPath() + "/url")
}

// Title returns the document title.
func (c *Client) Title() (string, error) {
	return c.getString(c.sessionPath() + "/title")
}

// Source returns the serialized DOM.
func (c *Client) Source() (string, error) {
	return c.getString(c.sessionPath() + "/source")
}

// Back navigates back in history.
func (c *Client) Back() error {
	_, err := c.post(c.sessionPath()+"/back", map[string]interface{}{})
	return err
}

// Refresh reloads the page.
func (c *Client) Refresh() error {
	_, err := c.post(c.sessionPath()+"/refresh", map[string]interface{}{})
	return err
}

// MaximizeWindow maximizes the current window.
func (c *Client) MaximizeWindow() error {
	_, err := c.post(c.sessionPath()+"/window/maximize", map[string]interface{}{})
	return err
}

// SetTimeouts configures implicit, page load and script timeouts. Zero
// values are left unchanged.
func (c *Client) SetTimeouts(implicit, pageLoad, script time.Duration) error {
	body := map[string]interface{}{}
	if implicit > 0 {
		body["implicit"] = implicit.Milliseconds()
	}
	if pageLoad > 0 {
		body["pageLoad"] = pageLoad.Milliseconds()
	}
	if script > 0 {
		body["script"] = script.Milliseconds()
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.post(c.sessionPath()+"/timeouts", body)
	return err
}

// FindElement finds a single element and returns its reference.
func (c *Client) FindElement(using, value string) (string, error) {
	resp, err := c.post(c.sessionPath()+"/element", map[string]interface{}{
		"using": using,
		"value": value,
	})
	if err != nil {
		return "", err
	}

	elem, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid element response")
	}
	id := extractElementID(elem)
	if id == "" {
		return "", fmt.Errorf("no element reference in response")
	}
	return id, nil
}

// FindElements finds all matching elements.
func (c *Client) FindElements(using, value string) ([]string, error) {
	resp, err := c.post(c.sessionPath()+"/elements", map[string]interface{}{
		"using": using,
		"value": value,
	})
	if err != nil {
		return nil, err
	}

	list, ok := resp["value"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid elements response")
	}

	ids := make([]string, 0, len(list))
	for _, item := range list {
		if elem, ok := item.(map[string]interface{}); ok {
			if id := extractElementID(elem); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ActiveElement returns the focused element.
func (c *Client) ActiveElement() (string, error) {
	resp, err := c.get(c.sessionPath() + "/element/active")
	if err != nil {
		return "", err
	}
	elem, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("no active element")
	}
	return extractElementID(elem), nil
}

// Click clicks an element.
func (c *Client) Click(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// Clear clears a form control.
func (c *Client) Clear(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SendKeys types text into an element.
func (c *Client) SendKeys(elementID, text string) error {
	_, err := c.post(c.elementPath(elementID)+"/value", map[string]interface{}{
		"text": text,
	})
	return err
}

// Text returns the rendered text of an element.
func (c *Client) Text(elementID string) (string, error) {
	return c.getString(c.elementPath(elementID) + "/text")
}

// TagName returns the element's tag name.
func (c *Client) TagName(elementID string) (string, error) {
	return c.getString(c.elementPath(elementID) + "/name")
}

// Attribute returns an attribute value; a missing attribute yields "".
func (c *Client) Attribute(elementID, name string) (string, error) {
	return c.getString(c.elementPath(elementID) + "/attribute/" + name)
}

// Property returns a DOM property rendered as a string.
func (c *Client) Property(elementID, name string) (string, error) {
	resp, err := c.get(c.elementPath(elementID) + "/property/" + name)
	if err != nil {
		return "", err
	}
	switch v := resp["value"].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// IsDisplayed reports element visibility.
func (c *Client) IsDisplayed(elementID string) (bool, error) {
	return c.getBool(c.elementPath(elementID) + "/displayed")
}

// IsEnabled reports whether a form control is enabled.
func (c *Client) IsEnabled(elementID string) (bool, error) {
	return c.getBool(c.elementPath(elementID) + "/enabled")
}

// Screenshot captures the viewport as PNG.
func (c *Client) Screenshot() ([]byte, error) {
	encoded, err := c.getString(c.sessionPath() + "/screenshot")
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// ExecuteScript runs synchronous JavaScript in the page.
func (c *Client) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	resp, err := c.post(c.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) getString(path string) (string, error) {
	resp, err := c.get(path)
	if err != nil {
		return "", err
	}
	s, _ := resp["value"].(string)
	return s, nil
}

func (c *Client) getBool(path string) (bool, error) {
	resp, err := c.get(path)
	if err != nil {
		return false, err
	}
	b, _ := resp["value"].(bool)
	return b, nil
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	return c.requestContext(context.Background(), http.MethodGet, path, nil)
}

func (c *Client) post(path string, body interface{}) (map[string]interface{}, error) {
	return c.requestContext(context.Background(), http.MethodPost, path, body)
}

func (c *Client) delete(path string) (map[string]interface{}, error) {
	return c.requestContext(context.Background(), http.MethodDelete, path, nil)
}

func (c *Client) requestContext(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}

	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if code, ok := errValue["error"].(string); ok && code != "" {
			msg, _ := errValue["message"].(string)
			return result, &RemoteError{Status: resp.StatusCode, Code: code, Message: msg}
		}
	}
	if resp.StatusCode >= 400 {
		return result, &RemoteError{Status: resp.StatusCode, Code: "unknown error", Message: http.StatusText(resp.StatusCode)}
	}

	return result, nil
}

func extractElementID(value map[string]interface{}) string {
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy JSON wire protocol
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
