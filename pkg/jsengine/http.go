package jsengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const defaultHTTPTimeout = 30 * time.Second

// httpModule builds the http global. Scripts use it to seed test data
// through the application's API before driving the UI:
//
//	var res = http.post(url, {body: {email: "a@b.c"}, headers: {...}, timeout: 5000})
//	if (!res.ok) throw new Error(res.body)
func (e *Engine) httpModule() *goja.Object {
	obj := e.vm.NewObject()
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		method := method
		obj.Set(strings.ToLower(method), func(call goja.FunctionCall) goja.Value {
			return e.request(method, call.Arguments)
		})
	}
	obj.Set("request", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.vm.NewTypeError("http.request requires method and url"))
		}
		return e.request(strings.ToUpper(call.Arguments[0].String()), call.Arguments[1:])
	})
	return obj
}

type requestOptions struct {
	body    io.Reader
	headers map[string]string
	timeout time.Duration
}

func (e *Engine) requestOptions(arg goja.Value) requestOptions {
	opts := requestOptions{headers: map[string]string{}, timeout: defaultHTTPTimeout}
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return opts
	}
	m, ok := arg.Export().(map[string]interface{})
	if !ok {
		return opts
	}

	if h, ok := m["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			opts.headers[k] = fmt.Sprint(v)
		}
	}
	switch b := m["body"].(type) {
	case nil:
	case string:
		opts.body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			panic(e.vm.NewTypeError(fmt.Sprintf("encode request body: %v", err)))
		}
		opts.body = bytes.NewReader(data)
		if _, set := opts.headers["Content-Type"]; !set {
			opts.headers["Content-Type"] = "application/json"
		}
	}
	switch t := m["timeout"].(type) {
	case int64:
		opts.timeout = time.Duration(t) * time.Millisecond
	case float64:
		opts.timeout = time.Duration(t * float64(time.Millisecond))
	}
	return opts
}

// request performs the call synchronously. Transport failures throw in
// the script; HTTP error statuses are returned with ok=false.
func (e *Engine) request(method string, args []goja.Value) goja.Value {
	if len(args) < 1 {
		panic(e.vm.NewTypeError(fmt.Sprintf("http.%s requires url", strings.ToLower(method))))
	}
	url := args[0].String()
	var optArg goja.Value
	if len(args) > 1 {
		optArg = args[1]
	}
	opts := e.requestOptions(optArg)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, opts.body)
	if err != nil {
		panic(e.vm.NewTypeError(fmt.Sprintf("build request: %v", err)))
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		panic(e.vm.NewGoError(fmt.Errorf("%s %s: %w", method, url, err)))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(e.vm.NewGoError(fmt.Errorf("read response: %w", err)))
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	res := e.vm.NewObject()
	res.Set("status", resp.StatusCode)
	res.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
	res.Set("body", string(data))
	res.Set("headers", headers)

	var parsed interface{}
	if json.Unmarshal(data, &parsed) == nil {
		res.Set("json", parsed)
	} else {
		res.Set("json", goja.Null())
	}
	return res
}
