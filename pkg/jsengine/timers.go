package jsengine

import (
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/qalab/browserflow/pkg/logger"
)

// timers tracks setTimeout and setInterval handles so Close can stop them.
type timers struct {
	mu      sync.Mutex
	nextID  int
	cancels map[int]func()
	done    chan struct{}
	once    sync.Once
}

func newTimers() *timers {
	return &timers{nextID: 1, cancels: make(map[int]func()), done: make(chan struct{})}
}

func (t *timers) add(cancel func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.cancels[id] = cancel
	return id
}

func (t *timers) remove(id int) {
	t.mu.Lock()
	cancel, ok := t.cancels[id]
	delete(t.cancels, id)
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// forget drops a handle whose timer already fired.
func (t *timers) forget(id int) {
	t.mu.Lock()
	delete(t.cancels, id)
	t.mu.Unlock()
}

func (t *timers) stopAll() {
	t.once.Do(func() {
		t.mu.Lock()
		for id, cancel := range t.cancels {
			cancel()
			delete(t.cancels, id)
		}
		t.mu.Unlock()
		close(t.done)
	})
}

// installTimers registers setTimeout, setInterval and their clear functions.
// Callbacks run on timer goroutines and take the engine lock first.
func (e *Engine) installTimers() {
	callback := func(name string, call goja.FunctionCall) (goja.Callable, time.Duration) {
		if len(call.Arguments) < 2 {
			panic(e.vm.NewTypeError(name + " requires 2 arguments"))
		}
		fn, ok := goja.AssertFunction(call.Arguments[0])
		if !ok {
			panic(e.vm.NewTypeError(name + ": first argument must be a function"))
		}
		return fn, time.Duration(call.Arguments[1].ToInteger()) * time.Millisecond
	}

	invoke := func(name string, fn goja.Callable) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, err := fn(goja.Undefined()); err != nil {
			logger.Warn("%s callback: %v", name, err)
		}
	}

	schedule := func(name string, call goja.FunctionCall, repeat bool) goja.Value {
		fn, d := callback(name, call)
		d = max(d, time.Millisecond)
		stop := make(chan struct{})
		var once sync.Once
		id := e.timers.add(func() { once.Do(func() { close(stop) }) })

		go func() {
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-e.timers.done:
					return
				case <-ticker.C:
					if !repeat {
						e.timers.forget(id)
					}
					invoke(name, fn)
					if !repeat {
						return
					}
				}
			}
		}()
		return e.vm.ToValue(id)
	}

	e.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return schedule("setTimeout", call, false)
	})
	e.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return schedule("setInterval", call, true)
	})

	clearTimer := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			e.timers.remove(int(call.Arguments[0].ToInteger()))
		}
		return goja.Undefined()
	}
	e.vm.Set("clearTimeout", clearTimer)
	e.vm.Set("clearInterval", clearTimer)
}
