// Package jsruntime provides a small sandboxed JavaScript runtime used
// to execute page-side scripts headlessly, with console capture and a
// hard execution timeout.
package jsruntime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a script runs past its allowed time.
var ErrTimeout = errors.New("script execution timed out")

// ConsoleEntry is one captured console call.
type ConsoleEntry struct {
	Level   string
	Message string
}

// Runtime wraps a goja VM with console capture and an interrupt timer.
// It is not safe for concurrent use; create one per execution.
type Runtime struct {
	vm      *goja.Runtime
	timeout time.Duration
	console []ConsoleEntry
}

// New creates a runtime with the given execution timeout.
func New(timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Runtime{
		vm:      goja.New(),
		timeout: timeout,
	}
	r.installConsole()
	return r
}

// VM exposes the underlying goja runtime for installing host stubs.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Set binds a host value into the global scope.
func (r *Runtime) Set(name string, value interface{}) error {
	return r.vm.Set(name, value)
}

// Run executes src and returns its completion value.
func (r *Runtime) Run(name, src string) (goja.Value, error) {
	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	timer := time.AfterFunc(r.timeout, func() {
		r.vm.Interrupt(ErrTimeout)
	})
	defer timer.Stop()

	value, err := r.vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return value, nil
}

// Console returns the captured console output in call order.
func (r *Runtime) Console() []ConsoleEntry {
	return r.console
}

func (r *Runtime) installConsole() {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			r.console = append(r.console, ConsoleEntry{
				Level:   level,
				Message: strings.Join(parts, " "),
			})
			return goja.Undefined()
		})
	}
	r.vm.Set("console", console)
}
