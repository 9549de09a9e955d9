package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/instrument"
)

type suite struct {
	name       string
	parent     *suite
	beforeEach []goja.Callable
	afterEach  []goja.Callable
}

func (s *suite) path() []*suite {
	var out []*suite
	for cur := s; cur != nil; cur = cur.parent {
		out = append([]*suite{cur}, out...)
	}
	return out
}

type spec struct {
	suite   *suite
	name    string
	fn      goja.Callable
	skipped bool
}

func (s *spec) description() string {
	var parts []string
	for _, su := range s.suite.path() {
		if su.name != "" {
			parts = append(parts, su.name)
		}
	}
	return strings.Join(append(parts, s.name), " ")
}

// target is one isolated runtime with the test API installed.
type target struct {
	browser application.Browser
	vm      *goja.Runtime
	log     *log.Logger
	stop    func() bool

	root     *suite
	current  *suite
	specs    []*spec
	failures []string
	logs     []string
}

func newTarget(ctx context.Context, b application.Browser, logger *log.Logger) *target {
	vm := goja.New()
	root := &suite{}
	t := &target{browser: b, vm: vm, log: logger, root: root, current: root}
	t.stop = context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })

	t.set("describe", t.describe)
	t.set("xdescribe", t.xdescribe)
	t.set("it", t.it(false))
	t.set("xit", t.it(true))
	t.set("beforeEach", t.hook(false))
	t.set("afterEach", t.hook(true))
	t.set("expect", t.expect)

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(name, t.consoleLog)
	}
	_ = vm.Set("console", console)
	_ = vm.Set("window", vm.GlobalObject())
	return t
}

func (t *target) set(name string, fn func(goja.FunctionCall) goja.Value) {
	_ = t.vm.Set(name, fn)
}

func (t *target) close() {
	t.stop()
}

// load runs one script, registering its suites and specs.
func (t *target) load(s script) error {
	if _, err := t.vm.RunScript(s.path, s.code); err != nil {
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	return nil
}

// run executes one spec with the hooks of its enclosing suites.
func (t *target) run(s *spec) *application.SpecResult {
	result := &application.SpecResult{Description: s.description()}
	if s.skipped {
		result.Skipped = true
		return result
	}

	t.failures, t.logs = nil, nil
	chain := s.suite.path()
	ok := true
	for _, su := range chain {
		for _, fn := range su.beforeEach {
			ok = t.call(fn) && ok
		}
	}
	if ok {
		t.call(s.fn)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, fn := range chain[i].afterEach {
			t.call(fn)
		}
	}

	result.Success = len(t.failures) == 0
	result.Log = append(t.failures, t.logs...)
	return result
}

// call invokes fn and records a thrown error as a failure.
func (t *target) call(fn goja.Callable) bool {
	if _, err := fn(goja.Undefined()); err != nil {
		t.failures = append(t.failures, thrown(err))
		return false
	}
	return true
}

// coverage exports the target's coverage global, or nil when no
// instrumented code ran.
func (t *target) coverage() (domain.CoverageObject, error) {
	v := t.vm.Get(instrument.CoverageVariable)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return decodeCoverage(v.Export())
}

func (t *target) describe(call goja.FunctionCall) goja.Value {
	t.enter(call, false)
	return goja.Undefined()
}

func (t *target) xdescribe(call goja.FunctionCall) goja.Value {
	t.enter(call, true)
	return goja.Undefined()
}

// enter registers a nested suite by running its body. Specs in a skipped
// suite are registered as skipped.
func (t *target) enter(call goja.FunctionCall, skip bool) {
	body, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(t.vm.NewTypeError("describe expects a function body"))
	}
	parent := t.current
	t.current = &suite{name: call.Argument(0).String(), parent: parent}
	first := len(t.specs)
	defer func() { t.current = parent }()

	if _, err := body(goja.Undefined()); err != nil {
		switch err.(type) {
		case *goja.Exception, *goja.InterruptedError:
			panic(err)
		default:
			panic(t.vm.NewGoError(err))
		}
	}
	if skip {
		for _, s := range t.specs[first:] {
			s.skipped = true
		}
	}
}

func (t *target) it(skip bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		// A spec without a body is pending.
		t.specs = append(t.specs, &spec{suite: t.current, name: call.Argument(0).String(), fn: fn, skipped: skip || !ok})
		return goja.Undefined()
	}
}

func (t *target) hook(after bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(t.vm.NewTypeError("hook expects a function"))
		}
		if after {
			t.current.afterEach = append(t.current.afterEach, fn)
		} else {
			t.current.beforeEach = append(t.current.beforeEach, fn)
		}
		return goja.Undefined()
	}
}

func (t *target) consoleLog(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		if str, ok := a.Export().(string); ok {
			parts[i] = str
			continue
		}
		parts[i] = inspect(a)
	}
	line := strings.Join(parts, " ")
	t.logs = append(t.logs, line)
	t.log.Debug(line, "target", t.browser.Name)
	return goja.Undefined()
}

func (t *target) expect(call goja.FunctionCall) goja.Value {
	return t.matchers(call.Argument(0), false)
}

// matchers builds the matcher object for actual. Failed expectations are
// recorded on the running spec without throwing.
func (t *target) matchers(actual goja.Value, negate bool) *goja.Object {
	obj := t.vm.NewObject()
	not := ""
	if negate {
		not = "not "
	}
	check := func(pass bool, verb string, expected goja.Value) goja.Value {
		if pass == negate {
			msg := fmt.Sprintf("Expected %s %s%s", inspect(actual), not, verb)
			if expected != nil {
				msg += " " + inspect(expected)
			}
			t.failures = append(t.failures, msg+".")
		}
		return goja.Undefined()
	}

	_ = obj.Set("toBe", func(call goja.FunctionCall) goja.Value {
		expected := call.Argument(0)
		return check(actual.StrictEquals(expected), "to be", expected)
	})
	_ = obj.Set("toEqual", func(call goja.FunctionCall) goja.Value {
		expected := call.Argument(0)
		return check(deepEqual(actual, expected), "to equal", expected)
	})
	_ = obj.Set("toBeTruthy", func(goja.FunctionCall) goja.Value {
		return check(actual.ToBoolean(), "to be truthy", nil)
	})
	_ = obj.Set("toBeFalsy", func(goja.FunctionCall) goja.Value {
		return check(!actual.ToBoolean(), "to be falsy", nil)
	})
	_ = obj.Set("toBeUndefined", func(goja.FunctionCall) goja.Value {
		return check(goja.IsUndefined(actual), "to be undefined", nil)
	})
	_ = obj.Set("toContain", func(call goja.FunctionCall) goja.Value {
		expected := call.Argument(0)
		return check(contains(t.vm, actual, expected), "to contain", expected)
	})
	_ = obj.Set("toThrow", func(goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(actual)
		threw := false
		if ok {
			_, err := fn(goja.Undefined())
			threw = err != nil
		}
		return check(threw, "to throw", nil)
	})
	if !negate {
		_ = obj.Set("not", t.matchers(actual, true))
	}
	return obj
}

func deepEqual(a, b goja.Value) bool {
	if a.StrictEquals(b) {
		return true
	}
	x, errA := json.Marshal(a.Export())
	y, errB := json.Marshal(b.Export())
	return errA == nil && errB == nil && string(x) == string(y)
}

func contains(vm *goja.Runtime, haystack, needle goja.Value) bool {
	if s, ok := haystack.Export().(string); ok {
		return strings.Contains(s, needle.String())
	}
	obj, ok := haystack.(*goja.Object)
	if !ok {
		return false
	}
	length := obj.Get("length")
	if length == nil || goja.IsUndefined(length) {
		return false
	}
	for i := int64(0); i < length.ToInteger(); i++ {
		if deepEqual(obj.Get(fmt.Sprint(i)), needle) {
			return true
		}
	}
	return false
}

// inspect renders a value for failure messages.
func inspect(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch v.Export().(type) {
	case string:
		return fmt.Sprintf("'%s'", v.String())
	case map[string]any, []any:
		if raw, err := json.Marshal(v.Export()); err == nil {
			return string(raw)
		}
	}
	return v.String()
}

// thrown extracts the message of a JavaScript exception.
func thrown(err error) string {
	if ex, ok := err.(*goja.Exception); ok {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				return stack.String()
			}
		}
		return ex.Value().String()
	}
	return err.Error()
}
