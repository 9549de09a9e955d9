// Package runner provides the local host runner.
//
// A run cycle loads the configured files into every target, where a target
// is an isolated goja runtime. Files matching the instrument globs pass
// through the instrumentation stage first; they are prepared once per cycle
// and shared by every target.
//
// Test files use a small jasmine-style API:
//
//	describe("math", function () {
//	    beforeEach(function () { ... });
//	    it("adds", function () {
//	        expect(add(1, 2)).toBe(3);
//	        expect([1]).not.toEqual([2]);
//	    });
//	});
//
// Targets run concurrently. Their lifecycle events are delivered to the
// reporter from a single dispatcher goroutine, and each target's
// __coverage__ global is attached to its browser-complete event.
package runner
