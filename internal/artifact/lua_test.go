package artifact

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"testing"
)

// jiraKeySource is a typical operator function: pull the first ticket key out
// of a free-text subject line.
const jiraKeySource = `
---@param s string
---@return string
function extract_jira_key(s)
  return string.match(s, "%u+%-%d+")
end
`

// ===== Unit Tests: Compilation =====

func TestCompileFunctionExtractsNamedFunction(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("extract_jira_key", jiraKeySource)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	if fn.Name != "extract_jira_key" {
		t.Errorf("name = %q, want extract_jira_key", fn.Name)
	}

	if fn.Arity != 1 {
		t.Errorf("arity = %d, want 1", fn.Arity)
	}
}

func TestCompileFunctionArityFromParameterList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("concat_with", `function concat_with(a, b, sep) return a .. sep .. b end`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	if fn.Arity != 3 {
		t.Errorf("arity = %d, want 3", fn.Arity)
	}
}

func TestCompileFunctionRejectsSyntaxErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := CompileFunction("broken", `function broken(s return s end`)
	if !errors.Is(err, ErrCompileFailed) {
		t.Errorf("CompileFunction = %v, want ErrCompileFailed", err)
	}

	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected compile failure to classify as ErrInvalid")
	}
}

func TestCompileFunctionRejectsMissingFunction(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Chunk loads fine but defines a different name
	_, err := CompileFunction("extract_key", `function other_name(s) return s end`)
	if !errors.Is(err, ErrFunctionNotDefined) {
		t.Errorf("CompileFunction = %v, want ErrFunctionNotDefined", err)
	}

	// A non-function global with the right name does not count
	_, err = CompileFunction("extract_key", `extract_key = "not a function"`)
	if !errors.Is(err, ErrFunctionNotDefined) {
		t.Errorf("CompileFunction = %v, want ErrFunctionNotDefined", err)
	}
}

func TestCompileFunctionRejectsZeroParameters(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := CompileFunction("constant", `function constant() return 42 end`)
	if !errors.Is(err, ErrNoParameters) {
		t.Errorf("CompileFunction = %v, want ErrNoParameters", err)
	}
}

func TestCompileFunctionRejectsBadName(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, name := range []string{"", "9lives", "bad-name", "drop table", "semi;colon"} {
		if _, err := CompileFunction(name, jiraKeySource); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CompileFunction(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

// ===== Unit Tests: Invocation =====

func TestFunctionCallStringInStringOut(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("extract_jira_key", jiraKeySource)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	result, err := fn.Call([]driver.Value{"PROJ-123: fix login flow"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if result != "PROJ-123" {
		t.Errorf("result = %v, want PROJ-123", result)
	}
}

func TestFunctionCallNilPropagates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("extract_jira_key", jiraKeySource)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	// string.match("", ...) finds nothing, the function returns nil
	result, err := fn.Call([]driver.Value{"no ticket here"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}

	// SQL NULL in maps to lua nil
	result, err = fn.Call([]driver.Value{nil})
	if err != nil {
		t.Fatalf("Call with nil failed: %v", err)
	}

	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
}

func TestFunctionCallTypedSignature(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("scale", `
---@param n int
---@param factor float
---@return int
function scale(n, factor)
  return n * factor
end
`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	result, err := fn.Call([]driver.Value{int64(21), 2.0})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if result != int64(42) {
		t.Errorf("result = %v (%T), want int64 42", result, result)
	}
}

func TestFunctionCallBoolSignature(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("is_urgent", `
---@param subject string
---@return bool
function is_urgent(subject)
  return string.find(subject, "URGENT") ~= nil
end
`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	result, err := fn.Call([]driver.Value{"URGENT: pay the invoice"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if result != true {
		t.Errorf("result = %v (%T), want true", result, result)
	}
}

func TestFunctionCallDefaultsToText(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// No annotations at all: parameters and return are treated as text
	fn, err := CompileFunction("shout", `function shout(s) return string.upper(s) end`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	result, err := fn.Call([]driver.Value{"abc"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if result != "ABC" {
		t.Errorf("result = %v, want ABC", result)
	}

	// Non-string arguments are stringified before the call
	result, err = fn.Call([]driver.Value{int64(7)})
	if err != nil {
		t.Fatalf("Call with int failed: %v", err)
	}

	if result != "7" {
		t.Errorf("result = %v, want \"7\"", result)
	}
}

func TestFunctionCallWrongArgumentCount(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("extract_jira_key", jiraKeySource)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	if _, err := fn.Call([]driver.Value{"a", "b"}); err == nil {
		t.Error("expected an error for a two-argument call to a one-argument function")
	}
}

func TestFunctionCallRuntimeErrorSurfaces(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fn, err := CompileFunction("fail", `function fail(s) error("boom: " .. s) end`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	if _, err := fn.Call([]driver.Value{"now"}); err == nil {
		t.Error("expected the lua runtime error to surface")
	}
}

func TestFunctionStatePersistsBetweenCalls(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// The chunk runs once; upvalues and globals survive across invocations
	fn, err := CompileFunction("count", `
local n = 0
function count(ignored)
  n = n + 1
  return n
end
`)
	if err != nil {
		t.Fatalf("CompileFunction failed: %v", err)
	}
	defer fn.Close()

	for want := 1; want <= 3; want++ {
		result, err := fn.Call([]driver.Value{"x"})
		if err != nil {
			t.Fatalf("call %d failed: %v", want, err)
		}

		// Untyped returns are rendered as text
		if result != strconv.Itoa(want) {
			t.Errorf("call %d = %v, want %q", want, result, strconv.Itoa(want))
		}
	}
}

// ===== Unit Tests: Signature Parsing =====

func TestParseSignatureReadsHintsInOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := `
---@param a int
---@param b boolean
---@return float
function f(a, b) return 1.5 end
`

	sig := parseSignature(source, 2)

	if sig.param(0) != typeInt {
		t.Errorf("param 0 = %v, want typeInt", sig.param(0))
	}

	if sig.param(1) != typeBool {
		t.Errorf("param 1 = %v, want typeBool", sig.param(1))
	}

	if sig.ret != typeFloat {
		t.Errorf("return = %v, want typeFloat", sig.ret)
	}
}

func TestParseSignatureDefaultsAndOverflow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// No hints: everything is text, including out-of-range lookups
	sig := parseSignature(`function f(a, b) return a end`, 2)

	if sig.param(0) != typeText || sig.param(1) != typeText || sig.param(5) != typeText {
		t.Error("expected unhinted parameters to default to text")
	}

	if sig.ret != typeText {
		t.Errorf("return = %v, want typeText", sig.ret)
	}

	// Unknown hint names degrade to text instead of failing
	sig = parseSignature("---@param a table\n---@return userdata\nfunction f(a) return a end", 1)

	if sig.param(0) != typeText || sig.ret != typeText {
		t.Error("expected unknown hint names to degrade to text")
	}
}
