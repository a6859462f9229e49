package artifact

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Annotation patterns for optional EmmyLua-style type hints:
//
//	---@param s string
//	---@return string
//
// Hints are read in declaration order from the whole chunk. Untyped
// parameters and returns default to text, matching how the engine would
// otherwise see the value.
var (
	paramHintPattern  = regexp.MustCompile(`(?m)^\s*---@param\s+\w+\s+(\w+)`)
	returnHintPattern = regexp.MustCompile(`(?m)^\s*---@return\s+(\w+)`)
)

// valueType is the declared engine-side type of a parameter or return value.
type valueType int

const (
	typeText valueType = iota
	typeInt
	typeFloat
	typeBool
)

// typeFromHint maps an annotation name to a value type. Unknown names fall
// back to text rather than failing registration.
func typeFromHint(hint string) valueType {
	switch hint {
	case "int", "integer":
		return typeInt
	case "float", "number", "double":
		return typeFloat
	case "bool", "boolean":
		return typeBool
	default:
		return typeText
	}
}

// signature is the typed shape of a scalar function: one type per declared
// parameter plus the return type.
type signature struct {
	params []valueType
	ret    valueType
}

func (s signature) param(i int) valueType {
	if i < len(s.params) {
		return s.params[i]
	}

	return typeText
}

// parseSignature extracts type hints from the chunk. Missing hints leave the
// corresponding slot as text.
func parseSignature(source string, arity int) signature {
	sig := signature{params: make([]valueType, arity), ret: typeText}

	for i, match := range paramHintPattern.FindAllStringSubmatch(source, -1) {
		if i >= arity {
			break
		}

		sig.params[i] = typeFromHint(match[1])
	}

	if match := returnHintPattern.FindStringSubmatch(source); match != nil {
		sig.ret = typeFromHint(match[1])
	}

	return sig
}

// Function is a compiled Lua scalar function ready to bind into the engine.
// Each Function owns a dedicated interpreter state: the chunk runs once at
// compile time, and every SQL invocation calls the extracted function in that
// same state, so locals captured at load time survive between calls.
type Function struct {
	// Name is the logical function name the chunk defines.
	Name string

	// Arity is the declared parameter count, taken from the compiled
	// function, not from annotations.
	Arity int

	// mu serializes calls. The engine mutex already admits one statement at
	// a time, but an LState is not safe for concurrent use, so the Function
	// does not rely on its callers for that.
	mu    sync.Mutex
	state *lua.LState
	fn    *lua.LFunction
	sig   signature
}

// CompileFunction loads a Lua chunk and extracts the named top-level
// function.
//
// The chunk is executed once, so top-level statements run at registration
// time. Fails with ErrCompileFailed when the chunk does not load,
// ErrFunctionNotDefined when the name is absent or not a Lua function, and
// ErrNoParameters for zero-argument functions.
func CompileFunction(name, source string) (*Function, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}

	state := lua.NewState()

	if err := state.DoString(source); err != nil {
		state.Close()

		return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}

	fn, ok := state.GetGlobal(name).(*lua.LFunction)
	if !ok || fn.IsG {
		state.Close()

		return nil, fmt.Errorf("%w: %s", ErrFunctionNotDefined, name)
	}

	arity := int(fn.Proto.NumParameters)
	if arity < 1 {
		state.Close()

		return nil, fmt.Errorf("%w: %s", ErrNoParameters, name)
	}

	return &Function{
		Name:  name,
		Arity: arity,
		state: state,
		fn:    fn,
		sig:   parseSignature(source, arity),
	}, nil
}

// Call invokes the function with engine-supplied arguments. The signature of
// Call matches storage.ScalarFunc so a Function binds directly into the
// engine's scalar registry.
func (f *Function) Call(args []driver.Value) (driver.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(args) != f.Arity {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", f.Name, f.Arity, len(args))
	}

	luaArgs := make([]lua.LValue, len(args))

	for i, arg := range args {
		value, err := toLua(arg, f.sig.param(i))
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", f.Name, i+1, err)
		}

		luaArgs[i] = value
	}

	err := f.state.CallByParam(lua.P{
		Fn:      f.fn,
		NRet:    1,
		Protect: true,
	}, luaArgs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}

	result := f.state.Get(-1)
	f.state.Pop(1)

	value, err := fromLua(result, f.sig.ret)
	if err != nil {
		return nil, fmt.Errorf("%s return value: %w", f.Name, err)
	}

	return value, nil
}

// Close releases the interpreter state. The Function must not be called
// afterwards; the installer unbinds it from the engine first.
func (f *Function) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.Close()
}

// toLua converts an engine argument to a Lua value of the declared type.
func toLua(v driver.Value, t valueType) (lua.LValue, error) {
	if v == nil {
		return lua.LNil, nil
	}

	switch t {
	case typeInt, typeFloat:
		n, err := asNumber(v)
		if err != nil {
			return nil, err
		}

		return lua.LNumber(n), nil
	case typeBool:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}

		return lua.LBool(b), nil
	default:
		return lua.LString(asText(v)), nil
	}
}

// fromLua converts the function's return value to the declared engine type.
func fromLua(v lua.LValue, t valueType) (driver.Value, error) {
	if v == lua.LNil {
		return nil, nil
	}

	switch t {
	case typeInt:
		switch value := v.(type) {
		case lua.LNumber:
			return int64(value), nil
		case lua.LString:
			return strconv.ParseInt(string(value), 10, 64)
		case lua.LBool:
			if value {
				return int64(1), nil
			}

			return int64(0), nil
		}
	case typeFloat:
		switch value := v.(type) {
		case lua.LNumber:
			return float64(value), nil
		case lua.LString:
			return strconv.ParseFloat(string(value), 64)
		}
	case typeBool:
		switch value := v.(type) {
		case lua.LBool:
			return bool(value), nil
		case lua.LNumber:
			return value != 0, nil
		case lua.LString:
			return strconv.ParseBool(string(value))
		}
	default:
		switch value := v.(type) {
		case lua.LString:
			return string(value), nil
		case lua.LNumber:
			return strconv.FormatFloat(float64(value), 'f', -1, 64), nil
		case lua.LBool:
			return strconv.FormatBool(bool(value)), nil
		}
	}

	return nil, fmt.Errorf("cannot convert lua %s to %s", v.Type().String(), typeName(t))
}

func typeName(t valueType) string {
	switch t {
	case typeInt:
		return "integer"
	case typeFloat:
		return "float"
	case typeBool:
		return "boolean"
	default:
		return "text"
	}
}

func asText(v driver.Value) string {
	switch value := v.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asNumber(v driver.Value) (float64, error) {
	switch value := v.(type) {
	case int64:
		return float64(value), nil
	case float64:
		return value, nil
	case bool:
		if value {
			return 1, nil
		}

		return 0, nil
	case string:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", value)
		}

		return n, nil
	case []byte:
		return asNumber(string(value))
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

func asBool(v driver.Value) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case int64:
		return value != 0, nil
	case float64:
		return value != 0, nil
	case string:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to boolean", value)
		}

		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
}
