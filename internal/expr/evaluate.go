package expr

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Context is the flat field-id to current-value mapping an expression
// evaluates against. Values follow the engine's value model:
// nil, bool, float64, string, time.Time, []any, map[string]any.
type Context map[string]any

// System identifier names resolvable without a context entry.
const (
	SysNow           = "NOW"
	SysToday         = "TODAY"
	SysCurrentUser   = "CURRENT_USER"
	SysCurrentUserID = "CURRENT_USER_ID"
)

// SystemNames lists the recognized system identifiers.
var SystemNames = map[string]bool{
	SysNow:           true,
	SysToday:         true,
	SysCurrentUser:   true,
	SysCurrentUserID: true,
}

// Env supplies the ambient values an expression may reach outside its
// context: the clock, the current user, and the identity generators.
// Injecting it keeps evaluation deterministic in tests.
type Env struct {
	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// User is the CURRENT_USER value, typically a map with profile
	// properties. UserID is the CURRENT_USER_ID value.
	User   any
	UserID string

	// NewUUID generates the UUID() function's result. Nil means
	// a random v4 UUID.
	NewUUID func() string

	// autoNumber backs AUTO_NUMBER(); monotonic per Env.
	autoNumber atomic.Int64
}

func (env *Env) now() time.Time {
	if env != nil && env.Now != nil {
		return env.Now()
	}
	return time.Now()
}

func (env *Env) newUUID() string {
	if env != nil && env.NewUUID != nil {
		return env.NewUUID()
	}
	return uuid.NewString()
}

func (env *Env) nextAutoNumber() float64 {
	if env == nil {
		return 0
	}
	return float64(env.autoNumber.Add(1))
}

// Evaluator interprets expression trees against a flat value context.
// Evaluation is pure and synchronous given a context and an Env; the
// only nondeterminism flows through the Env's clock and generators.
type Evaluator struct {
	env *Env
}

// NewEvaluator creates an evaluator over the given environment.
// A nil env yields wall-clock NOW and random UUIDs.
func NewEvaluator(env *Env) *Evaluator {
	return &Evaluator{env: env}
}

// Evaluate interprets one node against ctx.
//
// Unknown identifiers resolve to nil rather than failing; callers
// decide the failure policy (validation rules fail closed, computed
// values fail open and keep their prior value).
func (e *Evaluator) Evaluate(n Node, ctx Context) (any, error) {
	switch v := n.(type) {
	case *Literal:
		return v.Value, nil

	case *Identifier:
		return ctx[v.Name], nil

	case *SystemIdentifier:
		return e.evalSystem(v)

	case *Member:
		return e.evalMember(v, ctx)

	case *Binary:
		return e.evalBinary(v, ctx)

	case *Logical:
		return e.evalLogical(v, ctx)

	case *Call:
		return e.evalCall(v, ctx)

	case *Assignment:
		return e.Evaluate(v.Value, ctx)

	case nil:
		return nil, &EvalError{Code: ErrCodeInvalidNode, Message: "nil expression node"}

	default:
		return nil, &EvalError{Code: ErrCodeInvalidNode, Message: "node type outside the grammar"}
	}
}

func (e *Evaluator) evalSystem(v *SystemIdentifier) (any, error) {
	var val any
	switch v.Name {
	case SysNow:
		val = e.env.now()
	case SysToday:
		now := e.env.now()
		val = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case SysCurrentUser:
		if e.env != nil {
			val = e.env.User
		}
	case SysCurrentUserID:
		if e.env != nil {
			val = e.env.UserID
		}
	default:
		return nil, &EvalError{Code: ErrCodeInvalidNode, Message: "unknown system identifier " + v.Name}
	}
	if v.Property != "" {
		return property(val, v.Property), nil
	}
	return val, nil
}

// evalMember resolves a property path off the evaluated object value.
// Path segments past the object are static names (identifiers or
// string literals); a missing property resolves to nil.
func (e *Evaluator) evalMember(v *Member, ctx Context) (any, error) {
	obj, err := e.Evaluate(v.Args[0], ctx)
	if err != nil {
		return nil, err
	}
	for _, seg := range v.Args[1:] {
		name, err := segmentName(seg)
		if err != nil {
			return nil, err
		}
		obj = property(obj, name)
		if obj == nil {
			return nil, nil
		}
	}
	return obj, nil
}

func segmentName(n Node) (string, error) {
	switch s := n.(type) {
	case *Identifier:
		return s.Name, nil
	case *Literal:
		if str, ok := s.Value.(string); ok {
			return str, nil
		}
	}
	return "", &EvalError{Code: ErrCodeInvalidNode, Message: "member path segment must be a name"}
}

func property(obj any, name string) any {
	if m, ok := obj.(map[string]any); ok {
		return m[name]
	}
	if c, ok := obj.(Context); ok {
		return c[name]
	}
	return nil
}

func (e *Evaluator) evalBinary(v *Binary, ctx Context) (any, error) {
	left, err := e.Evaluate(v.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := e.Evaluate(v.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch v.Operator {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "<":
		return ToNumber(left) < ToNumber(right), nil
	case "<=":
		return ToNumber(left) <= ToNumber(right), nil
	case ">":
		return ToNumber(left) > ToNumber(right), nil
	case ">=":
		return ToNumber(left) >= ToNumber(right), nil
	case "+":
		// String concatenation wins when either side is a string,
		// mirroring how schema authors write CONCAT-free formulas.
		if ls, ok := left.(string); ok {
			return ls + ToString(right), nil
		}
		if rs, ok := right.(string); ok {
			return ToString(left) + rs, nil
		}
		return ToNumber(left) + ToNumber(right), nil
	case "-":
		return ToNumber(left) - ToNumber(right), nil
	case "*":
		return ToNumber(left) * ToNumber(right), nil
	case "/":
		return ToNumber(left) / ToNumber(right), nil
	case "%":
		return math.Mod(ToNumber(left), ToNumber(right)), nil
	default:
		return nil, NewUnsupportedOperatorError(v.Operator)
	}
}

// evalLogical short-circuits left to right: AND stops at the first
// falsy operand, OR at the first truthy one.
func (e *Evaluator) evalLogical(v *Logical, ctx Context) (any, error) {
	op := strings.ToUpper(v.Operator)
	switch op {
	case "AND", "&&":
		var last any = true
		for _, operand := range v.Operands {
			val, err := e.Evaluate(operand, ctx)
			if err != nil {
				return nil, err
			}
			if !Truthy(val) {
				return val, nil
			}
			last = val
		}
		return last, nil
	case "OR", "||":
		for _, operand := range v.Operands {
			val, err := e.Evaluate(operand, ctx)
			if err != nil {
				return nil, err
			}
			if Truthy(val) {
				return val, nil
			}
		}
		return false, nil
	default:
		return nil, NewUnsupportedOperatorError(v.Operator)
	}
}

func (e *Evaluator) evalCall(v *Call, ctx Context) (any, error) {
	fn, ok := library[strings.ToUpper(v.Callee)]
	if !ok {
		return nil, NewUnknownFunctionError(v.Callee)
	}
	if err := fn.checkArity(v.Callee, len(v.Args)); err != nil {
		return nil, err
	}
	args := make([]any, len(v.Args))
	for i, a := range v.Args {
		val, err := e.Evaluate(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return fn.apply(e, args)
}

// Truthy reports whether a value counts as true in a logical position.
// nil, false, 0, NaN, and "" are falsy; everything else is truthy.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	case time.Time:
		return !val.IsZero()
	default:
		return true
	}
}

// ToNumber applies the numeric coercion used by ordering and
// arithmetic operators. Values with no numeric reading become NaN,
// which makes every ordering comparison against them false.
func ToNumber(v any) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	case time.Time:
		return float64(val.UnixMilli())
	default:
		return math.NaN()
	}
}

// ToString renders a value the way the string functions see it.
// nil renders as the empty string.
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = ToString(e)
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// looseEqual compares with numeric coercion across mixed types,
// matching the "==" operator's loose semantics.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if strictEqual(a, b) {
		return true
	}
	// Mixed numeric-ish comparison: number vs string vs bool.
	switch a.(type) {
	case float64, int, int64, bool, string, time.Time:
		switch b.(type) {
		case float64, int, int64, bool, string, time.Time:
			an, bn := ToNumber(a), ToNumber(b)
			if math.IsNaN(an) || math.IsNaN(bn) {
				return false
			}
			return an == bn
		}
	}
	return false
}

// strictEqual compares without coercion: equal kind and equal value.
// Arrays and objects compare structurally.
func strictEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := numericValue(b)
		if !ok {
			return false
		}
		av2, _ := numericValue(a)
		return av2 == bv
	case int, int64:
		av2, _ := numericValue(a)
		bv, ok := numericValue(b)
		return ok && av2 == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return reflect.DeepEqual(a, b)
	}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
