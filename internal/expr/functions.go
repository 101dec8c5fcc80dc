package expr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// builtin describes one entry in the fixed function library.
// arity of -1 means variadic above min.
type builtin struct {
	min   int
	max   int // -1 = unbounded
	apply func(e *Evaluator, args []any) (any, error)
}

func (b builtin) checkArity(name string, got int) error {
	if got < b.min || (b.max >= 0 && got > b.max) {
		want := arityLabel(b.min, b.max)
		return newArityError(name, want, got)
	}
	return nil
}

func arityLabel(min, max int) string {
	switch {
	case max < 0:
		return "at least " + strconv.Itoa(min)
	case min == max:
		return strconv.Itoa(min)
	default:
		return strconv.Itoa(min) + ".." + strconv.Itoa(max)
	}
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

// library is the closed function set. The callee name is matched
// case-insensitively after upper-casing by the evaluator.
var library = map[string]builtin{
	// String functions.
	"CONCAT": {0, -1, func(e *Evaluator, args []any) (any, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(ToString(a))
		}
		return sb.String(), nil
	}},
	"TRIM": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return strings.TrimSpace(ToString(args[0])), nil
	}},
	"LENGTH": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return float64(len([]rune(ToString(args[0])))), nil
	}},
	"UPPER": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return upperCaser.String(ToString(args[0])), nil
	}},
	"LOWER": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return lowerCaser.String(ToString(args[0])), nil
	}},
	"CONTAINS": {2, 2, func(e *Evaluator, args []any) (any, error) {
		return strings.Contains(ToString(args[0]), ToString(args[1])), nil
	}},
	"MATCHES": {2, 2, func(e *Evaluator, args []any) (any, error) {
		re, err := regexp.Compile(ToString(args[1]))
		if err != nil {
			return nil, newArgumentError("MATCHES", "invalid pattern: "+err.Error())
		}
		return re.MatchString(ToString(args[0])), nil
	}},
	"SUBSTRING": {2, 3, func(e *Evaluator, args []any) (any, error) {
		runes := []rune(ToString(args[0]))
		start := clampIndex(ToNumber(args[1]), len(runes))
		end := len(runes)
		if len(args) == 3 {
			end = clampIndex(ToNumber(args[2]), len(runes))
		}
		if end < start {
			end = start
		}
		return string(runes[start:end]), nil
	}},

	// Numeric functions. SUM/AVG/MIN/MAX flatten array arguments so a
	// multi-value field can be aggregated directly.
	"SUM": {1, -1, func(e *Evaluator, args []any) (any, error) {
		nums := flattenNumbers(args)
		var total float64
		for _, n := range nums {
			total += n
		}
		return total, nil
	}},
	"AVG": {1, -1, func(e *Evaluator, args []any) (any, error) {
		nums := flattenNumbers(args)
		if len(nums) == 0 {
			return math.NaN(), nil
		}
		var total float64
		for _, n := range nums {
			total += n
		}
		return total / float64(len(nums)), nil
	}},
	"MIN": {1, -1, func(e *Evaluator, args []any) (any, error) {
		nums := flattenNumbers(args)
		if len(nums) == 0 {
			return math.NaN(), nil
		}
		min := nums[0]
		for _, n := range nums[1:] {
			if n < min {
				min = n
			}
		}
		return min, nil
	}},
	"MAX": {1, -1, func(e *Evaluator, args []any) (any, error) {
		nums := flattenNumbers(args)
		if len(nums) == 0 {
			return math.NaN(), nil
		}
		max := nums[0]
		for _, n := range nums[1:] {
			if n > max {
				max = n
			}
		}
		return max, nil
	}},
	"ROUND": {1, 2, func(e *Evaluator, args []any) (any, error) {
		n := ToNumber(args[0])
		digits := 0.0
		if len(args) == 2 {
			digits = ToNumber(args[1])
		}
		scale := math.Pow(10, digits)
		return math.Round(n*scale) / scale, nil
	}},
	"FLOOR": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return math.Floor(ToNumber(args[0])), nil
	}},
	"CEIL": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return math.Ceil(ToNumber(args[0])), nil
	}},
	"ABS": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return math.Abs(ToNumber(args[0])), nil
	}},

	// Date functions. Arguments may be time.Time values or strings in
	// RFC 3339 or YYYY-MM-DD form.
	"YEAR": {1, 1, func(e *Evaluator, args []any) (any, error) {
		t, err := toDate("YEAR", args[0])
		if err != nil {
			return nil, err
		}
		return float64(t.Year()), nil
	}},
	"MONTH": {1, 1, func(e *Evaluator, args []any) (any, error) {
		t, err := toDate("MONTH", args[0])
		if err != nil {
			return nil, err
		}
		return float64(t.Month()), nil
	}},
	"DAY": {1, 1, func(e *Evaluator, args []any) (any, error) {
		t, err := toDate("DAY", args[0])
		if err != nil {
			return nil, err
		}
		return float64(t.Day()), nil
	}},
	"DATE_DIFF": {2, 2, func(e *Evaluator, args []any) (any, error) {
		a, err := toDate("DATE_DIFF", args[0])
		if err != nil {
			return nil, err
		}
		b, err := toDate("DATE_DIFF", args[1])
		if err != nil {
			return nil, err
		}
		return a.Sub(b).Hours() / 24, nil
	}},
	"ADD_DAYS": {2, 2, func(e *Evaluator, args []any) (any, error) {
		t, err := toDate("ADD_DAYS", args[0])
		if err != nil {
			return nil, err
		}
		return t.AddDate(0, 0, int(ToNumber(args[1]))), nil
	}},
	"ADD_MONTHS": {2, 2, func(e *Evaluator, args []any) (any, error) {
		t, err := toDate("ADD_MONTHS", args[0])
		if err != nil {
			return nil, err
		}
		return t.AddDate(0, int(ToNumber(args[1])), 0), nil
	}},

	// Conditional.
	"IF": {3, 3, func(e *Evaluator, args []any) (any, error) {
		if Truthy(args[0]) {
			return args[1], nil
		}
		return args[2], nil
	}},

	// Identity and predicates.
	"AUTO_NUMBER": {0, 0, func(e *Evaluator, args []any) (any, error) {
		return e.env.nextAutoNumber(), nil
	}},
	"UUID": {0, 0, func(e *Evaluator, args []any) (any, error) {
		return e.env.newUUID(), nil
	}},
	"IS_NULL": {1, 1, func(e *Evaluator, args []any) (any, error) {
		return args[0] == nil, nil
	}},
	"IS_EMPTY": {1, 1, func(e *Evaluator, args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return true, nil
		case string:
			return strings.TrimSpace(v) == "", nil
		case []any:
			return len(v) == 0, nil
		case map[string]any:
			return len(v) == 0, nil
		default:
			return false, nil
		}
	}},
	"IS_NUMBER": {1, 1, func(e *Evaluator, args []any) (any, error) {
		_, ok := numericValue(args[0])
		return ok, nil
	}},
	"IS_DATE": {1, 1, func(e *Evaluator, args []any) (any, error) {
		_, err := toDate("IS_DATE", args[0])
		return err == nil, nil
	}},

	// Array functions.
	"ARRAY_LENGTH": {1, 1, func(e *Evaluator, args []any) (any, error) {
		arr, err := toArray("ARRAY_LENGTH", args[0])
		if err != nil {
			return nil, err
		}
		return float64(len(arr)), nil
	}},
	"ARRAY_CONTAINS": {2, 2, func(e *Evaluator, args []any) (any, error) {
		arr, err := toArray("ARRAY_CONTAINS", args[0])
		if err != nil {
			return nil, err
		}
		for _, elem := range arr {
			if looseEqual(elem, args[1]) {
				return true, nil
			}
		}
		return false, nil
	}},
	"ARRAY_JOIN": {2, 2, func(e *Evaluator, args []any) (any, error) {
		arr, err := toArray("ARRAY_JOIN", args[0])
		if err != nil {
			return nil, err
		}
		sep := ToString(args[1])
		parts := make([]string, len(arr))
		for i, elem := range arr {
			parts[i] = ToString(elem)
		}
		return strings.Join(parts, sep), nil
	}},
}

// dateFormats are tried in order when coercing strings to dates.
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toDate(fn string, v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, d); err == nil {
				return t, nil
			}
		}
		return time.Time{}, newArgumentError(fn, "value is not a date: "+d)
	default:
		return time.Time{}, newArgumentError(fn, "value is not a date")
	}
}

// clampIndex converts a numeric index into a valid rune offset,
// truncating toward zero and clamping into [0, n].
func clampIndex(v float64, n int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	i := int(v)
	if i > n {
		return n
	}
	return i
}

func toArray(fn string, v any) ([]any, error) {
	switch arr := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return arr, nil
	default:
		return nil, newArgumentError(fn, "value is not an array")
	}
}

// flattenNumbers coerces scalar args and array elements to numbers,
// skipping nils so optional fields don't poison aggregates.
func flattenNumbers(args []any) []float64 {
	var nums []float64
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			continue
		case []any:
			for _, elem := range v {
				if elem == nil {
					continue
				}
				nums = append(nums, ToNumber(elem))
			}
		default:
			nums = append(nums, ToNumber(v))
		}
	}
	return nums
}

// IsLibraryFunction reports whether name is part of the fixed library.
func IsLibraryFunction(name string) bool {
	_, ok := library[strings.ToUpper(name)]
	return ok
}
