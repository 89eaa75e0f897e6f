package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is a failed assertion with the trace it ran against.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Seq, ev.Kind, ev.Name, ev.Payload)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func matchesEntry(ev TraceEvent, kind, name string) bool {
	return ev.Name == name && (kind == "" || ev.Kind == kind)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	want := normalize(a.Data)
	for _, ev := range trace {
		if matchesEntry(ev, a.Kind, a.Name) && (a.Data == nil || matchSubset(ev.Data, want)) {
			return nil
		}
	}
	expected := describe(a.Kind, a.Name)
	if a.Data != nil {
		expected += fmt.Sprintf(" with data %v", a.Data)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first appearance of each name follows
// the previous one. Other entries may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int)
	for i, ev := range trace {
		if _, seen := first[ev.Name]; !seen {
			first[ev.Name] = i
		}
	}

	last := -1
	for i, name := range a.Names {
		pos, ok := first[name]
		if !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s in trace", name),
				Actual:   "not found in trace",
				Trace:    trace,
			}
		}
		if pos < last {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s after %s", name, a.Names[i-1]),
				Actual:   fmt.Sprintf("%s at seq %d, %s at seq %d", name, pos+1, a.Names[i-1], last+1),
				Trace:    trace,
			}
		}
		last = pos
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matchesEntry(ev, a.Kind, a.Name) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s %d time(s)", describe(a.Kind, a.Name), a.Count),
		Actual:   fmt.Sprintf("%d time(s)", n),
		Trace:    trace,
	}
}

func describe(kind, name string) string {
	if kind == "" {
		return name
	}
	return kind + " " + name
}

// normalize passes v through JSON so that YAML integers compare with
// decoded payload numbers.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// matchSubset reports whether actual holds every key of expected with an
// equal value. 64-bit integers decode as strings, so scalars also compare
// by their printed form.
func matchSubset(actual, expected any) bool {
	switch want := expected.(type) {
	case map[string]any:
		got, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range want {
			if !matchSubset(got[k], v) {
				return false
			}
		}
		return true
	case []any:
		got, ok := actual.([]any)
		if !ok || len(got) != len(want) {
			return false
		}
		for i := range want {
			if !matchSubset(got[i], want[i]) {
				return false
			}
		}
		return true
	default:
		if reflect.DeepEqual(actual, expected) {
			return true
		}
		if actual == nil || expected == nil {
			return false
		}
		return fmt.Sprint(actual) == fmt.Sprint(expected)
	}
}
