package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session with a simulated device.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Config is the project config, relative to the scenario file.
	Config string `yaml:"config"`

	Device DeviceSetup `yaml:"device,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DeviceSetup configures the simulated device.
type DeviceSetup struct {
	Firmware string `yaml:"firmware,omitempty"`

	// Handlers answer non-reserved endpoints, by endpoint name.
	Handlers map[string]Handler `yaml:"handlers,omitempty"`
}

// Handler is a canned answer. Exactly one of Reply or Fault is set; an
// empty entry replies with an empty response.
type Handler struct {
	Reply map[string]any `yaml:"reply,omitempty"`
	Fault *uint16        `yaml:"fault,omitempty"`
}

// Step is one action of the flow. Exactly one of Call, Emit or Send is set.
type Step struct {
	Call string `yaml:"call,omitempty"`
	Emit string `yaml:"emit,omitempty"`
	Send string `yaml:"send,omitempty"`

	Args map[string]any `yaml:"args,omitempty"`

	// Expect only applies to calls.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks the reply of a call. Result is a subset match.
type Expect struct {
	Result map[string]any `yaml:"result,omitempty"`
	Fault  *uint16        `yaml:"fault,omitempty"`
}

// Assertion checks the trace once the flow has run.
type Assertion struct {
	// Type is trace_contains, trace_order or trace_count.
	Type string `yaml:"type"`

	// Kind optionally narrows trace_contains and trace_count to one kind
	// of entry.
	Kind string `yaml:"kind,omitempty"`

	Name string `yaml:"name,omitempty"`

	// Data is a subset match on the decoded payload (trace_contains).
	Data map[string]any `yaml:"data,omitempty"`

	// Names must appear in this order (trace_order).
	Names []string `yaml:"names,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads a scenario file, resolving its config path against
// the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving its config
// path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Config != "" && !filepath.IsAbs(s.Config) && basePath != "" {
		s.Config = filepath.Join(basePath, s.Config)
	}
	if _, err := os.Stat(s.Config); err != nil {
		return nil, fmt.Errorf("invalid scenario: config not found: %s", s.Config)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario. The config path is left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for name, h := range s.Device.Handlers {
		if h.Reply != nil && h.Fault != nil {
			return fmt.Errorf("device.handlers.%s: reply and fault are exclusive", name)
		}
	}

	for i, step := range s.Flow {
		set := 0
		for _, v := range []string{step.Call, step.Emit, step.Send} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("flow[%d]: exactly one of call, emit or send is required", i)
		}
		if step.Expect == nil {
			continue
		}
		if step.Call == "" {
			return fmt.Errorf("flow[%d].expect: only calls have replies", i)
		}
		if step.Expect.Result != nil && step.Expect.Fault != nil {
			return fmt.Errorf("flow[%d].expect: result and fault are exclusive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Kind {
	case "", KindCall, KindResponse, KindFault, KindEvent, KindPeerEvent:
	default:
		return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
