package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a timeline of ledger events with expectations.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Now is the clock's start, YYYY-MM-DD or RFC 3339.
	Now string `yaml:"now"`

	Engine EngineSettings `yaml:"engine,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// EngineSettings selects the allocation strategy and deficit policy.
// Empty fields keep the engine defaults.
type EngineSettings struct {
	Strategy      string `yaml:"strategy,omitempty"`
	DeficitPolicy string `yaml:"deficit_policy,omitempty"`
}

// Step is one event of the timeline. Exactly one operation is set.
type Step struct {
	// At moves the clock before the step.
	At string `yaml:"at,omitempty"`

	Record  *RecordStep `yaml:"record,omitempty"`
	Delete  string      `yaml:"delete,omitempty"`
	Edit    *EditStep   `yaml:"edit,omitempty"`
	Advance bool        `yaml:"advance,omitempty"`
	Rebuild bool        `yaml:"rebuild,omitempty"`
	// Tick only moves the clock.
	Tick bool `yaml:"tick,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// RecordStep logs a new transaction.
type RecordStep struct {
	ID     string `yaml:"id"`
	Type   string `yaml:"type"`
	Amount string `yaml:"amount"`
	Date   string `yaml:"date,omitempty"`
}

// EditStep patches a logged transaction. Unset fields are unchanged.
type EditStep struct {
	ID     string  `yaml:"id"`
	Type   *string `yaml:"type,omitempty"`
	Amount *string `yaml:"amount,omitempty"`
	Date   *string `yaml:"date,omitempty"`
}

// Expect checks the traced outcome of a step. Unset fields are not checked.
type Expect struct {
	Outcome   string `yaml:"outcome,omitempty"`
	Code      string `yaml:"code,omitempty"`
	AgeDays   *int   `yaml:"age_days,omitempty"`
	Shortfall string `yaml:"shortfall,omitempty"`
}

// Assertion checks the final ledger.
type Assertion struct {
	Type string `yaml:"type"`

	// Income names a pool by its income transaction id (pool).
	Income string `yaml:"income,omitempty"`

	// Expense names the expense whose draws are checked (consumptions).
	Expense string `yaml:"expense,omitempty"`

	// Draws are the expected draws in FIFO pool order (consumptions).
	Draws []map[string]any `yaml:"draws,omitempty"`

	// Expect holds expected field values, subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertMoneyAge      = "money_age"
	AssertPool          = "pool"
	AssertConsumptions  = "consumptions"
	AssertStatistics    = "statistics"
	AssertMode          = "mode"
	AssertReplayMatches = "replay_matches"
)

// UnfundedPool names the sentinel pool in pool assertions and draws.
const UnfundedPool = "unfunded"

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Now == "" {
		return errors.New("now is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	ops := 0
	for _, set := range []bool{step.Record != nil, step.Delete != "", step.Edit != nil, step.Advance, step.Rebuild, step.Tick} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of record, delete, edit, advance, rebuild, tick is required (got %d)", i, ops)
	}

	switch {
	case step.Record != nil:
		if step.Record.ID == "" {
			return fmt.Errorf("steps[%d].record: id is required", i)
		}
		if step.Record.Type == "" || step.Record.Amount == "" {
			return fmt.Errorf("steps[%d].record: type and amount are required", i)
		}
	case step.Edit != nil:
		if step.Edit.ID == "" {
			return fmt.Errorf("steps[%d].edit: id is required", i)
		}
		if step.Edit.Type == nil && step.Edit.Amount == nil && step.Edit.Date == nil {
			return fmt.Errorf("steps[%d].edit: nothing to change", i)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertMoneyAge, AssertStatistics, AssertMode:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", i, a.Type)
		}
	case AssertPool:
		if a.Income == "" {
			return fmt.Errorf("assertions[%d]: income is required for pool", i)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for pool", i)
		}
	case AssertConsumptions:
		if a.Expense == "" {
			return fmt.Errorf("assertions[%d]: expense is required for consumptions", i)
		}
	case AssertReplayMatches:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
