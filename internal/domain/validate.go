package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/expr-lang/expr"
)

// StepResult is the outcome of validating one step's active fields.
// Valid is true only when there are no hard errors and no unacknowledged
// soft warnings; the two categories are distinct because soft warnings are
// overridable by explicit user confirmation while hard errors are not.
type StepResult struct {
	Valid       bool
	FieldErrors map[string]string
	Warnings    map[string]string
}

const dateLayout = "2006-01-02"

// ValidateStep evaluates a step's active field specs against the current
// values, then its cross-field rules. Acknowledged soft-warning keys are
// suppressed: the same input that raised them is accepted after the user
// confirms.
func ValidateStep(step StepSpec, values map[string]any, acknowledged map[string]bool) StepResult {
	res := StepResult{
		FieldErrors: make(map[string]string),
		Warnings:    make(map[string]string),
	}

	for _, f := range step.Fields {
		if msg := validateField(f, values[f.Key]); msg != "" {
			res.FieldErrors[f.Key] = msg
		}
	}

	for _, rule := range step.Rules {
		ok, err := evalRule(rule, values)
		if err != nil {
			res.FieldErrors[rule.Key] = fmt.Sprintf("rule evaluation failed: %v", err)
			continue
		}
		if ok {
			continue
		}
		if rule.Severity == SeveritySoft {
			if !acknowledged[rule.Key] {
				res.Warnings[rule.Key] = rule.Message
			}
			continue
		}
		res.FieldErrors[rule.Key] = rule.Message
	}

	res.Valid = len(res.FieldErrors) == 0 && len(res.Warnings) == 0
	return res
}

func validateField(f FieldSpec, value any) string {
	if isEmpty(value) {
		if f.Required {
			return fmt.Sprintf("%s is required", f.Label)
		}
		return ""
	}

	switch f.Kind {
	case KindText:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be text", f.Label)
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Sprintf("%s has an invalid pattern", f.Label)
			}
			if !re.MatchString(s) {
				return fmt.Sprintf("%s has an invalid format", f.Label)
			}
		}
	case KindNumber:
		n, ok := asNumber(value)
		if !ok {
			return fmt.Sprintf("%s must be a number", f.Label)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("%s must be at least %v", f.Label, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("%s must be at most %v", f.Label, *f.Max)
		}
	case KindDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be a date", f.Label)
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", f.Label)
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be one of the listed options", f.Label)
		}
		for _, opt := range f.Options {
			if s == opt {
				return ""
			}
		}
		return fmt.Sprintf("%s must be one of the listed options", f.Label)
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("%s must be true or false", f.Label)
		}
	case KindGroup:
		entries, ok := value.([]any)
		if !ok {
			return fmt.Sprintf("%s must be a list of entries", f.Label)
		}
		if len(entries) < f.MinEntries {
			return fmt.Sprintf("%s requires at least %d entries", f.Label, f.MinEntries)
		}
	}
	return ""
}

// evalRule runs a cross-field expression against the field values. The
// expression must evaluate to a boolean; true means the rule holds.
func evalRule(rule CrossRule, values map[string]any) (bool, error) {
	env := make(map[string]any, len(values))
	for k, v := range values {
		env[k] = v
	}

	program, err := expr.Compile(rule.Expr,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, fmt.Errorf("compiling %q: %w", rule.Key, err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("running %q: %w", rule.Key, err)
	}

	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("rule %q did not produce a boolean", rule.Key)
	}
	return ok, nil
}

// CanDeleteGroupEntry reports whether removing one entry from a repeatable
// group keeps it at or above the service-mandated floor.
func CanDeleteGroupEntry(f FieldSpec, currentLen int) bool {
	return currentLen-1 >= f.MinEntries
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
