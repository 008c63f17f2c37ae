package service

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

const dateLayout = "2006-01-02"

// datetime-local inputs submit minutes, sometimes seconds; the web form's
// picker separates date and time with a space, API callers may send RFC 3339.
var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ValidateFormData checks data against the field schema in schema order and
// returns the first violation. Keys not named by the schema are ignored.
func ValidateFormData(fields []repository.FieldSchema, data map[string]any) error {
	for _, f := range fields {
		v, ok := data[f.Key]
		if !ok || !present(v) {
			if f.Required {
				return errors.InvalidInput("data."+f.Key, fmt.Sprintf("%s is required", f.Label))
			}
			continue
		}
		if err := validateField(f, v); err != nil {
			return err
		}
	}
	return nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func validateField(f repository.FieldSchema, v any) error {
	field := "data." + f.Key

	switch f.Kind {
	case repository.FieldText, repository.FieldTextArea:
		if _, ok := v.(string); !ok {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be text", f.Label))
		}
	case repository.FieldNumber:
		if !isNumber(v) {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be a number", f.Label))
		}
	case repository.FieldDate:
		s, ok := v.(string)
		if !ok {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", f.Label))
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", f.Label))
		}
	case repository.FieldDateTime:
		s, ok := v.(string)
		if !ok || !isDateTime(s) {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be a date and time", f.Label))
		}
	case repository.FieldSelect:
		s, ok := v.(string)
		if !ok || !slices.Contains(f.Options, s) {
			return errors.InvalidInput(field, fmt.Sprintf("%s must be one of: %s", f.Label, strings.Join(f.Options, ", ")))
		}
	default:
		return errors.InvalidInput(field, fmt.Sprintf("unsupported field type %q", f.Kind))
	}
	return nil
}

func isNumber(v any) bool {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return false
		}
		n = f
	default:
		return false
	}
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

func isDateTime(s string) bool {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// validateAmount enforces the requiresAmount rule.
func validateAmount(requires bool, amount *float64) error {
	if !requires {
		if amount != nil {
			return errors.InvalidInput("amount", "amount is not accepted for this process type")
		}
		return nil
	}
	if amount == nil {
		return errors.InvalidInput("amount", "amount is required for this process type")
	}
	if math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return errors.InvalidInput("amount", "amount must be a finite number")
	}
	if *amount < 0 {
		return errors.InvalidInput("amount", "amount must not be negative")
	}
	return nil
}
