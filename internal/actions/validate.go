package actions

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError captures field level issues found before any side effect.
type ValidationError struct {
	FieldErrors map[string]string
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v.FieldErrors[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func validateObject(params []Param, args map[string]any, path string, vErr *ValidationError) {
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}
	for key := range args {
		if _, ok := declared[key]; !ok {
			vErr.add(joinPath(path, key), "unknown field")
		}
	}
	for _, p := range params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				vErr.add(joinPath(path, p.Name), "is required")
			}
			continue
		}
		validateValue(p, v, joinPath(path, p.Name), vErr)
	}
}

func validateValue(p Param, v any, path string, vErr *ValidationError) {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			vErr.add(path, "must be a string")
			return
		}
		validateString(p, s, path, vErr)

	case TypeInteger, TypeNumber:
		n, ok := v.(json.Number)
		if !ok {
			vErr.add(path, "must be a number")
			return
		}
		f, err := n.Float64()
		if err != nil {
			vErr.add(path, "must be a number")
			return
		}
		if p.Type == TypeInteger && f != math.Trunc(f) {
			vErr.add(path, "must be an integer")
			return
		}
		if p.Minimum != nil && f < *p.Minimum {
			vErr.add(path, fmt.Sprintf("must be >= %v", *p.Minimum))
		}
		if p.Maximum != nil && f > *p.Maximum {
			vErr.add(path, fmt.Sprintf("must be <= %v", *p.Maximum))
		}

	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			vErr.add(path, "must be a boolean")
		}

	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			vErr.add(path, "must be an object")
			return
		}
		if len(p.Properties) > 0 {
			validateObject(p.Properties, obj, path, vErr)
		}

	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			vErr.add(path, "must be an array")
			return
		}
		if p.MinItems > 0 && len(items) < p.MinItems {
			vErr.add(path, fmt.Sprintf("must have at least %d items", p.MinItems))
		}
		if p.MaxItems > 0 && len(items) > p.MaxItems {
			vErr.add(path, fmt.Sprintf("must have at most %d items", p.MaxItems))
		}
		if p.Items != nil {
			for i, item := range items {
				validateValue(*p.Items, item, fmt.Sprintf("%s[%d]", path, i), vErr)
			}
		}
	}
}

func validateString(p Param, s string, path string, vErr *ValidationError) {
	if p.Required && strings.TrimSpace(s) == "" {
		vErr.add(path, "is required")
		return
	}
	if p.MaxLength > 0 && utf8.RuneCountInString(s) > p.MaxLength {
		vErr.add(path, fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}
	if len(p.Enum) > 0 && !contains(p.Enum, s) {
		vErr.add(path, "must be one of "+strings.Join(p.Enum, ", "))
	}
	switch p.Format {
	case FormatDate:
		if _, err := time.Parse("2006-01-02", s); err != nil {
			vErr.add(path, "must be a date in YYYY-MM-DD format")
		}
	case FormatTime:
		if _, err := time.Parse("15:04", s); err != nil || len(s) != 5 {
			vErr.add(path, "must be a time in HH:MM format")
		}
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
