// Package form binds multipart form fields onto typed structs through an
// explicit field table.
package form

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/councilhub/internal/apperr"
)

// Field reads one form value and applies it to a T.
type Field[T any] struct {
	Name     string
	Required bool
	apply    func(dst *T, raw string) error
}

// Require marks the field as mandatory.
func (f Field[T]) Require() Field[T] {
	f.Required = true
	return f
}

// Parsed builds a field from a parser and a setter.
func Parsed[T, V any](name string, parse func(string) (V, error), set func(*T, V)) Field[T] {
	return Field[T]{
		Name: name,
		apply: func(dst *T, raw string) error {
			v, err := parse(raw)
			if err != nil {
				return err
			}
			set(dst, v)
			return nil
		},
	}
}

func Text[T any](name string, set func(*T, string)) Field[T] {
	return Parsed(name, func(s string) (string, error) { return strings.TrimSpace(s), nil }, set)
}

func Int[T any](name string, set func(*T, int)) Field[T] {
	return Parsed(name, ParseInt, set)
}

func Bool[T any](name string, set func(*T, bool)) Field[T] {
	return Parsed(name, ParseBool, set)
}

func Time[T any](name string, set func(*T, time.Time)) Field[T] {
	return Parsed(name, ParseTime, set)
}

// JSON accepts any syntactically valid JSON document. An empty value is
// passed through as nil.
func JSON[T any](name string, set func(*T, json.RawMessage)) Field[T] {
	return Parsed(name, ParseJSON, set)
}

// Bind applies fields from values onto dst. Absent optional fields leave dst
// untouched. All field errors are reported together as a validation error.
func Bind[T any](values url.Values, dst *T, fields []Field[T]) error {
	errs := validation.Errors{}
	for _, f := range fields {
		raw, ok := values[f.Name]
		if !ok || len(raw) == 0 {
			if f.Required {
				errs[f.Name] = validation.ErrRequired
			}
			continue
		}
		if f.Required && strings.TrimSpace(raw[0]) == "" {
			errs[f.Name] = validation.ErrRequired
			continue
		}
		if err := f.apply(dst, raw[0]); err != nil {
			errs[f.Name] = err
		}
	}
	if err := errs.Filter(); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	return nil
}

func ParseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return n, nil
}

// ParseBool accepts strconv.ParseBool spellings plus on/off. Empty is false.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "no":
		return false, nil
	case "on", "yes":
		return true, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", s)
	}
	return b, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts ISO 8601 date-times. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO date-time", s)
}

func ParseJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("malformed JSON")
	}
	return json.RawMessage(s), nil
}
