package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFieldKind is returned when resolving a field whose kind
	// name was not recognised at load time.
	ErrUnknownFieldKind = errors.New("unknown field kind")

	// ErrMissingKey is returned when a required configuration key is absent.
	ErrMissingKey = errors.New("missing required key")
)

// FieldError reports a field spec that cannot be evaluated.
type FieldError struct {
	Path string
	Kind string
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid site or block configuration.
type ConfigError struct {
	Path string
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config %s: %v %q", e.Path, e.Err, e.Key)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
