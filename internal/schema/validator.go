package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedEvent marks input that cannot be normalized into a
// SecurityEvent. Callers must treat it as a fail-safe block, never as
// an allow.
var ErrMalformedEvent = errors.New("malformed event")

// Validator checks raw descriptors before normalization.
type Validator struct {
	validate  *validator.Validate
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the descriptor validator.
type ValidatorConfig struct {
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	return &Validator{
		validate:  validator.New(),
		maxFuture: cfg.MaxFuture,
	}
}

// ValidateHTTP validates an HTTP descriptor.
func (v *Validator) ValidateHTTP(d *HTTPDescriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrMalformedEvent)
	}
	if err := v.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// ValidateNetwork validates a network flow descriptor.
func (v *Validator) ValidateNetwork(d *NetworkDescriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrMalformedEvent)
	}
	if err := v.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// ValidateAccess validates an access-request descriptor.
func (v *Validator) ValidateAccess(d *AccessDescriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrMalformedEvent)
	}
	if err := v.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !d.Context.Time.IsZero() && d.Context.Time.After(time.Now().Add(v.maxFuture)) {
		return fmt.Errorf("%w: context time in future: %v", ErrMalformedEvent, d.Context.Time)
	}
	return nil
}
