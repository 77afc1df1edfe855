// Package middleware provides the built-in processing stages between event
// creation and sink dispatch: shape validation, session enrichment, consent
// gating, privacy scrubbing, batching with an offline queue, and sampling.
package middleware

import (
	"context"
	"fmt"
	"log"
	"reflect"

	"github.com/beaconkit/beacon/plugin"
)

// ValidationConfig tunes the shape-validation stage.
type ValidationConfig struct {
	// Strict makes violations fail the stage (the core logs the error
	// and forwards the original payload). When false, violations are
	// logged as warnings and the payload passes unmodified.
	Strict bool
	// MinNameLength and MaxNameLength bound event names (defaults 1, 120).
	MinNameLength int
	MaxNameLength int
	// AllowNil permits nil property values even in strict mode.
	AllowNil bool
	// Logger overrides the warning destination (default: log stdlib).
	Logger *log.Logger
}

// Validation rejects malformed payloads before they reach later stages:
// event names outside the length bounds, nil or function-typed property
// values, page views without a path, identities without a user id.
type Validation struct {
	cfg ValidationConfig
}

// NewValidation creates the shape-validation stage.
func NewValidation(cfg ValidationConfig) *Validation {
	if cfg.MinNameLength <= 0 {
		cfg.MinNameLength = 1
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 120
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Validation{cfg: cfg}
}

func (v *Validation) Name() string { return "validation" }

// Process checks the payload shape and either fails (strict), warns
// (lenient) or forwards.
func (v *Validation) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	if err := v.check(p); err != nil {
		if v.cfg.Strict {
			return err
		}
		v.cfg.Logger.Printf("[validation] warning: %v", err)
	}
	return next(ctx, p)
}

func (v *Validation) check(p plugin.Payload) error {
	switch data := p.(type) {
	case *plugin.Event:
		if len(data.Name) < v.cfg.MinNameLength {
			return fmt.Errorf("event name %q shorter than %d", data.Name, v.cfg.MinNameLength)
		}
		if len(data.Name) > v.cfg.MaxNameLength {
			return fmt.Errorf("event name %q longer than %d", data.Name, v.cfg.MaxNameLength)
		}
		return v.checkProperties(data.Properties)

	case *plugin.PageView:
		if data.Path == "" {
			return fmt.Errorf("page view requires a non-empty path")
		}
		return v.checkProperties(data.Properties)

	case *plugin.Identity:
		if data.UserID == "" {
			return fmt.Errorf("identity requires a non-empty user id")
		}
		return v.checkProperties(data.Traits)
	}
	return nil
}

func (v *Validation) checkProperties(props map[string]any) error {
	for key, value := range props {
		if value == nil {
			if v.cfg.AllowNil {
				continue
			}
			return fmt.Errorf("property %q has a nil value", key)
		}
		if reflect.TypeOf(value).Kind() == reflect.Func {
			return fmt.Errorf("property %q has a function value", key)
		}
	}
	return nil
}
