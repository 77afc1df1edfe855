package middleware

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/beaconkit/beacon/plugin"
)

// recorder is a Next that remembers what it was called with.
type recorder struct {
	calls    []plugin.Payload
	fail     error
	failures int
}

func (r *recorder) next(ctx context.Context, p plugin.Payload) error {
	if r.fail != nil && r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		return r.fail
	}
	r.calls = append(r.calls, p)
	return nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestValidationStrict(t *testing.T) {
	tests := []struct {
		name    string
		payload plugin.Payload
		wantErr string
	}{
		{
			name:    "valid event",
			payload: &plugin.Event{Name: "signup", Properties: map[string]any{"plan": "pro"}},
		},
		{
			name:    "empty event name",
			payload: &plugin.Event{Name: ""},
			wantErr: "shorter than",
		},
		{
			name:    "oversized event name",
			payload: &plugin.Event{Name: strings.Repeat("x", 200)},
			wantErr: "longer than",
		},
		{
			name:    "nil property value",
			payload: &plugin.Event{Name: "signup", Properties: map[string]any{"plan": nil}},
			wantErr: "nil value",
		},
		{
			name:    "function property value",
			payload: &plugin.Event{Name: "signup", Properties: map[string]any{"cb": func() {}}},
			wantErr: "function value",
		},
		{
			name:    "page view without path",
			payload: &plugin.PageView{Path: ""},
			wantErr: "non-empty path",
		},
		{
			name:    "identity without user id",
			payload: &plugin.Identity{UserID: ""},
			wantErr: "non-empty user id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidation(ValidationConfig{Strict: true, Logger: discardLogger()})
			rec := &recorder{}

			err := v.Process(context.Background(), tt.payload, rec.next)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Process() error = %v", err)
				}
				if len(rec.calls) != 1 {
					t.Fatalf("next called %d times, want 1", len(rec.calls))
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Process() error = %v, want containing %q", err, tt.wantErr)
			}
			if len(rec.calls) != 0 {
				t.Fatalf("next called on invalid payload")
			}
		})
	}
}

func TestValidationLenientForwards(t *testing.T) {
	v := NewValidation(ValidationConfig{Strict: false, Logger: discardLogger()})
	rec := &recorder{}

	err := v.Process(context.Background(), &plugin.Event{Name: ""}, rec.next)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("lenient mode must forward, next called %d times", len(rec.calls))
	}
}

func TestValidationAllowNil(t *testing.T) {
	v := NewValidation(ValidationConfig{Strict: true, AllowNil: true, Logger: discardLogger()})
	rec := &recorder{}

	payload := &plugin.Event{Name: "signup", Properties: map[string]any{"plan": nil}}
	if err := v.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("next called %d times, want 1", len(rec.calls))
	}
}
