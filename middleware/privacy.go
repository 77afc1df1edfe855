package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/beaconkit/beacon/plugin"
)

// Default field sets. Matching is case-insensitive on the normalized key.
var (
	defaultSensitiveFields = []string{
		"password", "token", "secret", "api_key", "apikey",
		"ssn", "credit_card", "creditcard", "cvv", "pin",
	}
	defaultHashFields = []string{
		"email", "phone", "user_id", "userid",
		"device_id", "deviceid", "ip_address", "ipaddress",
	}
)

// Sanitizer is a caller-supplied pre-pass over a property map, applied
// before the built-in deletion and hashing rules.
type Sanitizer func(map[string]any) map[string]any

// PrivacyConfig tunes the scrubbing stage.
type PrivacyConfig struct {
	// SensitiveFields are deleted outright (defaults: password, token,
	// secret, apiKey, ssn, ...).
	SensitiveFields []string
	// HashFields are replaced by a SHA-256 hex digest under
	// "<field>_hash" (defaults: email, phone, userId, deviceId, ...).
	HashFields []string
	// Sanitizer runs before the built-in rules.
	Sanitizer Sanitizer
}

// Privacy scrubs payloads before they reach the sinks: sensitive fields
// are removed, identifying fields are hashed, and first-level nested maps
// get the same treatment. For identities the user id itself is always
// hashed.
type Privacy struct {
	sensitive map[string]struct{}
	hash      map[string]struct{}
	sanitizer Sanitizer
}

// NewPrivacy creates the scrubbing stage.
func NewPrivacy(cfg PrivacyConfig) *Privacy {
	sensitive := cfg.SensitiveFields
	if sensitive == nil {
		sensitive = defaultSensitiveFields
	}
	hash := cfg.HashFields
	if hash == nil {
		hash = defaultHashFields
	}

	m := &Privacy{
		sensitive: make(map[string]struct{}, len(sensitive)),
		hash:      make(map[string]struct{}, len(hash)),
		sanitizer: cfg.Sanitizer,
	}
	for _, f := range sensitive {
		m.sensitive[normalizeField(f)] = struct{}{}
	}
	for _, f := range hash {
		m.hash[normalizeField(f)] = struct{}{}
	}
	return m
}

func (m *Privacy) Name() string { return "privacy" }

// Process forwards a scrubbed copy of the payload.
func (m *Privacy) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	scrubbed := p.Clone()

	switch v := scrubbed.(type) {
	case *plugin.Event:
		v.Properties = m.scrub(v.Properties, 0)
	case *plugin.PageView:
		v.Properties = m.scrub(v.Properties, 0)
	case *plugin.Identity:
		v.Traits = m.scrub(v.Traits, 0)
		v.UserID = hashValue(v.UserID)
	}

	return next(ctx, scrubbed)
}

// scrub applies the sanitizer, then deletion, then hashing, then recurses
// into first-level nested maps only. Arrays and primitives pass through.
func (m *Privacy) scrub(props map[string]any, depth int) map[string]any {
	if props == nil {
		return nil
	}

	if depth == 0 && m.sanitizer != nil {
		props = m.sanitizer(props)
	}

	// Deletions and hash replacements are collected during the walk and
	// applied after it; keys inserted mid-range may be visited by it.
	var remove []string
	var hashed map[string]string
	for key, value := range props {
		norm := normalizeField(key)

		if _, ok := m.sensitive[norm]; ok {
			remove = append(remove, key)
			continue
		}
		if _, ok := m.hash[norm]; ok {
			remove = append(remove, key)
			if hashed == nil {
				hashed = make(map[string]string)
			}
			hashed[key+"_hash"] = hashValue(fmt.Sprint(value))
			continue
		}
		if nested, ok := value.(map[string]any); ok && depth == 0 {
			props[key] = m.scrub(nested, depth+1)
		}
	}
	for _, key := range remove {
		delete(props, key)
	}
	for key, digest := range hashed {
		props[key] = digest
	}
	return props
}

func normalizeField(f string) string {
	return strings.ToLower(strings.ReplaceAll(f, "_", ""))
}

func hashValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
