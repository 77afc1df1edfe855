package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/beaconkit/beacon/plugin"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestPrivacyScrubsEvent(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{})
	rec := &recorder{}

	payload := &plugin.Event{
		Name: "signup",
		Properties: map[string]any{
			"password": "hunter2",
			"email":    "a@example.com",
			"plan":     "pro",
		},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	props := rec.calls[0].(*plugin.Event).Properties
	if _, ok := props["password"]; ok {
		t.Fatalf("password not removed")
	}
	if _, ok := props["email"]; ok {
		t.Fatalf("email not replaced")
	}
	hash, ok := props["email_hash"].(string)
	if !ok || !hexDigest.MatchString(hash) {
		t.Fatalf("email_hash = %v, want 64-char hex digest", props["email_hash"])
	}
	if hash != sha256Hex("a@example.com") {
		t.Fatalf("email_hash is not the sha256 of the value")
	}
	if props["plan"] != "pro" {
		t.Fatalf("safe field modified: %v", props["plan"])
	}

	// Original payload must be untouched
	if payload.Properties["password"] != "hunter2" {
		t.Fatalf("original payload mutated")
	}
}

func TestPrivacyScrubsNestedMaps(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{})
	rec := &recorder{}

	payload := &plugin.Event{
		Name: "signup",
		Properties: map[string]any{
			"user": map[string]any{
				"token": "abc",
				"phone": "555-0100",
				"name":  "jo",
			},
		},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	nested := rec.calls[0].(*plugin.Event).Properties["user"].(map[string]any)
	if _, ok := nested["token"]; ok {
		t.Fatalf("nested token not removed")
	}
	if _, ok := nested["phone_hash"]; !ok {
		t.Fatalf("nested phone not hashed: %v", nested)
	}
	if nested["name"] != "jo" {
		t.Fatalf("nested safe field modified")
	}
}

func TestPrivacyCaseInsensitiveMatching(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{})
	rec := &recorder{}

	payload := &plugin.Event{
		Name: "signup",
		Properties: map[string]any{
			"API_Key": "k",
			"UserId":  "u-1",
		},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	props := rec.calls[0].(*plugin.Event).Properties
	if _, ok := props["API_Key"]; ok {
		t.Fatalf("API_Key not removed")
	}
	if _, ok := props["UserId_hash"]; !ok {
		t.Fatalf("UserId not hashed: %v", props)
	}
}

func TestPrivacyHashesIdentityUserID(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{})
	rec := &recorder{}

	payload := &plugin.Identity{
		UserID: "u-42",
		Traits: map[string]any{"email": "a@example.com"},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	id := rec.calls[0].(*plugin.Identity)
	if id.UserID != sha256Hex("u-42") {
		t.Fatalf("UserID = %q, want sha256 digest", id.UserID)
	}
	if _, ok := id.Traits["email_hash"]; !ok {
		t.Fatalf("traits email not hashed")
	}
	if payload.UserID != "u-42" {
		t.Fatalf("original identity mutated")
	}
}

func TestPrivacyManyHashFields(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{})
	rec := &recorder{}

	payload := &plugin.Event{
		Name: "signup",
		Properties: map[string]any{
			"email":     "a@example.com",
			"phone":     "555-0100",
			"device_id": "d-1",
			"user_id":   "u-1",
			"plan":      "pro",
		},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	props := rec.calls[0].(*plugin.Event).Properties
	want := map[string]string{
		"email_hash":     sha256Hex("a@example.com"),
		"phone_hash":     sha256Hex("555-0100"),
		"device_id_hash": sha256Hex("d-1"),
		"user_id_hash":   sha256Hex("u-1"),
	}
	if len(props) != len(want)+1 {
		t.Fatalf("scrubbed keys = %v, want the 4 digests plus plan", props)
	}
	for key, digest := range want {
		if props[key] != digest {
			t.Fatalf("%s = %v, want digest of the original value", key, props[key])
		}
	}
	if props["plan"] != "pro" {
		t.Fatalf("safe field modified: %v", props["plan"])
	}
}

func TestPrivacyGeneratedKeysNotRescrubbed(t *testing.T) {
	// email_hash is itself configured as a hash field; the digest inserted
	// for email must never be picked up and hashed again.
	m := NewPrivacy(PrivacyConfig{HashFields: []string{"email", "email_hash"}})

	for i := 0; i < 50; i++ {
		rec := &recorder{}
		payload := &plugin.Event{
			Name:       "signup",
			Properties: map[string]any{"email": "a@example.com"},
		}
		if err := m.Process(context.Background(), payload, rec.next); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		props := rec.calls[0].(*plugin.Event).Properties
		if len(props) != 1 || props["email_hash"] != sha256Hex("a@example.com") {
			t.Fatalf("scrubbed properties = %v, want single-pass email digest", props)
		}
	}
}

func TestPrivacyCustomSanitizer(t *testing.T) {
	m := NewPrivacy(PrivacyConfig{
		Sanitizer: func(props map[string]any) map[string]any {
			delete(props, "internal")
			return props
		},
	})
	rec := &recorder{}

	payload := &plugin.Event{
		Name:       "signup",
		Properties: map[string]any{"internal": "x", "plan": "pro"},
	}
	if err := m.Process(context.Background(), payload, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	props := rec.calls[0].(*plugin.Event).Properties
	if _, ok := props["internal"]; ok {
		t.Fatalf("sanitizer not applied")
	}
	if props["plan"] != "pro" {
		t.Fatalf("unrelated field removed")
	}
}
