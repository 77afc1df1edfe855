package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/beaconkit/beacon/pkg/loader"
	"github.com/beaconkit/beacon/plugin"
)

func TestConsoleDispatch(t *testing.T) {
	c := NewConsole(log.New(io.Discard, "", 0))
	ctx := context.Background()

	if c.Loaded() {
		t.Fatalf("Loaded() = true before Initialize")
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !c.Loaded() {
		t.Fatalf("Loaded() = false after Initialize")
	}

	if err := c.Track(ctx, &plugin.Event{Name: "signup"}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := c.Page(ctx, &plugin.PageView{Path: "/home"}); err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if err := c.Identify(ctx, &plugin.Identity{UserID: "u-1"}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
}

func TestDebugCapture(t *testing.T) {
	d := NewDebug()
	ctx := context.Background()

	if err := d.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	event := &plugin.Event{Name: "signup", Properties: map[string]any{"plan": "pro"}}
	if err := d.Track(ctx, event); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := d.Page(ctx, &plugin.PageView{Path: "/home"}); err != nil {
		t.Fatalf("Page() error = %v", err)
	}

	calls := d.Calls()
	if len(calls) != 2 {
		t.Fatalf("captured %d calls, want 2", len(calls))
	}
	if calls[0].Method != plugin.MethodTrack || calls[1].Method != plugin.MethodPage {
		t.Fatalf("capture order = %v, %v", calls[0].Method, calls[1].Method)
	}
	if calls[0].ID == "" || calls[0].ID == calls[1].ID {
		t.Fatalf("capture ids not unique: %q %q", calls[0].ID, calls[1].ID)
	}

	// Mutating the original after capture must not affect the snapshot
	event.Properties["plan"] = "free"
	if got := d.Calls()[0].Payload.(*plugin.Event).Properties["plan"]; got != "pro" {
		t.Fatalf("capture shares state with caller: plan = %v", got)
	}

	d.Reset()
	if len(d.Calls()) != 0 {
		t.Fatalf("Reset() did not clear captures")
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k"}})
	ctx := context.Background()

	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !w.Loaded() {
		t.Fatalf("Loaded() = false after Initialize")
	}

	now := time.Now()
	if err := w.Track(ctx, &plugin.Event{Name: "signup", Timestamp: now}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := w.Identify(ctx, &plugin.Identity{UserID: "u-1", Timestamp: now}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("received %d posts, want 2", len(bodies))
	}
	if bodies[0]["type"] != "track" || bodies[0]["name"] != "signup" {
		t.Fatalf("track body = %v", bodies[0])
	}
	if bodies[1]["type"] != "identify" || bodies[1]["userId"] != "u-1" {
		t.Fatalf("identify body = %v", bodies[1])
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(WebhookConfig{URL: srv.URL})
	ctx := context.Background()
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := w.Track(ctx, &plugin.Event{Name: "signup"}); err == nil {
		t.Fatalf("Track() expected error on 502")
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	w := NewWebhook(WebhookConfig{})
	if err := w.Initialize(context.Background()); err == nil {
		t.Fatalf("Initialize() expected error without URL")
	}
	if w.Loaded() {
		t.Fatalf("Loaded() = true after failed Initialize")
	}
}

func TestWebhookSDKWarmup(t *testing.T) {
	fetched := 0
	l := loader.New(func(ctx context.Context, src string) error {
		fetched++
		return nil
	})

	w := NewWebhook(WebhookConfig{URL: "http://example.com/hook", SDKSrc: "http://vendor/sdk.js", Loader: l})
	if err := w.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if fetched != 1 {
		t.Fatalf("sdk fetched %d times, want 1", fetched)
	}
	if !l.IsLoaded("webhook") {
		t.Fatalf("loader state missing webhook resource")
	}
	if !w.Loaded() {
		t.Fatalf("Loaded() = false after sdk warmup")
	}
}

func TestWebhookSDKFailureBlocksLoaded(t *testing.T) {
	l := loader.New(func(ctx context.Context, src string) error {
		return errors.New("vendor down")
	})

	w := NewWebhook(WebhookConfig{
		URL:    "http://example.com/hook",
		SDKSrc: "http://vendor/sdk.js",
		Loader: l,
	})
	if err := w.Initialize(context.Background()); err == nil {
		t.Fatalf("Initialize() expected error when sdk load fails")
	}
	if w.Loaded() {
		t.Fatalf("Loaded() = true after failed sdk load")
	}
}

func TestServerLogRecords(t *testing.T) {
	var records []Record
	s := NewServerLog(func(ctx context.Context, r Record) error {
		records = append(records, r)
		return nil
	})
	ctx := context.Background()

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := s.Track(ctx, &plugin.Event{Name: "signup"}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := s.Page(ctx, &plugin.PageView{Path: "/home"}); err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if err := s.Identify(ctx, &plugin.Identity{UserID: "u-1"}); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("callback received %d records, want 3", len(records))
	}
	if records[0].Name != "signup" || records[1].Path != "/home" || records[2].UserID != "u-1" {
		t.Fatalf("records = %+v", records)
	}
}

func TestServerLogRequiresCallback(t *testing.T) {
	s := NewServerLog(nil)
	if err := s.Initialize(context.Background()); err == nil {
		t.Fatalf("Initialize() expected error without callback")
	}
}

func TestServerLogPropagatesError(t *testing.T) {
	wantErr := errors.New("db down")
	s := NewServerLog(func(ctx context.Context, r Record) error { return wantErr })

	if err := s.Track(context.Background(), &plugin.Event{Name: "signup"}); !errors.Is(err, wantErr) {
		t.Fatalf("Track() error = %v, want %v", err, wantErr)
	}
}

type captureKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
	err    error
}

func (c *captureKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureKafkaWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublishes(t *testing.T) {
	capture := &captureKafkaWriter{}
	k := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"})
	k.writer = capture
	ctx := context.Background()

	if err := k.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := k.Track(ctx, &plugin.Event{Name: "signup"}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if err := k.Page(ctx, &plugin.PageView{Path: "/home"}); err != nil {
		t.Fatalf("Page() error = %v", err)
	}

	if len(capture.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(capture.msgs))
	}
	if string(capture.msgs[0].Key) != "track" {
		t.Fatalf("message key = %q, want track", capture.msgs[0].Key)
	}
	var ev plugin.Event
	if err := json.Unmarshal(capture.msgs[0].Value, &ev); err != nil {
		t.Fatalf("message value not valid JSON: %v", err)
	}
	if ev.Name != "signup" {
		t.Fatalf("published event name = %q", ev.Name)
	}

	if err := k.Destroy(ctx); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if !capture.closed {
		t.Fatalf("Destroy() did not close the writer")
	}
}

func TestKafkaConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{name: "no brokers", cfg: KafkaConfig{Topic: "events"}},
		{name: "no topic", cfg: KafkaConfig{Brokers: []string{"localhost:9092"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewKafka(tt.cfg)
			if err := k.Initialize(context.Background()); err == nil {
				t.Fatalf("Initialize() expected error")
			}
		})
	}
}
