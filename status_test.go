package mcpkit

import (
	"context"
	"testing"
)

func TestResolveTextFallback(t *testing.T) {
	assertStrings(t, resolveText(nil, "status.ready", "ready"), "ready")

	missing := func(key string) (string, bool) { return "", false }
	assertStrings(t, resolveText(missing, "status.ready", "ready"), "ready")

	polish := func(key string) (string, bool) {
		if key == "status.ready" {
			return "gotowy", true
		}
		return "", false
	}
	assertStrings(t, resolveText(polish, "status.ready", "ready"), "gotowy")
	assertStrings(t, resolveText(polish, "status.error", "error"), "error")
}

func TestClientStatusUsesTranslator(t *testing.T) {
	_, cache := testSetup()

	texts := map[string]string{
		"status.pin-in-use": "pin zajety",
	}
	translate := func(key string) (string, bool) {
		text, found := texts[key]
		return text, found
	}

	holder := &Client{Address: Addr(0x20), Pin: intPtr(3)}
	if err := holder.Start(context.Background(), cache); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	defer holder.Stop()

	conflicting := &Client{Address: Addr(0x20), Pin: intPtr(3), Mode: "input", Translate: translate}
	if err := conflicting.Start(context.Background(), cache); err == nil {
		t.Fatal("expected a reservation conflict")
	}

	assertStrings(t, conflicting.Status().Text, "pin zajety")
	if conflicting.Status().Level != LevelError {
		t.Errorf("expected error level, got %s", conflicting.Status().Level)
	}
}

func TestStatusTransitionsAreObservable(t *testing.T) {
	_, cache := testSetup()

	seen := []string{}
	client := &Client{Address: Addr(0x20), Pin: intPtr(3)}
	client.OnStatus = func(s Status) {
		seen = append(seen, s.Text)
	}

	if err := client.Start(context.Background(), cache); err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	defer client.Stop()

	want := []string{"initializing", "monitoring", "0"}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		assertStrings(t, seen[i], want[i])
	}
}
