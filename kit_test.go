package mcpkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"

	"github.com/hubertat/mcpkit/drivers"
)

func mockKit(pins ...*Client) (*Kit, *drivers.MockBus) {
	bus := drivers.NewMockBus()
	return &Kit{
		Name:   "test-kit",
		Opener: bus.Open,
		Pins:   pins,
	}, bus
}

func TestKitStartsAllClients(t *testing.T) {
	kit, bus := mockKit(
		&Client{Name: "one", Address: Addr(0x20), Pin: intPtr(3)},
		&Client{Name: "two", Address: Addr(0x20), Pin: intPtr(5), Mode: "input"},
		&Client{Name: "other-chip", Address: Addr(0x21), Pin: intPtr(3)},
	)

	err := kit.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	defer kit.Close()

	for _, client := range kit.Pins {
		assertInts(t, int(client.State()), int(StateActive))
	}
	assertInts(t, bus.OpenedCount(), 2)
	assertInts(t, kit.Cache().Len(), 2)
}

func TestKitConflictLeavesOthersRunning(t *testing.T) {
	kit, _ := mockKit(
		&Client{Name: "holder", Address: Addr(0x20), Pin: intPtr(3)},
		&Client{Name: "loser", Address: Addr(0x20), Pin: intPtr(3), Mode: "input"},
		&Client{Name: "bystander", Address: Addr(0x20), Pin: intPtr(4)},
	)

	err := kit.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	defer kit.Close()

	assertInts(t, int(kit.Pins[0].State()), int(StateActive))
	assertInts(t, int(kit.Pins[1].State()), int(StateFailed))
	assertStrings(t, kit.Pins[1].Status().Text, "pin-in-use")
	assertInts(t, int(kit.Pins[2].State()), int(StateActive))
}

func TestKitCloseDrainsCache(t *testing.T) {
	kit, bus := mockKit(
		&Client{Name: "one", Address: Addr(0x20), Pin: intPtr(3)},
		&Client{Name: "two", Address: Addr(0x20), Pin: intPtr(3)},
	)

	err := kit.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}

	device, _ := bus.Device(drivers.Identity{Address: 0x20})
	kit.Close()

	assertInts(t, kit.Cache().Len(), 0)
	assertInts(t, device.CloseCount(), 1)
	for _, client := range kit.Pins {
		assertInts(t, int(client.State()), int(StateStopped))
	}
}

func TestStatusEndpoint(t *testing.T) {
	kit, _ := mockKit(
		&Client{Name: "one", Address: Addr(0x20), Pin: intPtr(3)},
		&Client{Name: "loser", Address: Addr(0x20), Pin: intPtr(3), Mode: "input"},
	)

	err := kit.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected Start error: %v", err)
	}
	defer kit.Close()

	t.Run("list", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		kit.handleStatus(recorder, httptest.NewRequest(http.MethodGet, "/status", nil), nil)

		snapshots := []ClientSnapshot{}
		err := json.NewDecoder(recorder.Body).Decode(&snapshots)
		if err != nil {
			t.Fatalf("failed to decode status response: %v", err)
		}

		assertInts(t, len(snapshots), 2)
		assertStrings(t, snapshots[0].Name, "one")
		assertStrings(t, snapshots[0].State, "active")
		assertInts(t, *snapshots[0].Value, 0)
		assertStrings(t, snapshots[1].State, "failed")
		assertStrings(t, snapshots[1].Status.Text, "pin-in-use")
	})

	t.Run("single client", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		params := httprouter.Params{{Key: "name", Value: "one"}}
		kit.handleClient(recorder, httptest.NewRequest(http.MethodGet, "/clients/one", nil), params)

		snapshot := ClientSnapshot{}
		err := json.NewDecoder(recorder.Body).Decode(&snapshot)
		if err != nil {
			t.Fatalf("failed to decode client response: %v", err)
		}
		assertStrings(t, snapshot.Name, "one")
	})

	t.Run("unknown client", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		params := httprouter.Params{{Key: "name", Value: "ghost"}}
		kit.handleClient(recorder, httptest.NewRequest(http.MethodGet, "/clients/ghost", nil), params)

		assertInts(t, recorder.Code, http.StatusNotFound)
	})
}
