package drivers

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Identity names one physical expander chip: bus number, device address and
// optional bus pin overrides. Two clients with equal identities share one
// handle.
type Identity struct {
	Bus     uint8
	Address uint8
	SDA     *int
	SCL     *int
}

// Key renders the identity in canonical form. Unset overrides are omitted, so
// a nil override and an absent one produce the same key.
func (id Identity) Key() string {
	key := fmt.Sprintf("mcp/%d/0x%02x", id.Bus, id.Address)
	if id.SDA != nil {
		key += fmt.Sprintf("/sda%d", *id.SDA)
	}
	if id.SCL != nil {
		key += fmt.Sprintf("/scl%d", *id.SCL)
	}
	return key
}

// Handle is the shared, refcounted connection to one expander. All clients
// with the same identity hold the same handle; the underlying device stays
// open for as long as the longest-held reference.
type Handle struct {
	id     Identity
	device Expander
	refs   int

	Reservations *ReservationTable
}

func (h *Handle) Identity() Identity {
	return h.id
}

func (h *Handle) Refs() int {
	return h.refs
}

// Pin returns a controller for one logical pin of this handle's device.
func (h *Handle) Pin(pin uint8) *PinController {
	return &PinController{device: h.device, pin: pin}
}

// HandleCache maps canonical identity keys to live handles. Acquire and
// Release are the only mutators; the refcount check and entry removal happen
// under one lock so a concurrent Acquire can never observe a closed handle.
type HandleCache struct {
	open Opener

	mu      sync.Mutex
	handles map[string]*Handle
}

func NewHandleCache(open Opener) *HandleCache {
	return &HandleCache{
		open:    open,
		handles: make(map[string]*Handle),
	}
}

// Acquire returns the live handle for id, creating one on first use. The
// returned key must be passed back to Release exactly once.
func (hc *HandleCache) Acquire(id Identity) (*Handle, string, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	key := id.Key()
	handle, found := hc.handles[key]
	if found {
		handle.refs++
		return handle, key, nil
	}

	device, err := hc.open(id)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open device %s", key)
	}

	handle = &Handle{
		id:           id,
		device:       device,
		refs:         1,
		Reservations: NewReservationTable(),
	}
	hc.handles[key] = handle

	return handle, key, nil
}

// Release drops one reference to the handle under key. When the last
// reference goes, the device is closed and the entry removed; close errors
// are swallowed, release never fails.
func (hc *HandleCache) Release(key string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	handle, found := hc.handles[key]
	if !found {
		return
	}

	handle.refs--
	if handle.refs > 0 {
		return
	}

	_ = handle.device.Close()
	delete(hc.handles, key)
}

// Len reports the number of live handles.
func (hc *HandleCache) Len() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	return len(hc.handles)
}
