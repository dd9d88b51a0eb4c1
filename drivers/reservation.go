package drivers

import "sync"

// Mode is the purpose a pin is claimed for. A pin can be claimed by many
// clients in the same mode, never by two modes at once.
type Mode int

const (
	ModeMonitor Mode = iota
	ModeDrive
)

func (m Mode) String() string {
	if m == ModeDrive {
		return "drive"
	}
	return "monitor"
}

type reservation struct {
	mode  Mode
	count int
}

// ReservationTable tracks pin claims for one device handle.
type ReservationTable struct {
	mu   sync.Mutex
	pins map[uint8]*reservation
}

func NewReservationTable() *ReservationTable {
	return &ReservationTable{pins: make(map[uint8]*reservation)}
}

// Reserve claims pin for mode. A claim in the other mode rejects the request
// and leaves the table untouched.
func (rt *ReservationTable) Reserve(pin uint8, mode Mode) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	held, found := rt.pins[pin]
	if !found {
		rt.pins[pin] = &reservation{mode: mode, count: 1}
		return true
	}

	if held.mode != mode {
		return false
	}

	held.count++
	return true
}

// Release drops one claim on pin, removing the entry when the last claim
// goes. Callers guarantee balance with Reserve; an unmatched release is a
// no-op, the count never goes negative.
func (rt *ReservationTable) Release(pin uint8) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	held, found := rt.pins[pin]
	if !found {
		return
	}

	held.count--
	if held.count <= 0 {
		delete(rt.pins, pin)
	}
}

// Claim reports the mode and claim count for pin.
func (rt *ReservationTable) Claim(pin uint8) (Mode, int, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	held, found := rt.pins[pin]
	if !found {
		return ModeMonitor, 0, false
	}
	return held.mode, held.count, true
}
