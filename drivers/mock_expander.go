package drivers

import (
	"sync"

	"github.com/pkg/errors"
)

// MockExpander is an in-memory expander for tests and cmd/mock. Pin levels
// are settable from outside, every write and direction change is recorded,
// and failures can be injected per operation.
type MockExpander struct {
	mu sync.Mutex

	levels     map[uint8]uint8
	directions map[uint8]Direction
	writes     []MockWrite

	FailRead      bool
	FailWrite     bool
	FailDirection bool
	FailClose     bool

	closed int
}

type MockWrite struct {
	Pin   uint8
	Value uint8
}

func NewMockExpander() *MockExpander {
	return &MockExpander{
		levels:     make(map[uint8]uint8),
		directions: make(map[uint8]Direction),
	}
}

func (mx *MockExpander) SetDirection(pin uint8, dir Direction) error {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	if mx.FailDirection {
		return errors.New("mock: direction failure")
	}
	mx.directions[pin] = dir
	return nil
}

func (mx *MockExpander) Read(pin uint8) (uint8, error) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	if mx.FailRead {
		return 0, errors.New("mock: read failure")
	}
	return mx.levels[pin], nil
}

func (mx *MockExpander) Write(pin uint8, value uint8) error {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	if mx.FailWrite {
		return errors.New("mock: write failure")
	}
	mx.levels[pin] = value
	mx.writes = append(mx.writes, MockWrite{Pin: pin, Value: value})
	return nil
}

func (mx *MockExpander) Close() error {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	mx.closed++
	if mx.FailClose {
		return errors.New("mock: close failure")
	}
	return nil
}

// SetLevel sets the level a following Read will observe.
func (mx *MockExpander) SetLevel(pin uint8, value uint8) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	mx.levels[pin] = value
}

func (mx *MockExpander) Direction(pin uint8) (Direction, bool) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	dir, found := mx.directions[pin]
	return dir, found
}

func (mx *MockExpander) Writes() []MockWrite {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	writes := make([]MockWrite, len(mx.writes))
	copy(writes, mx.writes)
	return writes
}

func (mx *MockExpander) CloseCount() int {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	return mx.closed
}

// MockBus hands out MockExpanders per identity and remembers every device it
// opened, keyed like the handle cache keys them.
type MockBus struct {
	mu       sync.Mutex
	opened   map[string]*MockExpander
	FailOpen bool
}

func NewMockBus() *MockBus {
	return &MockBus{opened: make(map[string]*MockExpander)}
}

func (mb *MockBus) Open(id Identity) (Expander, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.FailOpen {
		return nil, errors.New("mock: open failure")
	}

	device := NewMockExpander()
	mb.opened[id.Key()] = device
	return device, nil
}

// Device returns the expander opened for id, if any.
func (mb *MockBus) Device(id Identity) (*MockExpander, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	device, found := mb.opened[id.Key()]
	return device, found
}

func (mb *MockBus) OpenedCount() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return len(mb.opened)
}
