package mcpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/mcpkit/drivers"
	"github.com/hubertat/mcpkit/mqtt"
)

const defaultPollIntervalMs = 100
const minPollIntervalMs = 20

const modeDriveName = "input"

// ErrPinInUse marks a reservation conflict: the pin is already claimed in the
// other mode by another client.
var ErrPinInUse = errors.New("pin already in use in a different mode")

// State tracks where a client is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateValidating
	StateReserving
	StateActive
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValidating:
		return "validating"
	case StateReserving:
		return "reserving"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Client owns one logical pin of one expander. In monitor mode it polls the
// pin and emits on change; in drive mode it writes inbound 0/1 payloads and
// echoes them. The zero value plus config fields is ready for Start.
type Client struct {
	Name         string
	Address      Address
	Pin          *int
	Mode         string
	PollInterval Interval
	Pullup       Flag
	Sda          *int
	Scl          *int

	DisableHomeKit bool

	Translate Translator   `json:"-"`
	OnStatus  func(Status) `json:"-"`

	mu        sync.Mutex
	state     State
	claim     drivers.Mode
	bus       uint8
	pinNo     uint8
	interval  time.Duration
	cache     *drivers.HandleCache
	handle    *drivers.Handle
	handleKey string
	reserved  bool
	pin       *drivers.PinController
	lastValue int
	status    Status
	done      chan struct{}
	ticker    *time.Ticker
	publisher mqtt.Publisher
	record    func(value int)
	logger    *log.Logger

	hk       *accessory.A
	hkMotion *service.MotionSensor
	hkSwitch *service.Switch
}

type emission struct {
	Payload int `json:"payload"`
}

func (cl *Client) driveMode() bool {
	return strings.EqualFold(cl.Mode, modeDriveName)
}

func (cl *Client) prepare(bus uint8, logger *log.Logger, translate Translator, record func(int)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.bus = bus
	cl.logger = logger
	if cl.Translate == nil {
		cl.Translate = translate
	}
	cl.record = record

	if len(cl.Name) == 0 && cl.Address.IsSet() && cl.Pin != nil {
		cl.Name = fmt.Sprintf("0x%02x-pin%d", cl.Address.Value(), *cl.Pin)
	}
}

// SetMqtt wires the publisher used for emissions. Drive clients also act as
// message handlers for their set topic.
func (cl *Client) SetMqtt(publisher mqtt.Publisher) []mqtt.MqttHandler {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.publisher = publisher
	if cl.driveMode() {
		return []mqtt.MqttHandler{cl}
	}
	return nil
}

func (cl *Client) StateTopic() string {
	return "mcpkit/" + cl.Name + "/state"
}

func (cl *Client) MqttSubscribeTopic() string {
	return "mcpkit/" + cl.Name + "/set"
}

func (cl *Client) identity() drivers.Identity {
	return drivers.Identity{
		Bus:     cl.bus,
		Address: uint8(cl.Address.Value()),
		SDA:     cl.Sda,
		SCL:     cl.Scl,
	}
}

// Start runs the client through validation, reservation and activation. A
// failure at any stage releases whatever was acquired and leaves the client
// failed without affecting other clients.
func (cl *Client) Start(ctx context.Context, cache *drivers.HandleCache) error {
	deliver, err := cl.start(ctx, cache)
	if deliver != nil {
		deliver()
	}
	return err
}

func (cl *Client) start(ctx context.Context, cache *drivers.HandleCache) (func(), error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.state == StateActive {
		return nil, errors.Errorf("client %s already started", cl.Name)
	}
	if cl.logger == nil {
		cl.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "mcpkit"})
	}

	cl.state = StateValidating
	cl.lastValue = -1
	cl.setStatusLocked(LevelWarn, "status.initializing", "initializing")

	err := cl.validateLocked()
	if err != nil {
		cl.state = StateFailed
		cl.setStatusLocked(LevelError, "status.invalid-config", "invalid-config")
		return nil, errors.Wrapf(err, "invalid configuration for client %s", cl.Name)
	}

	cl.state = StateReserving
	cl.cache = cache
	cl.handle, cl.handleKey, err = cache.Acquire(cl.identity())
	if err != nil {
		cl.cache = nil
		cl.state = StateFailed
		cl.setStatusLocked(LevelError, "status.error", "error")
		return nil, errors.Wrapf(err, "failed to acquire device for client %s", cl.Name)
	}

	if !cl.handle.Reservations.Reserve(cl.pinNo, cl.claim) {
		cl.releaseLocked()
		cl.state = StateFailed
		cl.setStatusLocked(LevelError, "status.pin-in-use", "pin-in-use")
		return nil, errors.Wrapf(ErrPinInUse, "client %s, pin %d", cl.Name, cl.pinNo)
	}
	cl.reserved = true
	cl.pin = cl.handle.Pin(cl.pinNo)

	var deliver func()
	if cl.claim == drivers.ModeDrive {
		deliver, err = cl.startDriveLocked()
	} else {
		deliver, err = cl.startMonitorLocked(ctx)
	}
	if err != nil {
		cl.releaseLocked()
		cl.state = StateFailed
		cl.setStatusLocked(LevelError, "status.error", "error")
		return nil, err
	}

	cl.state = StateActive
	return deliver, nil
}

func (cl *Client) validateLocked() error {
	if !cl.Address.IsSet() {
		return errors.New("address is required")
	}
	if cl.Address.Value() < 0 || cl.Address.Value() > 0x7f {
		return errors.Errorf("address 0x%02x outside the 7-bit bus range", cl.Address.Value())
	}
	if cl.Pin == nil {
		return errors.New("pin is required")
	}
	if *cl.Pin < 0 || *cl.Pin > 15 {
		return errors.Errorf("pin index %d outside [0, 15]", *cl.Pin)
	}
	cl.pinNo = uint8(*cl.Pin)

	cl.claim = drivers.ModeMonitor
	if cl.driveMode() {
		cl.claim = drivers.ModeDrive
	}

	intervalMs := defaultPollIntervalMs
	if cl.PollInterval.IsSet() {
		intervalMs = cl.PollInterval.Ms()
	}
	if intervalMs < minPollIntervalMs {
		intervalMs = minPollIntervalMs
	}
	cl.interval = time.Duration(intervalMs) * time.Millisecond

	if len(cl.Name) == 0 {
		cl.Name = fmt.Sprintf("0x%02x-pin%d", cl.Address.Value(), cl.pinNo)
	}

	return nil
}

func (cl *Client) startMonitorLocked(ctx context.Context) (func(), error) {
	dir := drivers.DirInput
	if bool(cl.Pullup) {
		dir = drivers.DirInputPullup
	}

	err := cl.pin.SetMode(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set pin %d to %s", cl.pinNo, dir)
	}
	cl.setStatusLocked(LevelOk, "status.monitoring", "monitoring")

	// First read is emitted unconditionally; a failure this early is terminal.
	value, err := cl.pin.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "initial read of pin %d failed", cl.pinNo)
	}
	deliver := cl.emitLocked(int(value))

	cl.done = make(chan struct{})
	cl.ticker = time.NewTicker(cl.interval)
	go cl.pollLoop(ctx, cl.done, cl.ticker)

	return deliver, nil
}

func (cl *Client) startDriveLocked() (func(), error) {
	err := cl.pin.SetMode(drivers.DirOutput)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set pin %d to output", cl.pinNo)
	}
	cl.setStatusLocked(LevelOk, "status.ready", "ready")

	// Best effort: report whatever the pin is at right now.
	value, err := cl.pin.Read()
	if err == nil && value <= 1 {
		return cl.emitLocked(int(value)), nil
	}

	return nil, nil
}

func (cl *Client) pollLoop(ctx context.Context, done chan struct{}, ticker *time.Ticker) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl.pollOnce()
		}
	}
}

// pollOnce reads the pin and emits when the value changed since the last
// emission. A tick that fires after Stop finds the pin gone and does nothing.
func (cl *Client) pollOnce() {
	cl.mu.Lock()

	if cl.state != StateActive || cl.pin == nil {
		cl.mu.Unlock()
		return
	}

	value, err := cl.pin.Read()
	if err != nil {
		cl.setStatusLocked(LevelError, "status.error", "error")
		cl.logger.Error("pin read failed", "client", cl.Name, "pin", cl.pinNo, "err", err)
		cl.mu.Unlock()
		return
	}

	if int(value) == cl.lastValue {
		cl.mu.Unlock()
		return
	}
	deliver := cl.emitLocked(int(value))
	cl.mu.Unlock()
	deliver()
}

// HandleSet writes value to a drive-mode pin and echoes it. Shared by the
// MQTT set topic and the HomeKit switch.
func (cl *Client) HandleSet(value int) error {
	cl.mu.Lock()

	if cl.state != StateActive || cl.pin == nil || cl.claim != drivers.ModeDrive {
		cl.mu.Unlock()
		return errors.Errorf("client %s is not driving a pin", cl.Name)
	}

	err := cl.pin.Write(uint8(value))
	if err != nil {
		cl.setStatusLocked(LevelError, "status.error", "error")
		cl.logger.Error("pin write failed", "client", cl.Name, "pin", cl.pinNo, "err", err)
		cl.mu.Unlock()
		return errors.Wrapf(err, "failed to write pin %d", cl.pinNo)
	}

	deliver := cl.emitLocked(value)
	cl.mu.Unlock()
	deliver()
	return nil
}

func (cl *Client) MqttHandle(pub *paho.Publish) {
	value, err := parsePayload(pub.Payload)
	if err != nil {
		cl.logger.Warn("dropping message", "client", cl.Name, "topic", pub.Topic, "err", err)
		return
	}

	_ = cl.HandleSet(value)
}

// parsePayload accepts {"payload":0|1} or a bare 0/1 body. Numbers that
// denote exactly 0 or 1 count, 1.0 included. Anything else, quoted numbers,
// fractions, booleans and null, is rejected.
func parsePayload(body []byte) (int, error) {
	token := bytes.TrimSpace(body)
	if len(token) > 0 && token[0] == '{' {
		var msg struct {
			Payload json.RawMessage `json:"payload"`
		}
		err := json.Unmarshal(token, &msg)
		if err != nil {
			return 0, errors.Wrap(err, "unreadable message")
		}
		token = bytes.TrimSpace(msg.Payload)
	}

	number, err := strconv.ParseFloat(string(token), 64)
	if err == nil {
		switch number {
		case 0:
			return 0, nil
		case 1:
			return 1, nil
		}
	}
	return 0, errors.Errorf("payload must be the integer 0 or 1, got %q", token)
}

// emitLocked updates the in-memory state for a freshly read or written value
// and returns the delivery step. Callers run the returned func after dropping
// the lock; a slow broker or recorder must not stall Stop or the next tick.
func (cl *Client) emitLocked(value int) func() {
	cl.lastValue = value

	text := "0"
	if value == 1 {
		text = "1"
	}
	cl.setStatusLocked(LevelOk, "", text)

	if cl.hkMotion != nil {
		cl.hkMotion.MotionDetected.SetValue(value == 1)
	}
	if cl.hkSwitch != nil {
		cl.hkSwitch.On.SetValue(value == 1)
	}

	publisher := cl.publisher
	record := cl.record
	topic := cl.StateTopic()
	name := cl.Name
	logger := cl.logger

	return func() {
		if publisher != nil {
			payload, _ := json.Marshal(emission{Payload: value})
			err := publisher.Publish(topic, payload)
			if err != nil {
				logger.Error("failed to publish state", "client", name, "err", err)
			}
		}
		if record != nil {
			record(value)
		}
	}
}

func (cl *Client) setStatusLocked(level Level, key, fallback string) {
	cl.status = Status{Level: level, Text: resolveText(cl.Translate, key, fallback)}
	if cl.OnStatus != nil {
		cl.OnStatus(cl.status)
	}
}

func (cl *Client) releaseLocked() {
	if cl.reserved && cl.handle != nil {
		cl.handle.Reservations.Release(cl.pinNo)
	}
	cl.reserved = false

	if cl.cache != nil && len(cl.handleKey) > 0 {
		cl.cache.Release(cl.handleKey)
	}
	cl.handleKey = ""
	cl.handle = nil
	cl.cache = nil
	cl.pin = nil
}

// Stop cancels polling, releases the reservation and the device handle
// reference, and clears local references. Safe to call from any state, any
// number of times.
func (cl *Client) Stop() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.state == StateStopped {
		return
	}

	if cl.ticker != nil {
		cl.ticker.Stop()
		cl.ticker = nil
	}
	if cl.done != nil {
		close(cl.done)
		cl.done = nil
	}

	cl.releaseLocked()
	cl.state = StateStopped
}

func (cl *Client) State() State {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.state
}

func (cl *Client) Status() Status {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.status
}

// LastValue reports the last emitted or driven value, -1 when none yet.
func (cl *Client) LastValue() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.lastValue
}

func (cl *Client) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Client_" + cl.Name))
	return hash.Sum64()
}

// GetHk builds the HomeKit accessory for this client: a motion sensor for
// monitors, a switch for drives.
func (cl *Client) GetHk() *accessory.A {
	if cl.DisableHomeKit {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.driveMode() {
		sw := accessory.NewSwitch(accessory.Info{
			Name: cl.Name,
		})
		sw.Switch.On.OnValueRemoteUpdate(func(on bool) {
			value := 0
			if on {
				value = 1
			}
			_ = cl.HandleSet(value)
		})
		cl.hkSwitch = sw.Switch
		cl.hk = sw.A
	} else {
		cl.hk = accessory.New(accessory.Info{
			Name: cl.Name,
		}, accessory.TypeSensor)
		cl.hkMotion = service.NewMotionSensor()
		cl.hk.AddS(cl.hkMotion.S)
	}

	return cl.hk
}

type ClientSnapshot struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Status Status `json:"status"`
	Value  *int   `json:"value,omitempty"`
}

func (cl *Client) Snapshot() ClientSnapshot {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	snapshot := ClientSnapshot{
		Name:   cl.Name,
		State:  cl.state.String(),
		Status: cl.status,
	}
	if cl.lastValue >= 0 {
		value := cl.lastValue
		snapshot.Value = &value
	}
	return snapshot
}
