package drivers

import "testing"

func TestPinControllerPassThrough(t *testing.T) {
	device := NewMockExpander()
	handle := &Handle{device: device, Reservations: NewReservationTable()}

	pin := handle.Pin(4)

	err := pin.SetMode(DirInputPullup)
	if err != nil {
		t.Fatalf("unexpected SetMode error: %v", err)
	}
	dir, found := device.Direction(4)
	assertBools(t, found, true)
	assertInts(t, int(dir), int(DirInputPullup))

	device.SetLevel(4, 1)
	value, err := pin.Read()
	if err != nil {
		t.Fatalf("unexpected Read error: %v", err)
	}
	assertInts(t, int(value), 1)

	err = pin.Write(0)
	if err != nil {
		t.Fatalf("unexpected Write error: %v", err)
	}
	writes := device.Writes()
	assertInts(t, len(writes), 1)
	assertInts(t, int(writes[0].Pin), 4)
	assertInts(t, int(writes[0].Value), 0)
}

func TestPinControllerPropagatesErrors(t *testing.T) {
	device := NewMockExpander()
	handle := &Handle{device: device, Reservations: NewReservationTable()}
	pin := handle.Pin(9)

	device.FailDirection = true
	if pin.SetMode(DirOutput) == nil {
		t.Error("expected SetMode to propagate the device error")
	}

	device.FailRead = true
	if _, err := pin.Read(); err == nil {
		t.Error("expected Read to propagate the device error")
	}

	device.FailWrite = true
	if pin.Write(1) == nil {
		t.Error("expected Write to propagate the device error")
	}
}
