package drivers

// PinController wraps one logical pin of an expander. Failures propagate to
// the caller; retry policy belongs to whoever owns the pin.
type PinController struct {
	device Expander
	pin    uint8
}

func (pc *PinController) Number() uint8 {
	return pc.pin
}

func (pc *PinController) SetMode(dir Direction) error {
	return pc.device.SetDirection(pc.pin, dir)
}

func (pc *PinController) Read() (uint8, error) {
	return pc.device.Read(pc.pin)
}

func (pc *PinController) Write(value uint8) error {
	return pc.device.Write(pc.pin, value)
}
