package drivers

import (
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

// Direction selects how a single expander pin is configured.
type Direction int

const (
	DirInput Direction = iota
	DirInputPullup
	DirOutput
)

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirInputPullup:
		return "input-pullup"
	case DirOutput:
		return "output"
	}
	return "unknown"
}

// Expander is one live connection to a 16-pin port expander chip.
type Expander interface {
	SetDirection(pin uint8, dir Direction) error
	Read(pin uint8) (uint8, error)
	Write(pin uint8, value uint8) error
	Close() error
}

// Opener constructs the Expander for an identity. The HandleCache calls it
// exactly once per live identity.
type Opener func(id Identity) (Expander, error)

// mcp23017 chips answer on 0x20 plus the three hardware address pins.
const mcpBaseAddress uint8 = 0x20

// OpenMcp23017 returns the production Opener for MCP23017 chips on the given
// i2c bus number. Linux i2c-dev has fixed bus pins, so identities carrying
// sda/scl overrides are rejected here rather than silently ignored.
func OpenMcp23017(bus uint8) Opener {
	return func(id Identity) (Expander, error) {
		if id.SDA != nil || id.SCL != nil {
			return nil, errors.Errorf("mcp23017 on i2c-dev bus %d does not support sda/scl overrides", bus)
		}
		if id.Address < mcpBaseAddress || id.Address > mcpBaseAddress+7 {
			return nil, errors.Errorf("address 0x%02x outside the mcp23017 range [0x20, 0x27]", id.Address)
		}
		device, err := mcp23017.Open(bus, id.Address-mcpBaseAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open mcp23017 at 0x%02x on bus %d", id.Address, bus)
		}
		return &mcpExpander{device: device}, nil
	}
}

type mcpExpander struct {
	device *mcp23017.Device
}

func (me *mcpExpander) SetDirection(pin uint8, dir Direction) error {
	switch dir {
	case DirInput, DirInputPullup:
		err := me.device.PinMode(pin, mcp23017.INPUT)
		if err != nil {
			return err
		}
		return me.device.SetPullUp(pin, dir == DirInputPullup)
	case DirOutput:
		return me.device.PinMode(pin, mcp23017.OUTPUT)
	}

	return errors.Errorf("unknown pin direction: %d", dir)
}

func (me *mcpExpander) Read(pin uint8) (uint8, error) {
	level, err := me.device.DigitalRead(pin)
	if err != nil {
		return 0, err
	}
	if bool(level) {
		return 1, nil
	}
	return 0, nil
}

func (me *mcpExpander) Write(pin uint8, value uint8) error {
	return me.device.DigitalWrite(pin, mcp23017.PinLevel(value > 0))
}

func (me *mcpExpander) Close() error {
	return me.device.Close()
}
