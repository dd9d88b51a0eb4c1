package mcpkit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Address holds a device bus address taken from config, where it may appear
// as a number or as a decimal/hex numeric string. Junk leaves it unset;
// validation decides what unset means.
type Address struct {
	value int
	set   bool
}

func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var text string
		if json.Unmarshal(data, &text) != nil {
			return nil
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(text), 0, 32)
		if err != nil {
			return nil
		}
		a.value = int(parsed)
		a.set = true
		return nil
	}

	parsed, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return nil
	}
	a.value = int(parsed)
	a.set = true
	return nil
}

func (a Address) IsSet() bool {
	return a.set
}

func (a Address) Value() int {
	return a.value
}

// Addr builds a set Address, for configs assembled in code.
func Addr(value int) Address {
	return Address{value: value, set: true}
}

// Interval is a poll period in milliseconds. Absent or non-numeric values
// leave it unset and the default applies.
type Interval struct {
	ms  int
	set bool
}

func (iv *Interval) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	text := string(data)
	if data[0] == '"' {
		if json.Unmarshal(data, &text) != nil {
			return nil
		}
		text = strings.TrimSpace(text)
	}

	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	iv.ms = int(parsed)
	iv.set = true
	return nil
}

func (iv Interval) IsSet() bool {
	return iv.set
}

func (iv Interval) Ms() int {
	return iv.ms
}

// Every builds a set Interval.
func Every(ms int) Interval {
	return Interval{ms: ms, set: true}
}

// Flag is a boolean that also accepts the string "true".
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var value bool
	if json.Unmarshal(data, &value) == nil {
		*f = Flag(value)
		return nil
	}

	var text string
	if json.Unmarshal(data, &text) == nil {
		*f = Flag(strings.EqualFold(strings.TrimSpace(text), "true"))
	}
	return nil
}
