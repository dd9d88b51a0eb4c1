package main

import (
	"context"
	"log"
	"time"

	"github.com/hubertat/mcpkit"
	"github.com/hubertat/mcpkit/drivers"
)

var (
	Version string
	Build   string
)

func intPtr(v int) *int {
	return &v
}

func main() {
	log.Println("mcpkit started")
	log.Println("mock instance for testing purposes, no hardware needed")

	bus := drivers.NewMockBus()

	kit := &mcpkit.Kit{
		Name:   "mcpkit-mock",
		Opener: bus.Open,
	}

	monitor := &mcpkit.Client{
		Name:         "fake-contact",
		Address:      mcpkit.Addr(0x20),
		Pin:          intPtr(3),
		Mode:         "output",
		PollInterval: mcpkit.Every(50),
	}
	driver := &mcpkit.Client{
		Name:    "fake-relay",
		Address: mcpkit.Addr(0x20),
		Pin:     intPtr(5),
		Mode:    "input",
	}
	conflicting := &mcpkit.Client{
		Name:    "doomed",
		Address: mcpkit.Addr(0x20),
		Pin:     intPtr(3),
		Mode:    "input",
	}
	monitor.OnStatus = func(s mcpkit.Status) {
		log.Printf("[%s] %s: %s", monitor.Name, s.Level, s.Text)
	}

	kit.Pins = []*mcpkit.Client{monitor, driver, conflicting}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := kit.Start(ctx)
	defer kit.Close()
	if err != nil {
		panic(err)
	}

	log.Printf("conflicting client state: %s, status: %+v", conflicting.State(), conflicting.Status())

	device, _ := bus.Device(drivers.Identity{Address: 0x20})

	log.Println("toggling the monitored pin a few times")
	for _, level := range []uint8{1, 1, 0, 1} {
		device.SetLevel(3, level)
		time.Sleep(120 * time.Millisecond)
	}

	err = driver.HandleSet(1)
	if err != nil {
		log.Println("drive failed:", err)
	}
	log.Printf("relay writes observed by the device: %+v", device.Writes())
}
