package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/mcpkit"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")

	kitService = servicemaker.ServiceMaker{
		User:               "mcpkit",
		UserGroups:         []string{"i2c"},
		ServicePath:        "/etc/systemd/system/mcpkit.service",
		ServiceDescription: "mcpkit service: shared MCP23017 pin monitor/driver. github.com/hubertat",
		ExecDir:            "/srv/mcpkit",
		ExecName:           "mcpkit",
	}
)

func main() {
	log.Printf("mcpkit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := kitService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kit := &mcpkit.Kit{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v\n", err)
		}

		err = json.Unmarshal(cBuff, kit)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}

	log.Println("will start mcpkit clients...")
	err = kit.Start(ctx)
	defer kit.Close()
	if err != nil {
		panic(err)
	}

	if len(kit.HkPin) == 8 {
		log.Println("Starting with HomeKit server")
		log.Fatal(kit.StartHomeKit(ctx, Version))
	}

	log.Println("HomeKit not configured, disabled")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)
	<-c
}
