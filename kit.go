package mcpkit

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/mcpkit/drivers"
	"github.com/hubertat/mcpkit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "mcpkit"
const homeKitBridgeAuthor = "github.com/hubertat"

const statusHTTPTimeout = 3 * time.Second

// Kit is the configuration root: every claimed expander pin, the shared
// handle cache behind them, and the optional MQTT, HomeKit, Influx and HTTP
// status surfaces.
type Kit struct {
	Name string
	Bus  uint8

	Pins []*Client

	MqttBroker string
	StatusAddr string

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	Influx *InfluxRecorder

	Translate Translator     `json:"-"`
	Opener    drivers.Opener `json:"-"`

	cache        *drivers.HandleCache
	mqttClient   *mqtt.MqttClient
	statusServer *http.Server
	logger       *log.Logger
}

// Start brings the kit up. A client that fails to start (bad config, pin
// conflict, dead device) is logged and left failed; the others keep running.
func (kit *Kit) Start(ctx context.Context) error {
	if kit.logger == nil {
		kit.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "mcpkit"})
	}

	open := kit.Opener
	if open == nil {
		open = drivers.OpenMcp23017(kit.Bus)
	}
	kit.cache = drivers.NewHandleCache(open)

	if kit.Influx != nil {
		err := kit.Influx.Init()
		if err != nil {
			return errors.Wrap(err, "failed to init influx recorder")
		}
	}

	for _, client := range kit.Pins {
		kit.attach(client)
	}

	handlers := []mqtt.MqttHandler{}
	if len(kit.MqttBroker) > 0 {
		mc, err := mqtt.NewMqttClient(kit.MqttBroker, kit.clientId())
		if err != nil {
			return errors.Wrap(err, "failed to create mqtt client")
		}
		kit.mqttClient = mc

		for _, client := range kit.Pins {
			handlers = append(handlers, client.SetMqtt(mc)...)
		}
	}

	for _, client := range kit.Pins {
		err := client.Start(ctx, kit.cache)
		if err != nil {
			kit.logger.Error("client failed to start", "client", client.Name, "err", err)
		}
	}

	if kit.mqttClient != nil {
		err := kit.mqttClient.Connect(handlers)
		if err != nil {
			return errors.Wrap(err, "failed to connect to mqtt broker")
		}
	}

	if len(kit.StatusAddr) > 0 {
		kit.startStatusServer()
	}

	return nil
}

func (kit *Kit) clientId() string {
	if len(kit.Name) > 0 {
		return kit.Name
	}
	return homeKitBridgeName
}

func (kit *Kit) attach(client *Client) {
	var record func(int)
	if kit.Influx != nil {
		recorder := kit.Influx
		record = func(value int) {
			err := recorder.Record(client.Name, client.identity().Key(), client.pinNo, value)
			if err != nil {
				kit.logger.Error("failed to record emission", "client", client.Name, "err", err)
			}
		}
	}

	client.prepare(kit.Bus, kit.logger, kit.Translate, record)
}

func (kit *Kit) startStatusServer() {
	router := httprouter.New()
	router.GET("/status", kit.handleStatus)
	router.GET("/clients/:name", kit.handleClient)

	kit.statusServer = &http.Server{
		Addr:              kit.StatusAddr,
		Handler:           router,
		ReadTimeout:       statusHTTPTimeout,
		ReadHeaderTimeout: statusHTTPTimeout,
		WriteTimeout:      statusHTTPTimeout,
		IdleTimeout:       2 * statusHTTPTimeout,
	}

	go func() {
		err := kit.statusServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			kit.logger.Error("status server failed", "err", err)
		}
	}()
}

func (kit *Kit) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snapshots := []ClientSnapshot{}
	for _, client := range kit.Pins {
		snapshots = append(snapshots, client.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

func (kit *Kit) handleClient(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	for _, client := range kit.Pins {
		if client.Name == p.ByName("name") {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(client.Snapshot())
			return
		}
	}

	http.Error(w, "client not found", http.StatusNotFound)
}

// GetHkAccessories collects HomeKit accessories for all clients that expose
// one.
func (kit *Kit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, client := range kit.Pins {
		hkAccessory := client.GetHk()
		if hkAccessory == nil {
			continue
		}
		if hkAccessory.Info != nil && hkAccessory.Info.FirmwareRevision != nil {
			hkAccessory.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		hkAccessory.Id = client.GetUniqueId()
		acc = append(acc, hkAccessory)
	}

	return
}

// StartHomeKit runs the HomeKit bridge until ctx is cancelled or a signal
// arrives.
func (kit *Kit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := kit.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(kit.HkDirectory) > 1 {
		store = hap.NewFsStore(kit.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, kit.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = kit.HkPin
	if len(kit.HkAddress) > 0 {
		hkServer.Addr = kit.HkAddress
	}

	if kit.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		signal.Stop(c)
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}

// Close stops every client, releasing reservations and draining the handle
// cache, then shuts down the outer surfaces. Safe to call after a partial
// Start.
func (kit *Kit) Close() {
	for _, client := range kit.Pins {
		client.Stop()
	}

	if kit.statusServer != nil {
		kit.statusServer.Close()
		kit.statusServer = nil
	}

	if kit.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := kit.mqttClient.Disconnect(ctx)
		if err != nil {
			kit.logger.Debug("mqtt disconnect", "err", err)
		}
		kit.mqttClient = nil
	}

	if kit.Influx != nil {
		kit.Influx.Close()
	}
}

// Cache exposes the handle cache, mainly so callers can assert it drained.
func (kit *Kit) Cache() *drivers.HandleCache {
	return kit.cache
}
