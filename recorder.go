package mcpkit

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultInfluxMeasurement = "pin_state"

// InfluxRecorder writes every emission as a point, tagged with the client
// name, the canonical device key and the pin number.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Token        string
	Measurement  string

	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func (ir *InfluxRecorder) Init() error {
	if len(ir.Host) == 0 {
		return errors.New("influx host not set")
	}
	if len(ir.Measurement) == 0 {
		ir.Measurement = defaultInfluxMeasurement
	}

	ir.client = influxdb2.NewClient(ir.Host, ir.Token)
	ir.write = ir.client.WriteAPIBlocking(ir.Organization, ir.Bucket)

	return nil
}

func (ir *InfluxRecorder) Record(client string, device string, pin uint8, value int) error {
	if ir.write == nil {
		return errors.New("influx recorder not initialized")
	}

	point := influxdb2.NewPoint(ir.Measurement,
		map[string]string{
			"client": client,
			"device": device,
			"pin":    strconv.Itoa(int(pin)),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now())

	return ir.write.WritePoint(context.Background(), point)
}

func (ir *InfluxRecorder) Close() {
	if ir.client != nil {
		ir.client.Close()
		ir.client = nil
		ir.write = nil
	}
}
