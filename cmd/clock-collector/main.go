// clock-collector is a self-contained example collector plugin. It reports
// local-time sensors and doubles as a smoke-test target for the host.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/collector"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

var started = time.Now()

func metadata() protocol.CollectorMetadata {
	return protocol.CollectorMetadata{
		CollectorName: "junctionrelay.clock",
		DisplayName:   "Clock",
		Description:   "Local time, epoch and uptime sensors",
		Category:      "time",
		Emoji:         "🕒",
		Defaults: protocol.CollectorDefaults{
			Name:       "Clock",
			PollRateMs: 1000,
			SendRateMs: 1000,
		},
		Instructions: []protocol.SetupStep{
			{Title: "No setup required", Body: "The clock collector reads the host's local time."},
		},
	}
}

func fetchSensors(_ context.Context, config map[string]any) ([]protocol.Sensor, error) {
	now := time.Now()

	decimals := 2
	if v, ok := config["decimalPlaces"].(float64); ok {
		decimals = protocol.ClampDecimalPlaces(int(v))
	}

	return []protocol.Sensor{
		{
			UniqueSensorKey: "clock-datetime",
			Name:            "Local Time",
			Value:           now.Format(time.RFC3339),
			Category:        "time",
			SensorType:      "DateTime",
			ComponentName:   "clock",
			SensorTag:       "datetime",
		},
		{
			UniqueSensorKey: "clock-epoch",
			Name:            "Unix Epoch",
			Value:           strconv.FormatInt(now.Unix(), 10),
			Unit:            "s",
			Category:        "time",
			SensorType:      "Numeric",
			ComponentName:   "clock",
			SensorTag:       "epoch",
		},
		{
			UniqueSensorKey: "clock-timezone",
			Name:            "Timezone",
			Value:           now.Location().String(),
			Category:        "time",
			SensorType:      "Text",
			ComponentName:   "clock",
			SensorTag:       "timezone",
		},
		{
			UniqueSensorKey: "clock-uptime",
			Name:            "Collector Uptime",
			Value:           protocol.FormatValue(time.Since(started).Seconds(), decimals),
			Unit:            "s",
			Category:        "time",
			DecimalPlaces:   decimals,
			SensorType:      "Numeric",
			ComponentName:   "clock",
			SensorTag:       "uptime",
		},
	}, nil
}

func main() {
	err := collector.Serve(collector.Config{
		Metadata: metadata(),
		Handlers: collector.Handlers{
			FetchSensors: fetchSensors,
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
