package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

func testMetadata() protocol.CollectorMetadata {
	return protocol.CollectorMetadata{
		CollectorName: "junctionrelay.test",
		DisplayName:   "Test Collector",
		Description:   "Fixture collector",
		Category:      "testing",
		Emoji:         "🧪",
		Defaults:      protocol.CollectorDefaults{PollRateMs: 5000, SendRateMs: 5000},
	}
}

// runDispatcher feeds the given request lines through a dispatcher and
// returns the emitted response envelopes plus the readiness line.
func runDispatcher(t *testing.T, cfg Config, inputLines ...string) ([]protocol.Response, string) {
	t.Helper()

	var out, status bytes.Buffer
	input := ""
	if len(inputLines) > 0 {
		input = strings.Join(inputLines, "\n") + "\n"
	}
	cfg.Input = strings.NewReader(input)
	cfg.Output = &out
	cfg.Status = &status
	cfg.Logger = zerolog.New(&status).Level(zerolog.Disabled)

	require.NoError(t, New(cfg).Run(context.Background()))

	var responses []protocol.Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), "stdout must carry only framed JSON")
		responses = append(responses, resp)
	}

	ready, _, _ := strings.Cut(status.String(), "\n")
	return responses, ready
}

func requestLine(t *testing.T, method string, params map[string]any, id any) string {
	t.Helper()
	data, err := json.Marshal(protocol.NewRequest(method, params, id))
	require.NoError(t, err)
	return string(data)
}

func TestDispatcher_Readiness(t *testing.T) {
	responses, ready := runDispatcher(t, Config{Metadata: testMetadata()})
	assert.Empty(t, responses)
	assert.Equal(t, "[plugin] Test Collector ready", ready)
}

func TestDispatcher_MetadataRoundTrip(t *testing.T) {
	meta := testMetadata()
	responses, _ := runDispatcher(t, Config{Metadata: meta},
		`{"jsonrpc":"2.0","method":"getMetadata","params":{},"id":1}`)

	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, float64(1), resp.ID)
	assert.Nil(t, resp.Error)

	var got protocol.CollectorMetadata
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	assert.Equal(t, meta, got)
}

func TestDispatcher_ParseError(t *testing.T) {
	responses, _ := runDispatcher(t, Config{Metadata: testMetadata()}, "not valid json")

	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, float64(0), resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
	assert.Equal(t, "Parse error", resp.Error.Message)
}

func TestDispatcher_MethodNotFound(t *testing.T) {
	responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
		`{"jsonrpc":"2.0","method":"unknownMethod","params":{},"id":7}`)

	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, float64(7), resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: unknownMethod", resp.Error.Message)
}

func TestDispatcher_InvalidRequest(t *testing.T) {
	t.Run("missing jsonrpc tag", func(t *testing.T) {
		responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
			`{"method":"getMetadata","params":{},"id":2}`)
		require.Len(t, responses, 1)
		require.NotNil(t, responses[0].Error)
		assert.Equal(t, protocol.CodeInvalidRequest, responses[0].Error.Code)
		assert.Equal(t, float64(2), responses[0].ID)
	})

	t.Run("missing id", func(t *testing.T) {
		responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
			`{"jsonrpc":"2.0","method":"getMetadata","params":{}}`)
		require.Len(t, responses, 1)
		require.NotNil(t, responses[0].Error)
		assert.Equal(t, protocol.CodeInvalidRequest, responses[0].Error.Code)
		assert.Equal(t, float64(0), responses[0].ID)
	})
}

func TestDispatcher_Configure(t *testing.T) {
	t.Run("default reply without handler", func(t *testing.T) {
		responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
			requestLine(t, "configure", map[string]any{"collectorId": 42}, 1))

		require.Len(t, responses, 1)
		assert.JSONEq(t, `{"success":true}`, string(responses[0].Result))
	})

	t.Run("stored config reaches fetch handler", func(t *testing.T) {
		var seen map[string]any
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				FetchSensors: func(_ context.Context, config map[string]any) ([]protocol.Sensor, error) {
					seen = config
					return nil, nil
				},
			},
		}
		responses, _ := runDispatcher(t, cfg,
			requestLine(t, "configure", map[string]any{"collectorId": 42, "url": "http://hub.local"}, 1),
			requestLine(t, "fetchSensors", nil, 2))

		require.Len(t, responses, 2)
		require.NotNil(t, seen)
		assert.Equal(t, float64(42), seen["collectorId"])
		assert.Equal(t, "http://hub.local", seen["url"])
	})

	t.Run("user handler result is returned", func(t *testing.T) {
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				Configure: func(_ context.Context, params map[string]any) (any, error) {
					return map[string]any{"success": true, "collectorId": params["collectorId"]}, nil
				},
			},
		}
		responses, _ := runDispatcher(t, cfg,
			requestLine(t, "configure", map[string]any{"collectorId": 7}, 1))

		require.Len(t, responses, 1)
		assert.JSONEq(t, `{"success":true,"collectorId":7}`, string(responses[0].Result))
	})
}

func TestDispatcher_FetchSensors(t *testing.T) {
	t.Run("empty result without handler", func(t *testing.T) {
		responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
			requestLine(t, "fetchSensors", nil, 1))

		require.Len(t, responses, 1)
		assert.JSONEq(t, `{"sensors":[]}`, string(responses[0].Result))
	})

	t.Run("sensor precision is clamped on the way out", func(t *testing.T) {
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				FetchSensors: func(context.Context, map[string]any) ([]protocol.Sensor, error) {
					return []protocol.Sensor{
						{UniqueSensorKey: "a", Name: "A", Value: "1.23456", DecimalPlaces: 99, SensorType: "Numeric"},
					}, nil
				},
			},
		}
		responses, _ := runDispatcher(t, cfg, requestLine(t, "fetchSensors", nil, 1))

		require.Len(t, responses, 1)
		var result protocol.SensorResult
		require.NoError(t, json.Unmarshal(responses[0].Result, &result))
		require.Len(t, result.Sensors, 1)
		assert.Equal(t, 15, result.Sensors[0].DecimalPlaces)
	})
}

func TestDispatcher_FetchSelectedSensorsFallback(t *testing.T) {
	full := []protocol.Sensor{
		{UniqueSensorKey: "a", Name: "A", Value: "1", SensorType: "Numeric"},
		{UniqueSensorKey: "b", Name: "B", Value: "2", SensorType: "Numeric"},
	}
	cfg := Config{
		Metadata: testMetadata(),
		Handlers: Handlers{
			FetchSensors: func(context.Context, map[string]any) ([]protocol.Sensor, error) {
				return full, nil
			},
		},
	}

	t.Run("subset by uniqueSensorKey", func(t *testing.T) {
		responses, _ := runDispatcher(t, cfg,
			requestLine(t, "fetchSelectedSensors", map[string]any{"sensorIds": []any{"a"}}, 1))

		require.Len(t, responses, 1)
		var result protocol.SensorResult
		require.NoError(t, json.Unmarshal(responses[0].Result, &result))
		require.Len(t, result.Sensors, 1)
		assert.Equal(t, "a", result.Sensors[0].UniqueSensorKey)
	})

	t.Run("order of the full result is preserved", func(t *testing.T) {
		responses, _ := runDispatcher(t, cfg,
			requestLine(t, "fetchSelectedSensors", map[string]any{"sensorIds": []any{"b", "a"}}, 1))

		var result protocol.SensorResult
		require.NoError(t, json.Unmarshal(responses[0].Result, &result))
		require.Len(t, result.Sensors, 2)
		assert.Equal(t, "a", result.Sensors[0].UniqueSensorKey)
		assert.Equal(t, "b", result.Sensors[1].UniqueSensorKey)
	})

	t.Run("explicit handler wins over fallback", func(t *testing.T) {
		withHandler := cfg
		withHandler.Handlers.FetchSelectedSensors = func(_ context.Context, _ map[string]any, ids []string) ([]protocol.Sensor, error) {
			return []protocol.Sensor{{UniqueSensorKey: "custom", Value: "9"}}, nil
		}
		responses, _ := runDispatcher(t, withHandler,
			requestLine(t, "fetchSelectedSensors", map[string]any{"sensorIds": []any{"a"}}, 1))

		var result protocol.SensorResult
		require.NoError(t, json.Unmarshal(responses[0].Result, &result))
		require.Len(t, result.Sensors, 1)
		assert.Equal(t, "custom", result.Sensors[0].UniqueSensorKey)
	})
}

func TestDispatcher_SessionAndConnectionDefaults(t *testing.T) {
	responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
		requestLine(t, "testConnection", nil, 1),
		requestLine(t, "startSession", nil, 2),
		requestLine(t, "stopSession", nil, 3))

	require.Len(t, responses, 3)
	for _, resp := range responses {
		assert.Nil(t, resp.Error)
		assert.JSONEq(t, `{"success":true}`, string(resp.Result))
	}
}

func TestDispatcher_HealthCheck(t *testing.T) {
	responses, _ := runDispatcher(t, Config{Metadata: testMetadata()},
		requestLine(t, "healthCheck", nil, 1))

	require.Len(t, responses, 1)
	var health protocol.HealthStatus
	require.NoError(t, json.Unmarshal(responses[0].Result, &health))
	assert.True(t, health.Healthy)
	assert.GreaterOrEqual(t, health.Uptime, 0.0)
}

func TestDispatcher_HandlerErrors(t *testing.T) {
	t.Run("plain error maps to server error", func(t *testing.T) {
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				TestConnection: func(context.Context, map[string]any) (any, error) {
					return nil, errors.New("hub unreachable")
				},
			},
		}
		responses, _ := runDispatcher(t, cfg, requestLine(t, "testConnection", nil, 1))

		require.Len(t, responses, 1)
		require.NotNil(t, responses[0].Error)
		assert.Equal(t, protocol.CodeServerError, responses[0].Error.Code)
		assert.Equal(t, "hub unreachable", responses[0].Error.Message)
	})

	t.Run("numeric code on the error is kept", func(t *testing.T) {
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				TestConnection: func(context.Context, map[string]any) (any, error) {
					return nil, &protocol.RPCError{Code: protocol.CodeInvalidParams, Message: "url is required"}
				},
			},
		}
		responses, _ := runDispatcher(t, cfg, requestLine(t, "testConnection", nil, 1))

		require.Len(t, responses, 1)
		require.NotNil(t, responses[0].Error)
		assert.Equal(t, protocol.CodeInvalidParams, responses[0].Error.Code)
		assert.Equal(t, "url is required", responses[0].Error.Message)
	})

	t.Run("panicking handler does not kill the loop", func(t *testing.T) {
		calls := 0
		cfg := Config{
			Metadata: testMetadata(),
			Handlers: Handlers{
				TestConnection: func(context.Context, map[string]any) (any, error) {
					calls++
					if calls == 1 {
						panic("boom")
					}
					return map[string]any{"success": true}, nil
				},
			},
		}
		responses, _ := runDispatcher(t, cfg,
			requestLine(t, "testConnection", nil, 1),
			requestLine(t, "testConnection", nil, 2))

		require.Len(t, responses, 2)
		require.NotNil(t, responses[0].Error)
		assert.Equal(t, protocol.CodeServerError, responses[0].Error.Code)
		assert.Nil(t, responses[1].Error)
	})
}

func TestDispatcher_OneResponsePerRequest(t *testing.T) {
	var inputs []string
	for i := 1; i <= 20; i++ {
		inputs = append(inputs, requestLine(t, "healthCheck", nil, i))
	}
	responses, _ := runDispatcher(t, Config{Metadata: testMetadata()}, inputs...)

	require.Len(t, responses, 20)
	for i, resp := range responses {
		assert.Equal(t, float64(i+1), resp.ID, fmt.Sprintf("response %d echoes its id", i))
	}
}
