package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

// GetMetadata asks the plugin for its collector metadata.
func (s *Supervisor) GetMetadata(ctx context.Context) (*protocol.CollectorMetadata, error) {
	raw, err := s.call(ctx, protocol.MethodGetMetadata, nil)
	if err != nil {
		return nil, err
	}
	var meta protocol.CollectorMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// Configure pushes connection parameters to the plugin and memoizes them so
// they can be replayed after a restart.
func (s *Supervisor) Configure(ctx context.Context, params map[string]any) (map[string]any, error) {
	raw, err := s.call(ctx, protocol.MethodConfigure, params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastConfigure = params
	s.mu.Unlock()

	return decodeObject(raw)
}

// TestConnection asks the plugin to verify reachability of its source.
func (s *Supervisor) TestConnection(ctx context.Context, params map[string]any) (map[string]any, error) {
	raw, err := s.call(ctx, protocol.MethodTestConnection, params)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

// FetchSensors polls the plugin for its full batch of sensor readings.
func (s *Supervisor) FetchSensors(ctx context.Context) ([]protocol.Sensor, error) {
	raw, err := s.call(ctx, protocol.MethodFetchSensors, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.SensorResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sensor result: %w", err)
	}
	return result.Sensors, nil
}

// FetchSelectedSensors polls the plugin for the subset of readings named by
// uniqueSensorKey.
func (s *Supervisor) FetchSelectedSensors(ctx context.Context, sensorIDs []string) ([]protocol.Sensor, error) {
	raw, err := s.call(ctx, protocol.MethodFetchSelectedSensors, map[string]any{"sensorIds": sensorIDs})
	if err != nil {
		return nil, err
	}
	var result protocol.SensorResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sensor result: %w", err)
	}
	return result.Sensors, nil
}

// StartSession opens a persistent session on plugins that support one.
func (s *Supervisor) StartSession(ctx context.Context, params map[string]any) (map[string]any, error) {
	raw, err := s.call(ctx, protocol.MethodStartSession, params)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

// StopSession closes a previously started session.
func (s *Supervisor) StopSession(ctx context.Context, params map[string]any) (map[string]any, error) {
	raw, err := s.call(ctx, protocol.MethodStopSession, params)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

// HealthCheck probes the plugin's liveness and uptime.
func (s *Supervisor) HealthCheck(ctx context.Context) (*protocol.HealthStatus, error) {
	raw, err := s.call(ctx, protocol.MethodHealthCheck, nil)
	if err != nil {
		return nil, err
	}
	var health protocol.HealthStatus
	if err := json.Unmarshal(raw, &health); err != nil {
		return nil, fmt.Errorf("failed to decode health status: %w", err)
	}
	return &health, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return obj, nil
}
