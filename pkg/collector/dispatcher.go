// Package collector is the plugin-side SDK: a line-framed JSON-RPC
// dispatcher that reads requests from standard input, routes them to
// user-supplied handlers, and writes framed responses to standard output.
// Standard output carries only framed JSON; all logging and the readiness
// line go to standard error.
package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

// maxLineBytes bounds a single framed request line.
const maxLineBytes = 4 * 1024 * 1024

// HandlerFunc is a generic RPC handler. It receives the request params and
// returns an arbitrary JSON-marshalable result.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// SensorFunc produces a batch of sensor readings from the current
// configuration (the params of the most recent configure call).
type SensorFunc func(ctx context.Context, config map[string]any) ([]protocol.Sensor, error)

// SelectedSensorFunc produces readings for an explicit subset of sensor keys.
type SelectedSensorFunc func(ctx context.Context, config map[string]any, sensorIDs []string) ([]protocol.Sensor, error)

// Handlers is the open handler set: every member is optional. Methods with
// no handler get the documented default behavior.
type Handlers struct {
	Configure            HandlerFunc
	TestConnection       HandlerFunc
	FetchSensors         SensorFunc
	FetchSelectedSensors SelectedSensorFunc
	StartSession         HandlerFunc
	StopSession          HandlerFunc
}

// Config configures a dispatcher.
type Config struct {
	Metadata protocol.CollectorMetadata
	Handlers Handlers

	// Input, Output and Status default to the process stdio streams. They
	// exist so tests can drive the loop in-memory.
	Input  io.Reader
	Output io.Writer
	Status io.Writer

	Logger zerolog.Logger
}

// Dispatcher reads framed requests, routes them to handlers, and emits
// framed responses. Requests are processed strictly in arrival order.
type Dispatcher struct {
	meta     protocol.CollectorMetadata
	handlers Handlers
	input    io.Reader
	output   *bufio.Writer
	status   io.Writer
	logger   zerolog.Logger

	started time.Time
	config  map[string]any
}

// New creates a dispatcher. The zero streams default to os.Stdin, os.Stdout
// and os.Stderr.
func New(cfg Config) *Dispatcher {
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Status == nil {
		cfg.Status = os.Stderr
	}
	return &Dispatcher{
		meta:     cfg.Metadata,
		handlers: cfg.Handlers,
		input:    cfg.Input,
		output:   bufio.NewWriter(cfg.Output),
		status:   cfg.Status,
		logger:   cfg.Logger.With().Str("component", "dispatcher").Logger(),
		config:   map[string]any{},
	}
}

// Run emits the readiness line, then serves requests until the input stream
// is closed or the context is cancelled. It never returns a handler error;
// those become error envelopes on the wire.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.started = time.Now()

	// Readiness handshake: exactly one line, before any response.
	fmt.Fprintf(d.status, "[plugin] %s ready\n", d.meta.DisplayName)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(d.input)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Input closed: clean shutdown.
				if err := <-scanErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
					d.logger.Warn().Err(err).Msg("stdin read error")
				}
				return nil
			}
			resp := d.handleLine(ctx, line)
			if err := d.writeResponse(resp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

// handleLine decodes and routes one request line. It always produces exactly
// one response envelope.
func (d *Dispatcher) handleLine(ctx context.Context, line string) protocol.Response {
	var req protocol.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return protocol.NewErrorResponse(0, protocol.CodeParseError, "Parse error")
	}

	if rpcErr := protocol.ValidateRequest(&req); rpcErr != nil {
		id := req.ID
		if id == nil {
			id = 0
		}
		return protocol.Response{JSONRPC: protocol.Version, ID: id, Error: rpcErr}
	}

	result, err := d.dispatch(ctx, &req)
	if err != nil {
		return protocol.Response{JSONRPC: protocol.Version, ID: req.ID, Error: toRPCError(err)}
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, err.Error())
	}
	return resp
}

// dispatch routes a validated request to its handler.
func (d *Dispatcher) dispatch(ctx context.Context, req *protocol.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("method", req.Method).Msg("handler panicked")
			result = nil
			err = &protocol.RPCError{Code: protocol.CodeServerError, Message: fmt.Sprintf("%v", r)}
		}
	}()

	switch req.Method {
	case protocol.MethodGetMetadata:
		return d.meta, nil

	case protocol.MethodConfigure:
		// The incoming params become the current configuration even when no
		// user handler is supplied, so fetch handlers always see them.
		d.config = req.Params
		if d.handlers.Configure != nil {
			return d.handlers.Configure(ctx, req.Params)
		}
		return map[string]any{"success": true}, nil

	case protocol.MethodTestConnection:
		return d.simpleHandler(ctx, d.handlers.TestConnection, req.Params)

	case protocol.MethodFetchSensors:
		if d.handlers.FetchSensors == nil {
			return protocol.SensorResult{Sensors: []protocol.Sensor{}}, nil
		}
		sensors, err := d.handlers.FetchSensors(ctx, d.config)
		if err != nil {
			return nil, err
		}
		return protocol.SensorResult{Sensors: protocol.SanitizeSensors(sensors)}, nil

	case protocol.MethodFetchSelectedSensors:
		return d.fetchSelected(ctx, req.Params)

	case protocol.MethodStartSession:
		return d.simpleHandler(ctx, d.handlers.StartSession, req.Params)

	case protocol.MethodStopSession:
		return d.simpleHandler(ctx, d.handlers.StopSession, req.Params)

	case protocol.MethodHealthCheck:
		return protocol.HealthStatus{Healthy: true, Uptime: time.Since(d.started).Seconds()}, nil

	default:
		return nil, &protocol.RPCError{
			Code:    protocol.CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}
}

// fetchSelected invokes the user handler when present; otherwise it falls
// back to fetchSensors and filters the result by uniqueSensorKey, preserving
// the original order.
func (d *Dispatcher) fetchSelected(ctx context.Context, params map[string]any) (any, error) {
	ids := sensorIDs(params)

	if d.handlers.FetchSelectedSensors != nil {
		sensors, err := d.handlers.FetchSelectedSensors(ctx, d.config, ids)
		if err != nil {
			return nil, err
		}
		return protocol.SensorResult{Sensors: protocol.SanitizeSensors(sensors)}, nil
	}

	if d.handlers.FetchSensors == nil {
		return protocol.SensorResult{Sensors: []protocol.Sensor{}}, nil
	}

	all, err := d.handlers.FetchSensors(ctx, d.config)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	subset := make([]protocol.Sensor, 0, len(ids))
	for _, s := range protocol.SanitizeSensors(all) {
		if wanted[s.UniqueSensorKey] {
			subset = append(subset, s)
		}
	}
	return protocol.SensorResult{Sensors: subset}, nil
}

// simpleHandler runs an optional handler, defaulting to {success: true}.
func (d *Dispatcher) simpleHandler(ctx context.Context, h HandlerFunc, params map[string]any) (any, error) {
	if h == nil {
		return map[string]any{"success": true}, nil
	}
	return h(ctx, params)
}

func (d *Dispatcher) writeResponse(resp protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		// The envelope itself must always serialize; fall back to a bare
		// internal error so the request is not left unanswered.
		data, _ = json.Marshal(protocol.NewErrorResponse(resp.ID, protocol.CodeInternalError, "Internal error"))
	}
	if _, err := d.output.Write(append(data, '\n')); err != nil {
		return err
	}
	return d.output.Flush()
}

// toRPCError maps a handler error onto the wire taxonomy: an *RPCError keeps
// its numeric code, anything else becomes a server error with the message
// preserved.
func toRPCError(err error) *protocol.RPCError {
	var rpcErr *protocol.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &protocol.RPCError{Code: protocol.CodeServerError, Message: err.Error()}
}

// sensorIDs extracts params.sensorIds as a string slice.
func sensorIDs(params map[string]any) []string {
	raw, ok := params["sensorIds"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}
