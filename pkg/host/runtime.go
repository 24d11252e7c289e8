package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/catapultcase/JunctionRelay-Collectors/internal/metrics"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/discovery"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/sink"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/supervisor"
)

// DefaultPollFloor bounds how fast a collector may be polled regardless of
// the cadence its metadata advertises.
const DefaultPollFloor = 250 * time.Millisecond

// Options configures a host runtime.
type Options struct {
	PluginRoot string

	RequestTimeout time.Duration
	ReadyTimeout   time.Duration
	MaxRestarts    int
	RestartDelay   time.Duration
	PollFloor      time.Duration

	Sinks   []sink.Sink
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// LoadResult reports the outcome of one initialization pass.
type LoadResult struct {
	Loaded []string
	Failed []string
	Errors map[string]error
}

// Runtime orchestrates the collector plugin system: discovery, supervision,
// polling, and forwarding.
type Runtime struct {
	id       string
	logger   zerolog.Logger
	scanner  *discovery.Scanner
	registry *Registry
	metrics  *metrics.Metrics
	cron     *cron.Cron
	opts     Options
}

// NewRuntime creates a host runtime.
func NewRuntime(opts Options) *Runtime {
	if opts.PollFloor <= 0 {
		opts.PollFloor = DefaultPollFloor
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	id := uuid.NewString()
	logger := opts.Logger.With().Str("component", "host-runtime").Str("run_id", id).Logger()

	return &Runtime{
		id:       id,
		logger:   logger,
		scanner:  discovery.NewScanner(opts.Logger),
		registry: NewRegistry(),
		metrics:  opts.Metrics,
		cron:     cron.New(),
		opts:     opts,
	}
}

// Registry exposes the collector registry.
func (r *Runtime) Registry() *Registry {
	return r.registry
}

// Initialize discovers plugins under the configured root, launches a
// supervisor per plugin, and schedules polling. Per-plugin failures land in
// the result, they do not abort the pass.
func (r *Runtime) Initialize(ctx context.Context) (*LoadResult, error) {
	r.logger.Info().Str("root", r.opts.PluginRoot).Msg("initializing collector runtime")

	result := &LoadResult{Errors: make(map[string]error)}

	for _, plugin := range r.scanner.Scan(r.opts.PluginRoot) {
		name, err := r.launch(ctx, plugin)
		if err != nil {
			r.logger.Error().Err(err).Str("plugin", plugin.Name).Msg("failed to launch plugin")
			result.Failed = append(result.Failed, plugin.Name)
			result.Errors[plugin.Name] = err
			continue
		}
		result.Loaded = append(result.Loaded, name)
	}

	r.cron.Start()
	r.logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("failed", len(result.Failed)).
		Msg("collector runtime initialization complete")
	return result, nil
}

// launch spawns and registers one collector, returning its collectorName.
func (r *Runtime) launch(ctx context.Context, plugin discovery.Plugin) (string, error) {
	command, err := ResolveCommand(plugin)
	if err != nil {
		return "", err
	}

	sup := supervisor.New(supervisor.Config{
		Name:           plugin.Name,
		Command:        command,
		Dir:            plugin.Path,
		RequestTimeout: r.opts.RequestTimeout,
		ReadyTimeout:   r.opts.ReadyTimeout,
		MaxRestarts:    r.opts.MaxRestarts,
		RestartDelay:   r.opts.RestartDelay,
		Logger:         r.opts.Logger,
		OnLog: func(line string) {
			r.logger.Debug().Msg(line)
		},
		OnRestart: func(attempt int) {
			r.metrics.RestartsTotal.WithLabelValues(plugin.Name).Inc()
			r.logger.Warn().Int("attempt", attempt).Str("plugin", plugin.Name).Msg("plugin restarting")
		},
		OnMaxRestartsExceeded: func() {
			r.logger.Error().Str("plugin", plugin.Name).Msg("plugin exceeded max restarts")
			r.metrics.CollectorsActive.Dec()
		},
	})

	if err := sup.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start plugin: %w", err)
	}

	meta, err := r.fetchMetadata(ctx, sup)
	if err != nil {
		sup.Stop()
		return "", err
	}

	record := &Record{
		Plugin:     plugin,
		Supervisor: sup,
		Metadata:   meta,
		State:      StateRunning,
		StartedAt:  time.Now(),
	}
	if err := r.registry.Register(meta.CollectorName, record); err != nil {
		sup.Stop()
		return "", err
	}

	r.metrics.CollectorsActive.Inc()
	r.schedulePoll(meta.CollectorName, record)
	r.logger.Info().
		Str("collector", meta.CollectorName).
		Str("version", plugin.Version).
		Msg("collector loaded")
	return meta.CollectorName, nil
}

// fetchMetadata retrieves and validates the plugin's metadata.
func (r *Runtime) fetchMetadata(ctx context.Context, sup *supervisor.Supervisor) (*protocol.CollectorMetadata, error) {
	meta, err := sup.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("getMetadata failed: %w", err)
	}
	if !protocol.IsPluginCollector(meta.CollectorName) {
		return nil, fmt.Errorf("collector name %q has no namespace separator", meta.CollectorName)
	}
	if err := protocol.ValidatePluginName(meta.CollectorName); err != nil {
		return nil, err
	}
	return meta, nil
}

// schedulePoll registers the recurring fetchSensors job at the cadence the
// collector's metadata asks for, bounded below by the poll floor.
func (r *Runtime) schedulePoll(name string, record *Record) {
	rate := time.Duration(record.Metadata.Defaults.PollRateMs) * time.Millisecond
	if rate < r.opts.PollFloor {
		rate = r.opts.PollFloor
	}

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", rate), func() {
		r.pollOnce(name, record)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("collector", name).Msg("failed to schedule poll job")
		return
	}
	r.logger.Debug().Str("collector", name).Dur("rate", rate).Msg("poll job scheduled")
}

// pollOnce fetches one batch of readings and forwards it to the sinks.
func (r *Runtime) pollOnce(name string, record *Record) {
	timeout := r.opts.RequestTimeout
	if timeout <= 0 {
		timeout = supervisor.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	sensors, err := record.Supervisor.FetchSensors(ctx)
	r.metrics.RequestDuration.WithLabelValues(protocol.MethodFetchSensors).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.RequestsTotal.WithLabelValues(protocol.MethodFetchSensors, "error").Inc()
		r.metrics.PollErrorsTotal.WithLabelValues(name).Inc()
		_ = r.registry.RecordError(name, err)
		r.logger.Warn().Err(err).Str("collector", name).Msg("poll failed")
		return
	}
	r.metrics.RequestsTotal.WithLabelValues(protocol.MethodFetchSensors, "ok").Inc()

	batch := sink.Batch{Collector: name, At: time.Now().UTC(), Sensors: sensors}
	for _, s := range r.opts.Sinks {
		s.Publish(batch)
	}
	r.metrics.ReadingsForwardedTotal.Add(float64(len(sensors)))
}

// Configure pushes connection parameters to a running collector.
func (r *Runtime) Configure(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	record, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("collector %s not found", name)
	}
	return record.Supervisor.Configure(ctx, params)
}

// StartSession opens a persistent session on a collector, generating a
// session token when the caller supplies none.
func (r *Runtime) StartSession(ctx context.Context, name string, params map[string]any) (string, error) {
	record, ok := r.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("collector %s not found", name)
	}

	if params == nil {
		params = map[string]any{}
	}
	token, _ := params["sessionId"].(string)
	if token == "" {
		generated, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate session token: %w", err)
		}
		token = generated
		params["sessionId"] = token
	}

	if _, err := record.Supervisor.StartSession(ctx, params); err != nil {
		return "", err
	}
	_ = r.registry.Update(name, func(rec *Record) { rec.SessionToken = token })
	return token, nil
}

// StopSession closes the collector's active session, if any.
func (r *Runtime) StopSession(ctx context.Context, name string) error {
	record, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("collector %s not found", name)
	}

	params := map[string]any{}
	if record.SessionToken != "" {
		params["sessionId"] = record.SessionToken
	}
	if _, err := record.Supervisor.StopSession(ctx, params); err != nil {
		return err
	}
	_ = r.registry.Update(name, func(rec *Record) { rec.SessionToken = "" })
	return nil
}

// Shutdown stops polling and all collector processes.
func (r *Runtime) Shutdown() {
	r.logger.Info().Msg("shutting down collector runtime")
	r.cron.Stop()

	for _, record := range r.registry.GetAll() {
		record.Supervisor.Stop()
		_ = r.registry.UpdateState(record.Metadata.CollectorName, StateStopped)
	}
	r.metrics.CollectorsActive.Set(0)
	r.logger.Info().Msg("collector runtime shutdown complete")
}
