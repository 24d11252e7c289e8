// Package supervisor owns one collector plugin child process: it spawns the
// process with piped stdio, waits for the readiness line on stderr,
// multiplexes line-framed JSON-RPC requests over stdin/stdout, enforces
// per-request timeouts, and restarts the child on unexpected exit with
// bounded retries and configure replay.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

// Defaults for the supervisor's knobs.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRestarts    = 3
	DefaultRestartDelay   = 1 * time.Second
	DefaultLogBufferSize  = 200

	maxResponseLineBytes = 4 * 1024 * 1024
	stopKillGrace        = 3 * time.Second
)

// ErrNotRunning is returned by every call issued while the child process is
// not running or after Stop.
var ErrNotRunning = errors.New("Plugin process not running")

// Config configures a supervisor for one plugin.
type Config struct {
	// Name tags forwarded stderr lines and log events.
	Name string
	// Command is the final launch command line, already resolved by the host.
	Command []string
	// Dir is the plugin root directory, used as the child's working directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string

	RequestTimeout time.Duration // per-request timeout, default 30s
	ReadyTimeout   time.Duration // readiness-line timeout, defaults to RequestTimeout
	MaxRestarts    int           // bounded restart attempts, default 3
	RestartDelay   time.Duration // delay before a respawn, default 1s
	LogBufferSize  int           // retained stderr lines, default 200

	Logger zerolog.Logger

	OnLog                 func(line string)
	OnExit                func(exitCode int)
	OnRestart             func(attempt int)
	OnMaxRestartsExceeded func()
}

type callResult struct {
	resp *protocol.Response
	err  error
}

// Supervisor owns one child plugin process and exposes a typed wrapper per
// RPC method. Methods on a single instance are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	procDone      chan struct{}
	running       bool
	stopped       bool
	restartCount  int
	nextID        int64
	pending       map[int64]chan callResult
	lastConfigure map[string]any

	logMu sync.Mutex
	logs  []string
}

// New creates a supervisor. Start must be called before any request.
func New(cfg Config) *Supervisor {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = cfg.RequestTimeout
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = DefaultLogBufferSize
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "supervisor").Str("plugin", cfg.Name).Logger(),
		pending: make(map[int64]chan callResult),
	}
}

// Start spawns the child process and blocks until the readiness line arrives
// on its stderr, or the readiness timeout elapses.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.stopped = false
	s.restartCount = 0
	s.mu.Unlock()

	return s.spawn(ctx)
}

// spawn runs the spawn algorithm: pipe all three stdio streams, start the
// child in the plugin root, attach line readers, and wait for readiness.
func (s *Supervisor) spawn(ctx context.Context) error {
	if len(s.cfg.Command) == 0 {
		return errors.New("no launch command configured")
	}

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn plugin process: %w", err)
	}

	ready := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.procDone = done
	s.running = true
	s.mu.Unlock()

	go s.readResponses(stdout)
	go s.readLogs(stderr, ready)
	go s.reap(cmd, done)

	s.logger.Debug().Strs("command", s.cfg.Command).Str("dir", s.cfg.Dir).Msg("plugin process spawned")

	select {
	case <-ready:
		s.logger.Info().Msg("plugin ready")
		return nil
	case <-time.After(s.cfg.ReadyTimeout):
		s.kill(cmd)
		return errors.New("Timeout waiting for plugin ready")
	case <-ctx.Done():
		s.kill(cmd)
		return ctx.Err()
	}
}

// readResponses parses each stdout line as a response envelope and resolves
// the matching pending request. Unparseable lines are logged and discarded.
func (s *Supervisor) readResponses(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("discarding unparseable response line")
			continue
		}
		id, ok := numericID(resp.ID)
		if !ok {
			s.logger.Warn().Interface("id", resp.ID).Msg("discarding response with non-numeric id")
			continue
		}

		s.mu.Lock()
		ch, found := s.pending[id]
		if found {
			delete(s.pending, id)
		}
		s.mu.Unlock()

		if !found {
			s.logger.Warn().Int64("id", id).Msg("discarding response with no pending request")
			continue
		}
		ch <- callResult{resp: &resp}
	}
}

// readLogs forwards stderr lines to the log callback and ring buffer. The
// first line is the readiness token; it still flows to the log channel, and
// readiness is signalled only after it has been logged.
func (s *Supervisor) readLogs(r io.Reader, ready chan struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLineBytes)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		tagged := fmt.Sprintf("[%s] %s", s.cfg.Name, line)
		s.appendLog(tagged)
		if s.cfg.OnLog != nil {
			s.cfg.OnLog(tagged)
		}
		if first {
			close(ready)
			first = false
		}
	}
}

// reap waits for the child to exit, rejects all pending requests, and runs
// the restart policy unless the exit was requested by Stop.
func (s *Supervisor) reap(cmd *exec.Cmd, done chan struct{}) {
	_ = cmd.Wait()
	close(done)
	exitCode := cmd.ProcessState.ExitCode()

	s.mu.Lock()
	if s.cmd != cmd {
		// A newer child already replaced this one.
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stdin = nil
	pending := s.pending
	s.pending = make(map[int64]chan callResult)
	stopped := s.stopped
	s.mu.Unlock()

	exitErr := fmt.Errorf("Plugin process exited with code %d", exitCode)
	for _, ch := range pending {
		ch <- callResult{err: exitErr}
	}

	if s.cfg.OnExit != nil {
		s.cfg.OnExit(exitCode)
	}

	if stopped {
		s.logger.Debug().Int("exit_code", exitCode).Msg("plugin process stopped")
		return
	}

	s.logger.Warn().Int("exit_code", exitCode).Msg("plugin process exited unexpectedly")
	s.restart()
}

// restart respawns the child after the configured delay and replays the last
// configure parameters, up to MaxRestarts attempts.
func (s *Supervisor) restart() {
	s.mu.Lock()
	if s.restartCount >= s.cfg.MaxRestarts {
		s.mu.Unlock()
		s.logger.Error().Int("restarts", s.cfg.MaxRestarts).Msg("max restarts exceeded, giving up")
		if s.cfg.OnMaxRestartsExceeded != nil {
			s.cfg.OnMaxRestartsExceeded()
		}
		return
	}
	s.restartCount++
	attempt := s.restartCount
	s.mu.Unlock()

	if s.cfg.OnRestart != nil {
		s.cfg.OnRestart(attempt)
	}

	time.Sleep(s.cfg.RestartDelay)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	replay := s.lastConfigure
	s.mu.Unlock()

	s.logger.Info().Int("attempt", attempt).Msg("restarting plugin process")
	if err := s.spawn(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("respawn failed, abandoning restart")
		return
	}

	if replay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		if _, err := s.call(ctx, protocol.MethodConfigure, replay); err != nil {
			s.logger.Error().Err(err).Msg("configure replay failed after restart")
		}
	}
}

// call allocates an id, registers the pending entry, writes the framed
// request, and waits for the matching response, a timeout, or cancellation.
func (s *Supervisor) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	if !s.running || s.stopped || s.stdin == nil {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.nextID++
	id := s.nextID
	ch := make(chan callResult, 1)
	s.pending[id] = ch
	stdin := s.stdin
	s.mu.Unlock()

	data, err := json.Marshal(protocol.NewRequest(method, params, id))
	if err != nil {
		s.removePending(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		s.removePending(id)
		return nil, ErrNotRunning
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, res.resp.Error
		}
		return res.resp.Result, nil
	case <-timer.C:
		s.removePending(id)
		return nil, fmt.Errorf("Request timed out after %dms: %s", s.cfg.RequestTimeout.Milliseconds(), method)
	case <-ctx.Done():
		s.removePending(id)
		return nil, ctx.Err()
	}
}

func (s *Supervisor) removePending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Stop inhibits the restart policy, rejects all pending requests, closes the
// child's stdin, and sends a terminate signal, escalating to a kill if the
// child lingers.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	cmd := s.cmd
	stdin := s.stdin
	s.stdin = nil
	done := s.procDone
	pending := s.pending
	s.pending = make(map[int64]chan callResult)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: ErrNotRunning}
	}

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			select {
			case <-done:
			case <-time.After(stopKillGrace):
				_ = cmd.Process.Kill()
			}
		}()
	}
	s.logger.Info().Msg("supervisor stopped")
}

// Running reports whether the child process is currently serving.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RestartCount returns how many times the child has been respawned.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// appendLog pushes a line into the bounded in-memory ring buffer.
func (s *Supervisor) appendLog(line string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if len(s.logs) >= s.cfg.LogBufferSize {
		s.logs = s.logs[1:]
	}
	s.logs = append(s.logs, line)
}

// Logs returns a copy of the retained stderr lines, oldest first.
func (s *Supervisor) Logs() []string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Supervisor) kill(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.cmd == cmd {
		s.running = false
		s.stdin = nil
		s.stopped = true
	}
	s.mu.Unlock()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// numericID normalizes a decoded JSON id to int64. Integer ids are what this
// supervisor sends; string ids are accepted for robustness.
func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
