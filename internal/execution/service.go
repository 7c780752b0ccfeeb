package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dontdude/codestream/internal/domain"
	"github.com/dontdude/codestream/internal/stream"
)

// bookkeepingTimeout bounds the store writes made after a run ended. They run
// detached from the caller, whose connection may already be gone.
const bookkeepingTimeout = 10 * time.Second

// TaskRunner runs an asynchronous task or refuses it.
type TaskRunner interface {
	Submit(task func()) error
}

// Config is the execution-side configuration of the orchestrator.
type Config struct {
	ImagePrefix  string
	StagingDir   string
	WorkspaceDir string
	SinkBuffer   int
	SendTimeout  time.Duration
}

// Service coordinates the lifecycle of executions: it persists records,
// drives each run in a sandbox and converges every exit path on the same
// status update and teardown.
type Service struct {
	store    domain.ExecutionStore
	sandbox  domain.Sandbox
	registry *Registry
	tasks    TaskRunner
	cfg      Config
	logger   *slog.Logger
}

// NewService wires the orchestrator.
func NewService(store domain.ExecutionStore, sandbox domain.Sandbox, registry *Registry, tasks TaskRunner, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		sandbox:  sandbox,
		registry: registry,
		tasks:    tasks,
		cfg:      cfg,
		logger:   logger,
	}
}

// Submit stores a new pending execution and returns its id.
func (s *Service) Submit(ctx context.Context, code string, language domain.Language) (string, error) {
	e := &domain.Execution{
		ID:        uuid.NewString(),
		Code:      code,
		Language:  language,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Info("Execution submitted", "executionID", e.ID, "language", language)
	return e.ID, nil
}

// Find returns the record for id.
func (s *Service) Find(ctx context.Context, id string) (*domain.Execution, error) {
	return s.store.Get(ctx, id)
}

// Run starts the execution id asynchronously and returns the sink its output
// is pushed to. It does not wait for the run.
func (s *Service) Run(ctx context.Context, id string) (*stream.Emitter, error) {
	started := time.Now()
	rec, err := s.store.Update(ctx, id, func(e *domain.Execution) error {
		if e.ExecutedAt != nil {
			return domain.ErrAlreadyStarted
		}
		at := started.UTC()
		e.ExecutedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	sink := stream.NewEmitter(s.cfg.SinkBuffer, s.cfg.SendTimeout)
	sink.OnDisconnect(func(err error) {
		s.handleDisconnect(id, err)
	})
	s.registry.RegisterSink(id, sink)

	if err := s.tasks.Submit(func() { s.execute(rec, sink, started) }); err != nil {
		s.registry.Cleanup(id)
		sink.Close(err)
		s.rollbackStart(id)
		return nil, err
	}

	s.logger.Info("Execution started", "executionID", id, "language", rec.Language)
	return sink, nil
}

// rollbackStart clears executedAt so a refused run can be requested again.
func (s *Service) rollbackStart(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	_, err := s.store.Update(ctx, id, func(e *domain.Execution) error {
		e.ExecutedAt = nil
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to roll back execution start", "executionID", id, "error", err)
	}
}

// execute is the asynchronous task of one run.
func (s *Service) execute(rec *domain.Execution, sink *stream.Emitter, started time.Time) {
	id := rec.ID

	// Setup steps are abandoned as soon as the sink ends.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sink.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	relay, err := s.setup(ctx, rec, sink)
	if err != nil {
		s.logger.Error("Execution setup failed", "executionID", id, "error", err)
		sink.Close(err)
		s.destroyContainer(id)
		elapsed := time.Since(started)
		s.finish(id, domain.StatusInterrupted, &elapsed)
		s.registry.Cleanup(id)
		return
	}

	outcome := <-relay.Done()
	elapsed := time.Since(started)
	s.logger.Info("Execution ended", "executionID", id, "outcome", outcome.Kind, "elapsed", elapsed)

	switch outcome.Kind {
	case stream.Completed:
		s.finish(id, domain.StatusOK, &elapsed)
		s.destroyContainer(id)
	case stream.Failed:
		s.logger.Warn("Output stream failed", "executionID", id, "error", outcome.Err)
		s.finish(id, domain.StatusInterrupted, &elapsed)
		s.destroyContainer(id)
	case stream.Interrupted:
		s.destroyContainer(id)
		s.finish(id, domain.StatusInterrupted, nil)
	}
	s.registry.Cleanup(id)
}

// setup prepares the sandbox and starts the script. On success the returned
// relay owns the rest of the run.
func (s *Service) setup(ctx context.Context, rec *domain.Execution, sink *stream.Emitter) (*stream.Relay, error) {
	id := rec.ID

	profile, err := rec.Language.Profile()
	if err != nil {
		return nil, err
	}

	// 1. Write the source to a private temp workspace.
	dir, err := os.MkdirTemp("", profile.Extension+"-exec-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, profile.FileName())
	if err := os.WriteFile(source, []byte(rec.Code), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	// 2. Create the sandbox.
	containerID, err := s.sandbox.CreateContainer(ctx, profile.Image(s.cfg.ImagePrefix), id)
	if err != nil {
		return nil, err
	}
	s.registry.RegisterContainer(id, containerID)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution abandoned: %w", err)
	}

	// 3. Stage the source.
	if err := s.sandbox.CopyFile(ctx, source, containerID, s.cfg.StagingDir); err != nil {
		return nil, err
	}

	// 4. Start the script with a relay wired to the sink.
	relay := stream.NewRelay(sink, s.logger.With("executionID", id))
	s.registry.RegisterRelay(id, relay)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution abandoned: %w", err)
	}

	script := BuildScript(profile, s.cfg.StagingDir, s.cfg.WorkspaceDir)
	if err := s.sandbox.RunCommand(ctx, containerID, script, relay); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	return relay, nil
}

// Stop cancels a running execution. It is a no-op unless a container is
// registered for id.
func (s *Service) Stop(id string) {
	containerID, ok := s.registry.Container(id)
	if !ok {
		return
	}

	s.logger.Info("Stopping execution", "executionID", id)
	if relay, ok := s.registry.Relay(id); ok {
		relay.Interrupt()
	}
	s.sandbox.Destroy(containerID)
	if sink, ok := s.registry.Sink(id); ok {
		sink.Close(nil)
	}
	s.registry.Cleanup(id)
}

// StopAll stops every live execution. Used on shutdown so open streams end
// and no sandbox outlives the process.
func (s *Service) StopAll() {
	for _, id := range s.registry.IDs() {
		if _, ok := s.registry.Container(id); !ok {
			// Still in setup: closing the sink makes setup abandon the run.
			if sink, ok := s.registry.Sink(id); ok {
				sink.Close(nil)
			}
			continue
		}
		s.Stop(id)
	}
}

// handleDisconnect runs when the caller's side of the sink went away first.
func (s *Service) handleDisconnect(id string, cause error) {
	s.logger.Info("Client disconnected", "executionID", id, "cause", cause)

	if relay, ok := s.registry.Relay(id); ok && !relay.Interrupt() {
		// The producer already ended; the run task records that outcome.
		s.logger.Debug("Relay already finished, leaving status to the run", "executionID", id)
		return
	}
	if _, ok := s.registry.Container(id); !ok {
		// Setup has not produced a container yet; it notices the closed sink.
		s.registry.RemoveSink(id)
		return
	}
	s.destroyContainer(id)
	s.finish(id, domain.StatusInterrupted, nil)
	s.registry.Cleanup(id)
}

func (s *Service) destroyContainer(id string) {
	if containerID, ok := s.registry.Container(id); ok {
		s.sandbox.Destroy(containerID)
	}
}

// finish records the terminal status unless another path already did.
func (s *Service) finish(id string, status domain.Status, elapsed *time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	applied := false
	_, err := s.store.Update(ctx, id, func(e *domain.Execution) error {
		applied = e.Finish(status, elapsed)
		return nil
	})
	switch {
	case err != nil:
		s.logger.Error("Failed to record execution status", "executionID", id, "status", status, "error", err)
	case applied:
		s.logger.Info("Execution finished", "executionID", id, "status", status)
	default:
		s.logger.Debug("Execution already finished", "executionID", id)
	}
}
