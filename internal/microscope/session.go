// Package microscope owns the live instrument session: the supervised
// backend processes, the routed client, the high-level command facade and
// the experiment engine wired over all three. One session is one
// explicitly owned context object; nothing here is process-global.
package microscope

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/backend"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/experiment"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/route"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/store"
)

// MicroscopeSession bundles everything one operator session needs. The
// session mutex serializes the session-shaping calls (bring-up, connect,
// submit, close); individual facade operations ride on the client's own
// single-command lock.
type MicroscopeSession struct {
	cfg    *config.Config
	logger *slog.Logger

	descriptors map[domain.ModuleName]domain.ServerDescriptor
	sup         *backend.Supervisor
	client      *route.Client
	facade      *Facade
	engine      *experiment.Executor
	validator   experiment.FootprintValidator

	mu sync.Mutex

	db       *sql.DB
	runs     store.RunRepo
	captures store.CaptureRepo

	// capMu guards the capture records accumulated during one run.
	capMu   sync.Mutex
	pending []domain.CaptureRecord
}

// NewSession assembles a disconnected session from configuration. A nil
// logger discards logs.
func NewSession(cfg *config.Config, logger *slog.Logger) *MicroscopeSession {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	descriptors := backend.Descriptors(cfg)
	client := route.NewClient(cfg)
	facade := NewFacade(client, cfg)

	s := &MicroscopeSession{
		cfg:         cfg,
		logger:      logger,
		descriptors: descriptors,
		sup:         backend.NewSupervisor(cfg, descriptors),
		client:      client,
		facade:      facade,
	}
	facade.onCapture = s.recordCapture
	s.engine = experiment.NewExecutor(ToolMap(facade), facade.GetMicroscopeState)
	return s
}

// StartServers brings up the named backend modules, or the full default
// set when none are named. An empty mode falls back to the configured run
// mode. The returned report has one line per module; bring-up failures
// are report lines, not errors.
func (s *MicroscopeSession) StartServers(ctx context.Context, mode domain.RunMode, names ...domain.ModuleName) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == "" {
		mode = s.cfg.RunMode
	}
	report, err := s.sup.StartServers(ctx, mode, names...)
	if err != nil {
		return "", err
	}
	if !report.OK() {
		s.logger.Warn("backend bring-up incomplete", slog.Int("failures", report.Failures))
	}
	s.logger.Info("backends started", slog.String("mode", string(mode)))
	return report.Text(), nil
}

// ConnectClient dials the central server and pushes the routing table for
// every known backend. Empty host or zero port fall back to configuration.
func (s *MicroscopeSession) ConnectClient(ctx context.Context, host string, port int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, err := s.client.Connect(ctx, host, port, backend.RoutingTable(s.descriptors))
	if err != nil {
		return "", err
	}
	s.logger.Info("client connected", slog.String("summary", summary))
	return summary, nil
}

// OpenJournal opens the run-history database at the configured path.
// Submissions journal only while it is open; opening twice is a no-op.
func (s *MicroscopeSession) OpenJournal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	db, err := store.NewDB(s.cfg.DBPath)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// SubmitExperiment runs one footprint end to end: parse, validate,
// execute against the instrument, journal, and render the outcome report.
// The rendered string is always usable when the error is nil or carries a
// constraint or action code; the error classifies the outcome for callers
// that need an exit status.
func (s *MicroscopeSession) SubmitExperiment(ctx context.Context, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.client.Connected() {
		return NotConnectedMsg, nil
	}

	fp, err := experiment.ParseFootprint(raw)
	if err != nil {
		return "", err
	}
	if err := s.validator.Validate(*fp); err != nil {
		return "", err
	}

	s.clearPending()
	startedAt := time.Now().Unix()
	res := s.engine.Run(ctx, *fp)
	finishedAt := time.Now().Unix()

	s.journal(ctx, fp, res, startedAt, finishedAt)
	s.logger.Info("experiment finished",
		slog.String("experiment_id", res.ExperimentID),
		slog.String("phase", string(res.Phase)),
		slog.Bool("success", res.Success),
		slog.Float64("reward", res.Reward))

	rendered := renderResult(res)
	switch {
	case len(res.Violations) > 0:
		return rendered, domain.NewEngineError(domain.ErrConstraintViolation.Code, strings.Join(res.Violations, "; "))
	case !res.Success:
		return rendered, domain.NewEngineError(domain.ErrActionFailure.Code, fmt.Sprintf("experiment %s aborted", res.ExperimentID))
	default:
		return rendered, nil
	}
}

// CloseMicroscope tears the session down: client connection, supervised
// backends and journal. Teardown failures are logged, not returned.
func (s *MicroscopeSession) CloseMicroscope() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		s.logger.Warn("client close failed", slog.Any("error", err))
	}
	s.sup.CloseServers()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("journal close failed", slog.Any("error", err))
		}
		s.db = nil
	}
	return "Microscope session closed."
}

// Facade exposes the command surface for direct, non-footprint operation.
func (s *MicroscopeSession) Facade() *Facade {
	return s.facade
}

// Connected reports whether the routed client has a live session.
func (s *MicroscopeSession) Connected() bool {
	return s.client.Connected()
}

// Running lists the backend processes the supervisor tracks.
func (s *MicroscopeSession) Running() []domain.RunningProcess {
	return s.sup.Running()
}

// RecentRuns lists journaled runs, newest first.
func (s *MicroscopeSession) RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return nil, domain.NewEngineError(domain.ErrStoreInit.Code, "journal not open")
	}
	return s.runs.ListRecent(ctx, db, limit)
}

// CapturesForRun lists the journaled artifacts of one run, oldest first.
func (s *MicroscopeSession) CapturesForRun(ctx context.Context, runID string) ([]domain.CaptureRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return nil, domain.NewEngineError(domain.ErrStoreInit.Code, "journal not open")
	}
	return s.captures.ListByRun(ctx, db, runID)
}

// journal persists the run and its captures. Journaling failures are
// logged and never affect the submission outcome. Pending captures drain
// even without an open journal so a later run cannot inherit them.
func (s *MicroscopeSession) journal(ctx context.Context, fp *domain.ExperimentFootprint, res *domain.ExperimentResult, startedAt, finishedAt int64) {
	caps := s.drainPending()
	if s.db == nil {
		return
	}

	runID, err := s.runs.Create(ctx, s.db, domain.RunRecord{
		ExperimentID: fp.ID,
		Description:  fp.Description,
		Phase:        domain.PhaseValidating,
		StartedAt:    startedAt,
	})
	if err != nil {
		s.logger.Error("journal create failed", slog.String("experiment_id", fp.ID), slog.Any("error", err))
		return
	}
	if err := s.runs.Finish(ctx, s.db, domain.RunRecord{
		RunID:      runID,
		Phase:      res.Phase,
		Success:    res.Success,
		Reward:     res.Reward,
		Log:        res.Log,
		FinishedAt: finishedAt,
	}); err != nil {
		s.logger.Error("journal finish failed", slog.String("run_id", runID), slog.Any("error", err))
	}
	for _, rec := range caps {
		rec.RunID = runID
		if _, err := s.captures.Record(ctx, s.db, rec); err != nil {
			s.logger.Error("journal capture failed", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
}

func (s *MicroscopeSession) recordCapture(rec domain.CaptureRecord) {
	s.capMu.Lock()
	s.pending = append(s.pending, rec)
	s.capMu.Unlock()
}

func (s *MicroscopeSession) clearPending() {
	s.capMu.Lock()
	s.pending = nil
	s.capMu.Unlock()
}

func (s *MicroscopeSession) drainPending() []domain.CaptureRecord {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// renderResult produces the submission report: the rejection notice when
// validation failed, otherwise the completed-run summary with verdict,
// reward and the full action log.
func renderResult(res *domain.ExperimentResult) string {
	if len(res.Violations) > 0 {
		return "Experiment rejected due to constraints: " + strings.Join(res.Violations, "; ")
	}

	verdict := "False"
	if res.Success {
		verdict = "True"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Experiment '%s' completed.\n", res.ExperimentID)
	fmt.Fprintf(&b, "Success: %s\n", verdict)
	fmt.Fprintf(&b, "Reward: %v", res.Reward)
	for _, line := range res.Log {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}
