// Package cleanup enforces retention on the audit ledger and sweeps orphaned
// uploads left behind by requests that never reached their deferred remove.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/physician/pkg/logging"
)

// Config defines retention policies and the sweep interval
type Config struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	LedgerRetention time.Duration `mapstructure:"ledger_retention" yaml:"ledger_retention"`
	UploadMaxAge    time.Duration `mapstructure:"upload_max_age" yaml:"upload_max_age"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	DeleteBatchSize int           `mapstructure:"delete_batch_size" yaml:"delete_batch_size"`
}

// DefaultConfig returns the retention used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		LedgerRetention: 30 * 24 * time.Hour,
		UploadMaxAge:    time.Hour,
		Interval:        time.Hour,
		DeleteBatchSize: 500,
	}
}

// Ledger is the part of the audit store retention needs
type Ledger interface {
	DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Stats tracks cleanup runs
type Stats struct {
	LastRun             time.Time     `json:"last_run"`
	LastRunDuration     time.Duration `json:"last_run_duration"`
	TotalRecordsDeleted int64         `json:"total_records_deleted"`
	TotalUploadsRemoved int64         `json:"total_uploads_removed"`
	Runs                int64         `json:"runs"`
}

// Manager runs retention periodically until stopped
type Manager struct {
	config    Config
	ledger    Ledger
	uploadDir string
	logger    *logging.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a cleanup manager. ledger or uploadDir may be empty to
// skip that half of the work.
func NewManager(cfg Config, ledger Ledger, uploadDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		config:    cfg,
		ledger:    ledger,
		uploadDir: uploadDir,
		logger:    logger.WithField("component", "cleanup"),
		now:       time.Now,
	}
}

// Start begins the periodic sweep. The first run happens immediately.
func (m *Manager) Start() {
	if !m.config.Enabled || m.config.Interval <= 0 {
		m.logger.Info("Cleanup manager disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.logger.Info("Starting cleanup manager", map[string]interface{}{
		"ledger_retention": m.config.LedgerRetention.String(),
		"upload_max_age":   m.config.UploadMaxAge.String(),
		"interval":         m.config.Interval.String(),
	})

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight run, bounded by ctx
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for cleanup to stop: %w", ctx.Err())
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.RunNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunNow(ctx)
		}
	}
}

// RunNow performs one retention pass and returns the updated totals
func (m *Manager) RunNow(ctx context.Context) Stats {
	start := m.now()

	records, err := m.pruneLedger(ctx, start)
	if err != nil {
		m.logger.Warn("Ledger retention failed", map[string]interface{}{"error": err.Error()})
	}
	uploads, err := m.sweepUploads(start)
	if err != nil {
		m.logger.Warn("Upload sweep failed", map[string]interface{}{"error": err.Error()})
	}

	m.mu.Lock()
	m.stats.LastRun = start
	m.stats.LastRunDuration = m.now().Sub(start)
	m.stats.TotalRecordsDeleted += records
	m.stats.TotalUploadsRemoved += uploads
	m.stats.Runs++
	stats := m.stats
	m.mu.Unlock()

	if records > 0 || uploads > 0 {
		m.logger.Info("Cleanup complete", map[string]interface{}{
			"records_deleted": records,
			"uploads_removed": uploads,
		})
	}
	return stats
}

// pruneLedger deletes in batches so a large backlog never holds one long transaction
func (m *Manager) pruneLedger(ctx context.Context, now time.Time) (int64, error) {
	if m.ledger == nil || m.config.LedgerRetention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-m.config.LedgerRetention)
	batch := m.config.DeleteBatchSize

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.ledger.DeleteVerificationsBefore(ctx, cutoff, batch)
		if err != nil {
			return total, err
		}
		total += n
		if batch <= 0 || n < int64(batch) {
			return total, nil
		}
	}
}

func (m *Manager) sweepUploads(now time.Time) (int64, error) {
	if m.uploadDir == "" || m.config.UploadMaxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(m.uploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read upload dir: %w", err)
	}

	cutoff := now.Add(-m.config.UploadMaxAge)
	var removed int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.uploadDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Failed to remove stale upload", map[string]interface{}{
				"file":  e.Name(),
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed, nil
}

// GetStats returns the running totals
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
