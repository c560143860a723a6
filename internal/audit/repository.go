package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/b3quant/internal/contracts"
)

// Report kinds
const (
	KindBacktest    = "backtest"
	KindWalkForward = "walkforward"
)

// ErrReportNotFound is returned when no report matches
var ErrReportNotFound = errors.New("report not found")

// StoredReport is a persisted run result; Payload holds the full JSON report
type StoredReport struct {
	ID         string              `json:"id"`
	Kind       string              `json:"kind"`
	CreatedAt  time.Time           `json:"created_at"`
	ConfigHash string              `json:"config_hash"`
	Summary    contracts.MetricSet `json:"summary"`
	Payload    json.RawMessage     `json:"payload,omitempty"`
}

// ReportStore persists run reports
// ⭐ SSOT: 리포트 저장/조회는 이 인터페이스를 통해서만
type ReportStore interface {
	Save(ctx context.Context, report StoredReport) error
	Get(ctx context.Context, id string) (*StoredReport, error)
	Latest(ctx context.Context, kind string) (*StoredReport, error)
	List(ctx context.Context, limit int) ([]StoredReport, error)
}

// MemoryStore keeps reports in process (default when no database is configured)
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]StoredReport
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]StoredReport)}
}

// Save stores or replaces a report
func (m *MemoryStore) Save(_ context.Context, report StoredReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ID] = report
	return nil
}

// Get returns a report by id
func (m *MemoryStore) Get(_ context.Context, id string) (*StoredReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return &r, nil
}

// Latest returns the most recent report of kind ("" = any kind)
func (m *MemoryStore) Latest(_ context.Context, kind string) (*StoredReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *StoredReport
	for _, r := range m.reports {
		if kind != "" && r.Kind != kind {
			continue
		}
		if best == nil || newer(r, *best) {
			r := r
			best = &r
		}
	}
	if best == nil {
		return nil, ErrReportNotFound
	}
	return best, nil
}

// List returns reports newest first without payloads (limit <= 0 → all)
func (m *MemoryStore) List(_ context.Context, limit int) ([]StoredReport, error) {
	m.mu.RLock()
	out := make([]StoredReport, 0, len(m.reports))
	for _, r := range m.reports {
		r.Payload = nil
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newer(a, b StoredReport) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Repository handles audit data persistence in PostgreSQL
// ⭐ SSOT: Audit 데이터 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save upserts a report into audit.backtest_reports
func (r *Repository) Save(ctx context.Context, report StoredReport) error {
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO audit.backtest_reports (
			id, kind, created_at, config_hash, summary, payload
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			summary = EXCLUDED.summary,
			payload = EXCLUDED.payload
	`

	_, err = r.pool.Exec(ctx, query,
		report.ID, report.Kind, report.CreatedAt, report.ConfigHash, summaryJSON, []byte(report.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// SavePerformanceRecords stores per-split metric records of a walk-forward run
func (r *Repository) SavePerformanceRecords(ctx context.Context, runID string, records []contracts.PerformanceRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO audit.performance_records (
			run_id, window_id, metric_name, value, valid
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, window_id, metric_name) DO UPDATE SET
			value = EXCLUDED.value,
			valid = EXCLUDED.valid
	`

	batch := &pgx.Batch{}
	for _, rec := range records {
		for name, m := range rec.Metrics {
			var value *float64
			if m.Valid {
				v := m.Value
				value = &v
			}
			batch.Queue(query, runID, rec.WindowID, name, value, m.Valid)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert performance records: %w", err)
	}
	return tx.Commit(ctx)
}

const reportColumns = `id, kind, created_at, config_hash, summary, payload`

func scanReport(row pgx.Row) (*StoredReport, error) {
	var report StoredReport
	var summaryJSON, payload []byte

	err := row.Scan(&report.ID, &report.Kind, &report.CreatedAt, &report.ConfigHash, &summaryJSON, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	if err := json.Unmarshal(summaryJSON, &report.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	report.Payload = payload
	return &report, nil
}

// Get retrieves a report by id
func (r *Repository) Get(ctx context.Context, id string) (*StoredReport, error) {
	query := `SELECT ` + reportColumns + ` FROM audit.backtest_reports WHERE id = $1`
	return scanReport(r.pool.QueryRow(ctx, query, id))
}

// Latest retrieves the most recent report of kind ("" = any kind)
func (r *Repository) Latest(ctx context.Context, kind string) (*StoredReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM audit.backtest_reports
		WHERE $1 = '' OR kind = $1
		ORDER BY created_at DESC, id ASC
		LIMIT 1
	`
	return scanReport(r.pool.QueryRow(ctx, query, kind))
}

// List retrieves report summaries, newest first (limit <= 0 → 100)
func (r *Repository) List(ctx context.Context, limit int) ([]StoredReport, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, created_at, config_hash, summary, NULL::bytea
		FROM audit.backtest_reports
		ORDER BY created_at DESC, id ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := make([]StoredReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		report.Payload = nil
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return reports, nil
}

var (
	_ ReportStore = (*MemoryStore)(nil)
	_ ReportStore = (*Repository)(nil)
)
