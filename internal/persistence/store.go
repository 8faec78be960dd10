package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunStatus is the outcome of one compilation.
type RunStatus int

const (
	RunCompiled RunStatus = iota
	RunFailed
)

func (s RunStatus) String() string {
	if s == RunFailed {
		return "failed"
	}
	return "compiled"
}

// Run is the summary row of one graph compilation.
type Run struct {
	ID          string
	Graph       string
	Fingerprint uint64 // Structural hash of the graph
	Arch        string
	PoolSize    int64
	Status      RunStatus
	Makespan    int
	Spills      int
	Budget      int // Barrier budget that was feasible
	Attempts    int
	PeakLive    int
	Error       string
	CreatedAt   time.Time
}

// ScheduledTask is one entry of a stored schedule.
type ScheduledTask struct {
	Position int
	Task     int
	Name     string
	Kind     string
	Time     int
	IsDataOp bool
}

// BarrierAssignment is the physical slot chosen for one virtual barrier.
type BarrierAssignment struct {
	Virtual    int
	Name       string
	Real       int
	Producers  int
	Consumers  int
	NextSameID int
}

// Store defines the persistence interface for compiled runs.
type Store interface {
	// Run operations
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, graph string) ([]*Run, error)
	LatestRun(ctx context.Context, fingerprint uint64) (*Run, error)

	// Run details
	SaveSchedule(ctx context.Context, runID string, tasks []ScheduledTask) error
	GetSchedule(ctx context.Context, runID string) ([]ScheduledTask, error)
	SaveBarriers(ctx context.Context, runID string, barriers []BarrierAssignment) error
	GetBarriers(ctx context.Context, runID string) ([]BarrierAssignment, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Every store gets its own named database, shared by its connections only.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for primary queries, one for detail lookups
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
