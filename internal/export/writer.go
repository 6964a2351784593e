package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"sol-portfolio-agent/internal/config"
	"sol-portfolio-agent/internal/ledger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ExecutionRecord is one terminal execution outcome flattened for
// storage.
type ExecutionRecord struct {
	Time      time.Time
	ActionID  string
	Kind      string
	Venue     string
	Asset     string
	Amount    uint64
	Success   bool
	Signature string
	Retries   int
	Err       string
}

// Writer streams commitments and execution outcomes into Postgres on a
// background goroutine. Enqueue never blocks; overflow is dropped and
// counted. A nil *Writer is a no-op so callers need no enabled checks.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	commitments chan ledger.Commitment
	executions  chan ExecutionRecord
	started     atomic.Bool
	dropCommit  atomic.Uint64
	dropExec    atomic.Uint64
}

func New(cfg config.ExportConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("export dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		commitments: make(chan ledger.Commitment, queueSize),
		executions:  make(chan ExecutionRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCommitment(c ledger.Commitment) {
	if w == nil {
		return
	}
	select {
	case w.commitments <- c:
		return
	default:
		if w.dropCommit.Add(1) == 1 && w.log != nil {
			w.log.Warn("export commitment queue full")
		}
	}
}

func (w *Writer) EnqueueExecution(rec ExecutionRecord) {
	if w == nil {
		return
	}
	select {
	case w.executions <- rec:
		return
	default:
		if w.dropExec.Add(1) == 1 && w.log != nil {
			w.log.Warn("export execution queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.commitments:
			w.writeCommitment(ctx, c)
		case rec := <-w.executions:
			w.writeExecution(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("export db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGINT NOT NULL,
		kind TEXT NOT NULL,
		cycle BIGINT NOT NULL,
		hash TEXT NOT NULL,
		trace JSONB NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (seq, hash)
	)`, w.table("agent_commitments"))); err != nil {
		return err
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		action_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		venue TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		success BOOLEAN NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("agent_executions")))
}

func (w *Writer) writeCommitment(ctx context.Context, c ledger.Commitment) {
	if w.db == nil {
		return
	}
	trace, err := json.Marshal(c.Trace)
	if err != nil {
		if w.log != nil {
			w.log.Warn("export commitment encode failed", zap.Error(err))
		}
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		seq, kind, cycle, hash, trace, committed_at
	) VALUES (
		$1,$2,$3,$4,$5,$6
	) ON CONFLICT (seq, hash) DO NOTHING`, w.table("agent_commitments"))
	if _, err := w.db.ExecContext(ctx, query,
		c.Seq,
		c.Trace.Kind,
		c.Trace.Cycle,
		c.Hash,
		trace,
		c.Committed,
	); err != nil && w.log != nil {
		w.log.Warn("export commitment insert failed", zap.Error(err))
	}
}

func (w *Writer) writeExecution(ctx context.Context, rec ExecutionRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, action_id, kind, venue, asset, amount, success, signature, retries, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("agent_executions"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.ActionID,
		rec.Kind,
		rec.Venue,
		rec.Asset,
		rec.Amount,
		rec.Success,
		rec.Signature,
		rec.Retries,
		rec.Err,
	); err != nil && w.log != nil {
		w.log.Warn("export execution insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
