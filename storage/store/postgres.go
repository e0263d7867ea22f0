package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmtrace/config"
	"farmtrace/internal/logger"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS anchor_tasks (
	request_id         TEXT PRIMARY KEY,
	batch_id           TEXT NOT NULL,
	batch_hash         CHAR(64) NOT NULL,
	activity_type      TEXT NOT NULL,
	product_name       TEXT NOT NULL DEFAULT '',
	quantity           TEXT NOT NULL DEFAULT '',
	is_organic         BOOLEAN NOT NULL DEFAULT FALSE,
	evidence_ref       TEXT NOT NULL DEFAULT '',
	received_timestamp TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL,
	retry_count        INTEGER NOT NULL DEFAULT 0,
	tx_ref             TEXT NOT NULL DEFAULT '',
	block_height       BIGINT NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS anchor_tasks_status_updated_idx ON anchor_tasks (status, updated_at);
CREATE INDEX IF NOT EXISTS anchor_tasks_batch_hash_idx ON anchor_tasks (batch_hash);
`

const taskColumns = `request_id, batch_id, batch_hash, activity_type, product_name, quantity, is_organic,
	evidence_ref, received_timestamp, status, retry_count, tx_ref, block_height, error_message, updated_at`

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresStore connects the pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	maxIdle, maxLifetime := cfg.Durations()
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MinConns = int32(cfg.MinConnections)
	poolCfg.MaxConnIdleTime = maxIdle
	poolCfg.MaxConnLifetime = maxLifetime

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: log.Named("store")}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	cfg.LogConfiguration(s.logger)
	return s, nil
}

func (s *PostgresStore) InsertAnchorTaskBatch(ctx context.Context, tasks []*AnchorTask) error {
	if len(tasks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(`INSERT INTO anchor_tasks (request_id, batch_id, batch_hash, activity_type, product_name,
			quantity, is_organic, evidence_ref, received_timestamp, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (request_id) DO NOTHING`,
			t.RequestID, t.BatchID, t.BatchHash, t.ActivityType, t.ProductName,
			t.Quantity, t.IsOrganic, t.EvidenceRef, t.ReceivedTimestamp, string(StatusReceived))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range tasks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert anchor task: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetAndMarkBatchAsProcessing(ctx context.Context, requestIDs []string, maxRetries int) (map[string]*AnchorTask, error) {
	if len(requestIDs) == 0 {
		return map[string]*AnchorTask{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE anchor_tasks SET
			status = CASE WHEN retry_count >= $2 THEN 'FAILED' ELSE 'PROCESSING' END,
			retry_count = CASE WHEN retry_count >= $2 THEN retry_count ELSE retry_count + 1 END,
			error_message = CASE WHEN retry_count >= $2 THEN 'max retries exceeded' ELSE error_message END,
			updated_at = now()
		WHERE request_id = ANY($1) AND status = 'RECEIVED'
		RETURNING `+taskColumns, requestIDs, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to claim anchor tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]*AnchorTask, len(requestIDs))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks[t.RequestID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed anchor tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	txRefs := make([]string, len(records))
	heights := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.RequestID
		txRefs[i] = r.TxRef
		heights[i] = int64(r.BlockHeight)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE anchor_tasks AS t SET
			status = 'COMPLETED', tx_ref = u.tx_ref, block_height = u.block_height,
			error_message = '', updated_at = now()
		FROM unnest($1::text[], $2::text[], $3::bigint[]) AS u(request_id, tx_ref, block_height)
		WHERE t.request_id = u.request_id AND t.status <> 'COMPLETED'`, ids, txRefs, heights)
	if err != nil {
		return fmt.Errorf("failed to mark anchor tasks completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error {
	return s.settle(ctx, StatusFailed, records)
}

func (s *PostgresStore) MarkBatchAsAmbiguous(ctx context.Context, records []FailureRecord) error {
	return s.settle(ctx, StatusAmbiguous, records)
}

func (s *PostgresStore) settle(ctx context.Context, status TaskStatus, records []FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	messages := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.RequestID
		messages[i] = r.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE anchor_tasks AS t SET status = $3, error_message = u.error_message, updated_at = now()
		FROM unnest($1::text[], $2::text[]) AS u(request_id, error_message)
		WHERE t.request_id = u.request_id AND t.status = 'PROCESSING'`, ids, messages, string(status))
	if err != nil {
		return fmt.Errorf("failed to mark anchor tasks %s: %w", status, err)
	}
	return nil
}

func (s *PostgresStore) MarkBatchForRetry(ctx context.Context, requestIDs []string, errorMessage string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE anchor_tasks SET status = 'RECEIVED', error_message = $2, updated_at = now()
		WHERE request_id = ANY($1) AND status IN ('PROCESSING', 'AMBIGUOUS')`, requestIDs, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark anchor tasks for retry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseBatch(ctx context.Context, requestIDs []string, reason string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE anchor_tasks SET status = 'RECEIVED', retry_count = GREATEST(retry_count - 1, 0),
			error_message = $2, updated_at = now()
		WHERE request_id = ANY($1) AND status = 'PROCESSING'`, requestIDs, reason)
	if err != nil {
		return fmt.Errorf("failed to release anchor tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) BlockedByPredecessor(ctx context.Context, requestIDs []string) (map[string]struct{}, error) {
	blocked := make(map[string]struct{})
	if len(requestIDs) == 0 {
		return blocked, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT t.request_id FROM anchor_tasks AS t
		WHERE t.request_id = ANY($1) AND EXISTS (
			SELECT 1 FROM anchor_tasks AS p
			WHERE p.batch_hash = t.batch_hash
				AND p.request_id <> t.request_id
				AND p.status IN ('RECEIVED', 'PROCESSING', 'AMBIGUOUS')
				AND (p.received_timestamp, p.request_id) < (t.received_timestamp, t.request_id)
				AND NOT (p.status = 'RECEIVED' AND p.request_id = ANY($1)))`, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check batch predecessors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blocked request id: %w", err)
		}
		blocked[id] = struct{}{}
	}
	return blocked, rows.Err()
}

func (s *PostgresStore) ListUnsettled(ctx context.Context, staleBefore time.Time, limit int) ([]*AnchorTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM anchor_tasks
		WHERE status = 'AMBIGUOUS' OR (status = 'PROCESSING' AND updated_at < $1)
		ORDER BY updated_at
		LIMIT $2`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled anchor tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*AnchorTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CompletedTxRefs(ctx context.Context, batchHash string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_ref FROM anchor_tasks
		WHERE batch_hash = $1 AND status = 'COMPLETED' AND tx_ref <> ''`, batchHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed tx refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan tx ref: %w", err)
		}
		refs[ref] = struct{}{}
	}
	return refs, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, requestID string) (*AnchorTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM anchor_tasks WHERE request_id = $1`, requestID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanTask(row pgx.Row) (*AnchorTask, error) {
	var (
		t           AnchorTask
		status      string
		blockHeight int64
	)
	err := row.Scan(&t.RequestID, &t.BatchID, &t.BatchHash, &t.ActivityType, &t.ProductName, &t.Quantity,
		&t.IsOrganic, &t.EvidenceRef, &t.ReceivedTimestamp, &status, &t.RetryCount, &t.TxRef, &blockHeight,
		&t.ErrorMessage, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan anchor task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.BlockHeight = uint64(blockHeight)
	return &t, nil
}
