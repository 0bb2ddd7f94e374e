package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schedule and alerts are stored as jsonb. pgx marshals them with
// encoding/json on the way in and unmarshals them on the way out.
type BatchRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewBatchRepository(pool *pgxpool.Pool, logger *slog.Logger) *BatchRepository {
	return &BatchRepository{pool: pool, logger: logger.With("component", "batch_repo")}
}

const batchColumns = `id, user_id, recipe_name, schedule, current_step, alerts, archived, created_at, updated_at`

func (r *BatchRepository) Create(ctx context.Context, b *domain.Batch) (*domain.Batch, error) {
	query := `
		INSERT INTO batches (id, user_id, recipe_name, schedule, current_step, alerts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + batchColumns

	row := r.pool.QueryRow(ctx, query,
		b.ID, b.UserID, b.RecipeName, b.Process.Schedule, b.Process.CurrentStep, alertsOrEmpty(b.Alerts),
	)
	created, err := scanBatch(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: duplicate batch id %s", domain.ErrInvalidSchedule, b.ID)
		}
		return nil, err
	}
	return created, nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	return scanBatch(row)
}

// Update writes a navigator snapshot. Alerts are merged under a row lock so
// deliveries recorded by MarkAlertsNotified since the snapshot are kept.
func (r *BatchRepository) Update(ctx context.Context, b *domain.Batch) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	stored, err := scanBatch(tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, b.ID))
	if err != nil {
		return err
	}
	if stored.Archived {
		return domain.ErrBatchArchived
	}

	alerts := domain.MergeNotified(stored.Alerts, b.Alerts)
	if _, err = tx.Exec(ctx,
		`UPDATE batches
		 SET    schedule = $2, current_step = $3, alerts = $4, updated_at = NOW()
		 WHERE  id = $1`,
		b.ID, b.Process.Schedule, b.Process.CurrentStep, alertsOrEmpty(alerts),
	); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) End(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE batches SET archived = TRUE, updated_at = NOW()
		 WHERE id = $1 AND NOT archived`, id)
	if err != nil {
		return fmt.Errorf("end batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrArchived(ctx, id)
	}
	return nil
}

// missingOrArchived explains why a guarded update touched no rows.
func (r *BatchRepository) missingOrArchived(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrBatchArchived
}

// PatchStep rewrites a single step under a row lock so concurrent patches
// of different steps in the same batch do not overwrite each other.
func (r *BatchRepository) PatchStep(ctx context.Context, batchID, stepID string, patch domain.StepPatch) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	b, err := scanBatch(tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, batchID))
	if err != nil {
		return err
	}
	if b.Archived {
		return domain.ErrBatchArchived
	}
	idx := b.StepIndex(stepID)
	if idx == -1 {
		return fmt.Errorf("patch step %s: %w", stepID, domain.ErrStepNotFound)
	}
	patch.Apply(&b.Process.Schedule[idx])

	if _, err = tx.Exec(ctx,
		`UPDATE batches SET schedule = $2, updated_at = NOW() WHERE id = $1`,
		batchID, b.Process.Schedule,
	); err != nil {
		return fmt.Errorf("write step %s: %w", stepID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) ListActive(ctx context.Context) ([]*domain.Batch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE NOT archived ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func (r *BatchRepository) MarkAlertsNotified(ctx context.Context, batchID string, alertIDs []string) (err error) {
	if len(alertIDs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var alerts []domain.Alert
	err = tx.QueryRow(ctx,
		`SELECT alerts FROM batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&alerts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrBatchNotFound
		}
		return fmt.Errorf("load alerts: %w", err)
	}

	marked := 0
	for i := range alerts {
		if slices.Contains(alertIDs, alerts[i].ID) && !alerts[i].Notified {
			alerts[i].Notified = true
			marked++
		}
	}
	if marked == 0 {
		r.logger.Debug("no alerts to mark", "batch_id", batchID)
	}

	if _, err = tx.Exec(ctx,
		`UPDATE batches SET alerts = $2, updated_at = NOW() WHERE id = $1`,
		batchID, alertsOrEmpty(alerts),
	); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	err := row.Scan(
		&b.ID, &b.UserID, &b.RecipeName, &b.Process.Schedule, &b.Process.CurrentStep,
		&b.Alerts, &b.Archived, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		// malformed uuid in the lookup
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return &b, nil
}

// a nil slice would be stored as JSON null
func alertsOrEmpty(alerts []domain.Alert) []domain.Alert {
	if alerts == nil {
		return []domain.Alert{}
	}
	return alerts
}
