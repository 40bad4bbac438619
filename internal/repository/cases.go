package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dewcredit/creditcase-system/internal/model"
)

const caseColumns = `id, user_id, status, current_stage, service_name,
	assigned_agent_id, notes, started_at, completed_at, created_at`

func scanCase(row pgx.Row) (*model.Case, error) {
	var c model.Case
	var status, stage string
	err := row.Scan(&c.ID, &c.UserID, &status, &stage, &c.ServiceName,
		&c.AssignedAgentID, &c.Notes, &c.StartedAt, &c.CompletedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.CaseStatus(status)
	c.CurrentStage = model.CaseStage(stage)
	return &c, nil
}

// GetActiveCase возвращает активное дело пользователя.
func (r *PostgresRepository) GetActiveCase(ctx context.Context, userID int64) (*model.Case, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+caseColumns+`
		 FROM cases
		 WHERE user_id = $1 AND status = ANY($2)`,
		userID, activeStatuses(),
	)

	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get active case: %w", err)
	}

	return c, nil
}

func activeStatuses() []string {
	res := make([]string, 0, len(model.ActiveCaseStatuses))
	for _, s := range model.ActiveCaseStatuses {
		res = append(res, string(s))
	}
	return res
}

// OpenCase создаёт дело и его гарантийный таймер в одной транзакции.
// Гонку двух конкурентных вебхуков одного пользователя разрешает частичный
// уникальный индекс: проигравший получает unique violation и возвращает
// уже существующее активное дело вместо создания второго.
func (r *PostgresRepository) OpenCase(ctx context.Context, c *model.Case, t *model.GuaranteeTimer) (*model.Case, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO cases (id, user_id, status, current_stage, service_name, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, string(c.Status), string(c.CurrentStage), c.ServiceName, c.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, selErr := r.GetActiveCase(ctx, c.UserID)
			if selErr != nil {
				return nil, false, fmt.Errorf("select existing case after conflict: %w", selErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert case: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO guarantee_timers (id, case_id, status, start_at, deadline_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, c.ID, string(model.TimerStatusRunning), t.StartAt, t.DeadlineAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert guarantee timer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	return c, true, nil
}

// GetCaseByID возвращает дело по идентификатору.
func (r *PostgresRepository) GetCaseByID(ctx context.Context, caseID uuid.UUID) (*model.Case, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`,
		caseID,
	)

	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get case: %w", err)
	}

	return c, nil
}

// ListCases возвращает дела для админ-панели, свежие первыми.
func (r *PostgresRepository) ListCases(ctx context.Context, limit int) ([]model.Case, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+caseColumns+`
		 FROM cases
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select cases: %w", err)
	}
	defer rows.Close()

	var res []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateCaseStage переводит дело на следующий этап обработки.
func (r *PostgresRepository) UpdateCaseStage(ctx context.Context, caseID uuid.UUID, stage model.CaseStage) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE cases SET current_stage = $2 WHERE id = $1`,
		caseID, string(stage),
	)
	if err != nil {
		return fmt.Errorf("update case stage: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// UpdateCaseStatus меняет статус дела.
func (r *PostgresRepository) UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, status model.CaseStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE cases SET status = $2 WHERE id = $1`,
		caseID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// CompleteCase завершает дело и его таймер одной транзакцией.
// Таймер переходит в completed только из running.
func (r *PostgresRepository) CompleteCase(ctx context.Context, caseID uuid.UUID, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE cases
		 SET status = $2, current_stage = $3, completed_at = $4
		 WHERE id = $1`,
		caseID, string(model.CaseStatusCompleted), string(model.CaseStageComplete), now,
	)
	if err != nil {
		return fmt.Errorf("complete case: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE guarantee_timers
		 SET status = $2
		 WHERE case_id = $1 AND status = $3`,
		caseID, string(model.TimerStatusCompleted), string(model.TimerStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("complete timer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
