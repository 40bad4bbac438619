package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dewcredit/creditcase-system/internal/model"
)

const timerColumns = `id, case_id, status, start_at, deadline_at,
	paused_at, pause_reason, refund_eligible, warning_sent_at, created_at`

func scanTimer(row pgx.Row) (*model.GuaranteeTimer, error) {
	var t model.GuaranteeTimer
	var status string
	err := row.Scan(&t.ID, &t.CaseID, &status, &t.StartAt, &t.DeadlineAt,
		&t.PausedAt, &t.PauseReason, &t.RefundEligible, &t.WarningSentAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.TimerStatus(status)
	return &t, nil
}

// GetTimerByCase возвращает гарантийный таймер дела.
func (r *PostgresRepository) GetTimerByCase(ctx context.Context, caseID uuid.UUID) (*model.GuaranteeTimer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+timerColumns+` FROM guarantee_timers WHERE case_id = $1`,
		caseID,
	)

	t, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("get timer: %w", err)
	}

	return t, nil
}

// PauseTimer останавливает отсчёт. Условие в WHERE делает операцию атомарной:
// таймер должен быть running и без активной паузы.
func (r *PostgresRepository) PauseTimer(ctx context.Context, timerID uuid.UUID, reason string, now time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE guarantee_timers
		 SET paused_at = $2, pause_reason = $3
		 WHERE id = $1 AND status = $4 AND paused_at IS NULL`,
		timerID, now, reason, string(model.TimerStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("pause timer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTimerNotRunning
	}

	return r.AppendTimerHistory(ctx, timerID, "paused", map[string]string{"reason": reason})
}

// ResumeTimer возобновляет отсчёт, сдвигая дедлайн на длительность паузы.
func (r *PostgresRepository) ResumeTimer(ctx context.Context, timerID uuid.UUID, now time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE guarantee_timers
		 SET deadline_at = deadline_at + ($2::timestamptz - paused_at),
		     paused_at = NULL,
		     pause_reason = ''
		 WHERE id = $1 AND status = $3 AND paused_at IS NOT NULL`,
		timerID, now, string(model.TimerStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("resume timer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTimerNotPaused
	}

	return r.AppendTimerHistory(ctx, timerID, "resumed", nil)
}

// ExpiredTimer описывает сработавший таймер вместе с владельцем дела.
type ExpiredTimer struct {
	Timer  model.GuaranteeTimer
	CaseID uuid.UUID
	UserID int64
}

// ClaimExpiredTimers атомарно переводит просроченные running-таймеры в triggered
// и возвращает их вместе с делами. Условный UPDATE служит клеймом: два
// конкурентных прохода свипа не сработают по одному таймеру дважды.
// Таймеры на паузе не срабатывают даже после номинального дедлайна.
func (r *PostgresRepository) ClaimExpiredTimers(ctx context.Context, now time.Time, limit int) ([]ExpiredTimer, error) {
	rows, err := r.pool.Query(ctx,
		`WITH claimed AS (
		    UPDATE guarantee_timers
		    SET status = $1, refund_eligible = TRUE
		    WHERE id IN (
		        SELECT id FROM guarantee_timers
		        WHERE status = $2 AND paused_at IS NULL AND deadline_at <= $3
		        ORDER BY deadline_at
		        LIMIT $4
		        FOR UPDATE SKIP LOCKED
		    )
		    RETURNING `+timerColumns+`
		 )
		 SELECT c.*, cs.user_id
		 FROM claimed c
		 JOIN cases cs ON cs.id = c.case_id`,
		string(model.TimerStatusTriggered), string(model.TimerStatusRunning), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim expired timers: %w", err)
	}
	defer rows.Close()

	var res []ExpiredTimer
	for rows.Next() {
		var e ExpiredTimer
		var status string
		err := rows.Scan(&e.Timer.ID, &e.Timer.CaseID, &status, &e.Timer.StartAt, &e.Timer.DeadlineAt,
			&e.Timer.PausedAt, &e.Timer.PauseReason, &e.Timer.RefundEligible,
			&e.Timer.WarningSentAt, &e.Timer.CreatedAt, &e.UserID)
		if err != nil {
			return nil, fmt.Errorf("scan expired timer: %w", err)
		}
		e.Timer.Status = model.TimerStatus(status)
		e.CaseID = e.Timer.CaseID
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimWarningTimers атомарно помечает running-таймеры, до дедлайна которых
// осталось меньше threshold, и возвращает их для однократной отправки
// предупреждения.
func (r *PostgresRepository) ClaimWarningTimers(ctx context.Context, now time.Time, threshold time.Duration, limit int) ([]ExpiredTimer, error) {
	rows, err := r.pool.Query(ctx,
		`WITH claimed AS (
		    UPDATE guarantee_timers
		    SET warning_sent_at = $3
		    WHERE id IN (
		        SELECT id FROM guarantee_timers
		        WHERE status = $1 AND paused_at IS NULL AND warning_sent_at IS NULL
		          AND deadline_at > $3 AND deadline_at <= $4
		        ORDER BY deadline_at
		        LIMIT $2
		        FOR UPDATE SKIP LOCKED
		    )
		    RETURNING `+timerColumns+`
		 )
		 SELECT c.*, cs.user_id
		 FROM claimed c
		 JOIN cases cs ON cs.id = c.case_id`,
		string(model.TimerStatusRunning), limit, now, now.Add(threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("claim warning timers: %w", err)
	}
	defer rows.Close()

	var res []ExpiredTimer
	for rows.Next() {
		var e ExpiredTimer
		var status string
		err := rows.Scan(&e.Timer.ID, &e.Timer.CaseID, &status, &e.Timer.StartAt, &e.Timer.DeadlineAt,
			&e.Timer.PausedAt, &e.Timer.PauseReason, &e.Timer.RefundEligible,
			&e.Timer.WarningSentAt, &e.Timer.CreatedAt, &e.UserID)
		if err != nil {
			return nil, fmt.Errorf("scan warning timer: %w", err)
		}
		e.Timer.Status = model.TimerStatus(status)
		e.CaseID = e.Timer.CaseID
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CancelTimerForCase отменяет таймер дела, например при возврате средств.
// Уже завершённый или сработавший таймер не трогается.
func (r *PostgresRepository) CancelTimerForCase(ctx context.Context, caseID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE guarantee_timers
		 SET status = $2
		 WHERE case_id = $1 AND status = $3`,
		caseID, string(model.TimerStatusCanceled), string(model.TimerStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("cancel timer: %w", err)
	}
	return nil
}

// AppendTimerHistory дописывает событие в аудит-журнал таймера.
func (r *PostgresRepository) AppendTimerHistory(ctx context.Context, timerID uuid.UUID, event string, details map[string]string) error {
	entry := map[string]any{
		"event": event,
		"at":    time.Now().UTC().Format(time.RFC3339),
	}
	if len(details) > 0 {
		entry["details"] = details
	}

	raw, err := json.Marshal([]any{entry})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE guarantee_timers
		 SET webhook_history = webhook_history || $2::jsonb
		 WHERE id = $1`,
		timerID, raw,
	)
	if err != nil {
		return fmt.Errorf("append timer history: %w", err)
	}

	return nil
}
