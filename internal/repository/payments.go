package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dewcredit/creditcase-system/internal/model"
)

// CreatePayment сохраняет платёж. Ключ идемпотентности — stripe_session_id:
// повторная доставка того же события не создаёт вторую строку.
// Возвращает признак того, что строка была вставлена этим вызовом.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (bool, error) {
	var inserted bool

	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO payments
			   (id, user_id, case_id, amount_cents, currency, status, plan,
			    stripe_session_id, stripe_product_id, stripe_price_id, paid_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (stripe_session_id) DO NOTHING`,
			p.ID, p.UserID, p.CaseID, p.AmountCents, p.Currency, string(p.Status), string(p.Plan),
			p.StripeSessionID, p.StripeProductID, p.StripePriceID, p.PaidAt, p.Metadata,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		inserted = cmdTag.RowsAffected() == 1
		return nil
	})

	return inserted, err
}

// AttachPaymentToCase привязывает платёж к делу.
func (r *PostgresRepository) AttachPaymentToCase(ctx context.Context, paymentID, caseID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET case_id = $2 WHERE id = $1`,
		paymentID, caseID,
	)
	if err != nil {
		return fmt.Errorf("attach payment to case: %w", err)
	}
	return nil
}

// GetPaymentsByUser возвращает платежи пользователя, свежие первыми.
func (r *PostgresRepository) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, case_id, amount_cents, currency, status, plan,
		        stripe_session_id, stripe_product_id, stripe_price_id, paid_at, metadata, created_at
		 FROM payments
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// GetCompletedPaymentsWithoutCase возвращает завершённые платежи с пользователем,
// но без дела. Источник для фоновой сверки после частичного сбоя шага открытия дела.
func (r *PostgresRepository) GetCompletedPaymentsWithoutCase(ctx context.Context, limit int) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, case_id, amount_cents, currency, status, plan,
		        stripe_session_id, stripe_product_id, stripe_price_id, paid_at, metadata, created_at
		 FROM payments
		 WHERE status = $1 AND user_id IS NOT NULL AND case_id IS NULL
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.PaymentStatusCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments without case: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

type paymentRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPayments(rows paymentRows) ([]model.Payment, error) {
	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		var status, plan string
		if err := rows.Scan(&p.ID, &p.UserID, &p.CaseID, &p.AmountCents, &p.Currency,
			&status, &plan, &p.StripeSessionID, &p.StripeProductID, &p.StripePriceID,
			&p.PaidAt, &p.Metadata, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = model.PaymentStatus(status)
		p.Plan = model.PlanType(plan)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
