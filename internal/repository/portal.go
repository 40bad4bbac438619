package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dewcredit/creditcase-system/internal/model"
)

// RecordWebhookEvent сохраняет проверенное вебхук-событие целиком.
// Для уже записанного event id возвращает false вместе с зафиксированным
// итогом обработки: пустой итог означает, что до итога обработка не дошла
// и повторная доставка должна пройти конвейер заново.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, string, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		uuid.New(), eventID, eventType, payload,
	)
	if err != nil {
		return false, "", fmt.Errorf("record webhook event: %w", err)
	}
	if cmdTag.RowsAffected() == 1 {
		return true, "", nil
	}

	var outcome string
	err = r.pool.QueryRow(ctx,
		`SELECT outcome FROM webhook_events WHERE event_id = $1`,
		eventID,
	).Scan(&outcome)
	if err != nil {
		return false, "", fmt.Errorf("get webhook outcome: %w", err)
	}

	return false, outcome, nil
}

// SetWebhookOutcome фиксирует итог обработки события.
func (r *PostgresRepository) SetWebhookOutcome(ctx context.Context, eventID, outcome string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_events SET outcome = $2 WHERE event_id = $1`,
		eventID, outcome,
	)
	if err != nil {
		return fmt.Errorf("set webhook outcome: %w", err)
	}
	return nil
}

// CreateNotification сохраняет уведомление пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, link)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotificationsByUser возвращает уведомления пользователя, свежие первыми.
func (r *PostgresRepository) GetNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, title, message, link, read, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationRead помечает уведомление прочитанным.
// Проверка владельца входит в условие запроса.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateAdminNotification сохраняет служебное уведомление для сотрудников.
func (r *PostgresRepository) CreateAdminNotification(ctx context.Context, n *model.AdminNotification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO admin_notifications (id, type, title, message, link)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.Type, n.Title, n.Message, n.Link,
	)
	if err != nil {
		return fmt.Errorf("insert admin notification: %w", err)
	}
	return nil
}

// GetAdminNotifications возвращает служебные уведомления, свежие первыми.
func (r *PostgresRepository) GetAdminNotifications(ctx context.Context, limit int) ([]model.AdminNotification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, title, message, link, read, created_at
		 FROM admin_notifications
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select admin notifications: %w", err)
	}
	defer rows.Close()

	var res []model.AdminNotification
	for rows.Next() {
		var n model.AdminNotification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message,
			&n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin notification: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateDocument сохраняет метаданные загруженного документа.
func (r *PostgresRepository) CreateDocument(ctx context.Context, d *model.Document) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents
		   (id, case_id, user_id, type, file_path, file_size, content_type, checksum, verification_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.CaseID, d.UserID, string(d.Type), d.FilePath, d.FileSize,
		d.ContentType, d.Checksum, d.VerificationStatus,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocumentsByUser возвращает документы пользователя, свежие первыми.
func (r *PostgresRepository) GetDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, case_id, user_id, type, file_path, file_size, content_type,
		        checksum, verification_status, uploaded_at
		 FROM documents
		 WHERE user_id = $1
		 ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()

	var res []model.Document
	for rows.Next() {
		var d model.Document
		var docType string
		if err := rows.Scan(&d.ID, &d.CaseID, &d.UserID, &docType, &d.FilePath,
			&d.FileSize, &d.ContentType, &d.Checksum, &d.VerificationStatus, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Type = model.DocumentType(docType)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetDocumentVerification обновляет статус проверки документа.
func (r *PostgresRepository) SetDocumentVerification(ctx context.Context, documentID uuid.UUID, status string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE documents SET verification_status = $2 WHERE id = $1`,
		documentID, status,
	)
	if err != nil {
		return fmt.Errorf("update document verification: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// CreateMessage сохраняет сообщение. Журнал сообщений только пополняется.
func (r *PostgresRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, case_id, from_user_id, to_user_id, content, is_admin_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.CaseID, m.FromUserID, m.ToUserID, m.Content, m.IsAdminMessage,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessagesForUser возвращает переписку пользователя в хронологическом порядке.
func (r *PostgresRepository) GetMessagesForUser(ctx context.Context, userID int64) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, case_id, from_user_id, to_user_id, content, is_admin_message, read_at, created_at
		 FROM messages
		 WHERE from_user_id = $1 OR to_user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var res []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.CaseID, &m.FromUserID, &m.ToUserID,
			&m.Content, &m.IsAdminMessage, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
