package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/notify"
	"github.com/dewcredit/creditcase-system/internal/repository"
)

// GetCaseWithTimer возвращает активное дело пользователя вместе с его
// гарантийным таймером. Таймер может отсутствовать у старых дел.
func (s *Service) GetCaseWithTimer(ctx context.Context, userID int64) (*model.Case, *model.GuaranteeTimer, error) {
	c, err := s.repo.GetActiveCase(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCaseNotFound) {
			return nil, nil, ErrNoActiveCase
		}
		return nil, nil, err
	}

	t, err := s.repo.GetTimerByCase(ctx, c.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTimerNotFound) {
			return c, nil, nil
		}
		return nil, nil, err
	}

	return c, t, nil
}

// ListCases возвращает дела для админ-панели.
func (s *Service) ListCases(ctx context.Context, limit int) ([]model.Case, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCases(ctx, limit)
}

// UpdateCaseStage переводит дело на следующий этап обработки. Перевод на
// финальный этап завершает и дело, и его таймер.
func (s *Service) UpdateCaseStage(ctx context.Context, caseID uuid.UUID, stage model.CaseStage) error {
	if stage == model.CaseStageComplete {
		return s.CompleteCase(ctx, caseID)
	}
	return s.repo.UpdateCaseStage(ctx, caseID, stage)
}

// UpdateCaseStatus меняет статус дела. Завершение идёт через CompleteCase,
// чтобы не оставить таймер в running у завершённого дела; возврат средств
// отменяет таймер.
func (s *Service) UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, status model.CaseStatus) error {
	if status == model.CaseStatusCompleted {
		return s.CompleteCase(ctx, caseID)
	}

	if err := s.repo.UpdateCaseStatus(ctx, caseID, status); err != nil {
		return err
	}

	if status == model.CaseStatusRefunded {
		if err := s.repo.CancelTimerForCase(ctx, caseID); err != nil {
			s.logger.Warn("cancel timer failed", zap.String("caseID", caseID.String()), zap.Error(err))
		}
		if t, err := s.repo.GetTimerByCase(ctx, caseID); err == nil {
			if err := s.repo.AppendTimerHistory(ctx, t.ID, "canceled", map[string]string{"reason": "refunded"}); err != nil {
				s.logger.Warn("append timer history failed", zap.Error(err))
			}
		}
	}

	return nil
}

// CompleteCase завершает дело: статус completed, финальный этап, таймер
// переходит из running в completed.
func (s *Service) CompleteCase(ctx context.Context, caseID uuid.UUID) error {
	timer, timerErr := s.repo.GetTimerByCase(ctx, caseID)

	if err := s.repo.CompleteCase(ctx, caseID, time.Now().UTC()); err != nil {
		return err
	}

	if timerErr == nil {
		if err := s.repo.AppendTimerHistory(ctx, timer.ID, "completed", nil); err != nil {
			s.logger.Warn("append timer history failed", zap.Error(err))
		}
	}

	return nil
}

// PauseCaseTimer ставит таймер дела на паузу с указанием причины.
func (s *Service) PauseCaseTimer(ctx context.Context, caseID uuid.UUID, reason string) error {
	t, err := s.repo.GetTimerByCase(ctx, caseID)
	if err != nil {
		return err
	}
	return s.repo.PauseTimer(ctx, t.ID, reason, time.Now().UTC())
}

// ResumeCaseTimer возобновляет отсчёт, сдвигая дедлайн на длительность паузы.
func (s *Service) ResumeCaseTimer(ctx context.Context, caseID uuid.UUID) error {
	t, err := s.repo.GetTimerByCase(ctx, caseID)
	if err != nil {
		return err
	}
	return s.repo.ResumeTimer(ctx, t.ID, time.Now().UTC())
}

// GetPaymentsByUser возвращает платежи пользователя.
func (s *Service) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.repo.GetPaymentsByUser(ctx, userID)
}

// GetNotificationsByUser возвращает уведомления пользователя.
func (s *Service) GetNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	return s.repo.GetNotificationsByUser(ctx, userID)
}

// MarkNotificationRead помечает уведомление пользователя прочитанным.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, userID int64) error {
	return s.repo.MarkNotificationRead(ctx, notificationID, userID)
}

// GetAdminNotifications возвращает служебные уведомления для сотрудников.
func (s *Service) GetAdminNotifications(ctx context.Context, limit int) ([]model.AdminNotification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetAdminNotifications(ctx, limit)
}

// RegisterDocument регистрирует метаданные загруженного документа и привязывает
// его к активному делу пользователя.
func (s *Service) RegisterDocument(ctx context.Context, d *model.Document) error {
	c, err := s.repo.GetActiveCase(ctx, d.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrCaseNotFound) {
			return ErrNoActiveCase
		}
		return err
	}

	d.ID = uuid.New()
	d.CaseID = c.ID
	if d.VerificationStatus == "" {
		d.VerificationStatus = "pending"
	}

	return s.repo.CreateDocument(ctx, d)
}

// GetDocumentsByUser возвращает документы пользователя.
func (s *Service) GetDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error) {
	return s.repo.GetDocumentsByUser(ctx, userID)
}

// SetDocumentVerification обновляет статус проверки документа.
func (s *Service) SetDocumentVerification(ctx context.Context, documentID uuid.UUID, status string) error {
	return s.repo.SetDocumentVerification(ctx, documentID, status)
}

// SendMessage сохраняет сообщение. Сообщение от сотрудника дополнительно
// уведомляет клиента по SMS, сбой SMS на сохранение не влияет.
func (s *Service) SendMessage(ctx context.Context, m *model.Message) error {
	m.ID = uuid.New()

	if err := s.repo.CreateMessage(ctx, m); err != nil {
		return err
	}

	if m.IsAdminMessage && m.ToUserID != nil {
		s.notifyUserSMS(ctx, *m.ToUserID, notify.SMSAdminMessage, notify.TemplateParams{})
	}

	return nil
}

// GetMessagesForUser возвращает переписку пользователя.
func (s *Service) GetMessagesForUser(ctx context.Context, userID int64) ([]model.Message, error) {
	return s.repo.GetMessagesForUser(ctx, userID)
}
