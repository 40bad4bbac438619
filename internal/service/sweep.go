package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/notify"
	"github.com/dewcredit/creditcase-system/internal/plan"
)

const sweepBatchSize = 50

// StartGuaranteeSweep запускает фоновый обход гарантийных таймеров:
// срабатывание просроченных, предупреждения о близком дедлайне и дооткрытие
// дел по платежам, оставшимся без дела после частичного сбоя.
func (s *Service) StartGuaranteeSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

func (s *Service) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.triggerExpiredTimers(ctx, now)
	s.sendDeadlineWarnings(ctx, now)
	s.repairOrphanPayments(ctx)
}

// triggerExpiredTimers переводит просроченные таймеры в triggered и помечает
// дела как guarantee_triggered. Клейм атомарный на уровне БД, поэтому каждое
// срабатывание обрабатывается ровно одним проходом.
func (s *Service) triggerExpiredTimers(ctx context.Context, now time.Time) {
	expired, err := s.repo.ClaimExpiredTimers(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("claim expired timers failed", zap.Error(err))
		return
	}

	for _, e := range expired {
		if err := s.repo.UpdateCaseStatus(ctx, e.CaseID, model.CaseStatusGuaranteeTriggered); err != nil {
			s.logger.Error("mark case guarantee_triggered failed",
				zap.String("caseID", e.CaseID.String()), zap.Error(err))
		}

		if err := s.repo.AppendTimerHistory(ctx, e.Timer.ID, "triggered", map[string]string{
			"deadline_at": e.Timer.DeadlineAt.Format(time.RFC3339),
		}); err != nil {
			s.logger.Warn("append timer history failed", zap.Error(err))
		}

		if err := s.repo.CreateNotification(ctx, &model.Notification{
			ID:      uuid.New(),
			UserID:  e.UserID,
			Type:    "guarantee_triggered",
			Title:   "Your Guarantee Has Been Triggered",
			Message: "We did not complete your case within the guaranteed window. You are now eligible for a refund. Our team will contact you shortly.",
			Link:    "/portal/dashboard",
		}); err != nil {
			s.logger.Warn("create notification failed", zap.Error(err))
		}

		if err := s.repo.CreateAdminNotification(ctx, &model.AdminNotification{
			ID:      uuid.New(),
			Type:    "guarantee_triggered",
			Title:   "SLA Guarantee Triggered",
			Message: "Guarantee deadline missed for case " + e.CaseID.String() + ". Refund eligibility has been set.",
			Link:    "/admin/cases/" + e.CaseID.String(),
		}); err != nil {
			s.logger.Warn("create admin notification failed", zap.Error(err))
		}

		s.notifyUserSMS(ctx, e.UserID, notify.SMSSupport, notify.TemplateParams{})

		s.logger.Info("guarantee timer triggered",
			zap.String("timerID", e.Timer.ID.String()),
			zap.String("caseID", e.CaseID.String()),
			zap.Int64("userID", e.UserID))
	}
}

// sendDeadlineWarnings однократно предупреждает клиента, когда до дедлайна
// остаётся меньше двенадцати часов. Повтор исключает warning-клейм в БД.
func (s *Service) sendDeadlineWarnings(ctx context.Context, now time.Time) {
	warnings, err := s.repo.ClaimWarningTimers(ctx, now, warningThreshold, sweepBatchSize)
	if err != nil {
		s.logger.Error("claim warning timers failed", zap.Error(err))
		return
	}

	for _, w := range warnings {
		hoursLeft := int(w.Timer.DeadlineAt.Sub(now).Hours())
		if hoursLeft < 0 {
			hoursLeft = 0
		}

		if err := s.repo.CreateNotification(ctx, &model.Notification{
			ID:      uuid.New(),
			UserID:  w.UserID,
			Type:    "sla_warning",
			Title:   "Your SLA Window Is Closing",
			Message: "Less than 12 hours remain on your guarantee timer. Make sure all required documents are uploaded so our team can finish your case.",
			Link:    "/portal/documents",
		}); err != nil {
			s.logger.Warn("create warning notification failed", zap.Error(err))
		}

		params := notify.TemplateParams{HoursRemaining: hoursLeft}
		if profile, err := s.repo.GetProfile(ctx, w.UserID); err == nil {
			params.ClientName = profile.FullName
			if s.sms != nil {
				if err := s.sms.Send(ctx, w.UserID, profile.Phone, notify.SMSSLAWarning, params); err != nil {
					s.logger.Warn("sla warning sms failed", zap.Error(err))
				}
			}
		}

		s.logger.Info("sla warning sent",
			zap.String("timerID", w.Timer.ID.String()),
			zap.Int("hoursLeft", hoursLeft))
	}
}

// repairOrphanPayments дооткрывает дела по завершённым платежам без дела.
// Такие платежи остаются после сбоя шага открытия дела в обработчике вебхука.
func (s *Service) repairOrphanPayments(ctx context.Context) {
	payments, err := s.repo.GetCompletedPaymentsWithoutCase(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("select orphan payments failed", zap.Error(err))
		return
	}

	for i := range payments {
		p := &payments[i]

		serviceName := p.Metadata["service_name"]
		slaHours := plan.DefaultSLAHours
		if catalogPlan, ok := plan.ResolveByProduct(p.StripeProductID); ok {
			serviceName = catalogPlan.Name
			slaHours = catalogPlan.SLAHours
		}
		if serviceName == "" {
			serviceName = "Unknown"
		}

		opened, created, err := s.openCaseForPayment(ctx, p, serviceName, slaHours)
		if err != nil {
			s.logger.Error("repair case open failed",
				zap.String("paymentID", p.ID.String()), zap.Error(err))
			continue
		}

		s.logger.Info("orphan payment repaired",
			zap.String("paymentID", p.ID.String()),
			zap.String("caseID", opened.ID.String()),
			zap.Bool("caseCreated", created))
	}
}

func (s *Service) notifyUserSMS(ctx context.Context, userID int64, smsType notify.SMSType, params notify.TemplateParams) {
	if s.sms == nil {
		return
	}
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return
	}
	if params.ClientName == "" {
		params.ClientName = profile.FullName
	}
	if err := s.sms.Send(ctx, userID, profile.Phone, smsType, params); err != nil {
		s.logger.Warn("sms send failed", zap.Int64("userID", userID), zap.Error(err))
	}
}
