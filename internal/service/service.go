// Package service реализует бизнес-логику портала кредитного сервиса.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/notify"
	"github.com/dewcredit/creditcase-system/internal/plan"
	"github.com/dewcredit/creditcase-system/internal/repository"
	"github.com/dewcredit/creditcase-system/internal/stripe"
)

// ErrUnknownPlan возвращается, если запрошенный тариф отсутствует в каталоге
// или не продаётся через чекаут. Проверка идёт до обращения к Stripe.
var (
	ErrUnknownPlan = errors.New("unknown or non-purchasable plan")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoActiveCase возвращается, если у пользователя нет активного дела.
	ErrNoActiveCase = errors.New("no active case")
)

// Итоги обработки вебхук-события, сохраняемые в webhook_events.outcome.
const (
	outcomeProcessed     = "processed"
	outcomeCaseReused    = "case_reused"
	outcomeSkippedNoUser = "skipped_no_user"
	outcomeDuplicate     = "duplicate_session"
	outcomeCaseFailed    = "payment_recorded_case_failed"
	outcomeFailedLogged  = "failed_payment_recorded"
	outcomeBadPayload    = "malformed_payload"
	outcomeIgnored       = "ignored"
)

const warningThreshold = 12 * time.Hour

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID int64) (*model.User, error)
	GetRoles(ctx context.Context, userID int64) ([]model.Role, error)
	GetProfile(ctx context.Context, userID int64) (*model.Profile, error)
	UpdateProfile(ctx context.Context, p *model.Profile) error

	CreatePayment(ctx context.Context, p *model.Payment) (bool, error)
	AttachPaymentToCase(ctx context.Context, paymentID, caseID uuid.UUID) error
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)
	GetCompletedPaymentsWithoutCase(ctx context.Context, limit int) ([]model.Payment, error)

	GetActiveCase(ctx context.Context, userID int64) (*model.Case, error)
	OpenCase(ctx context.Context, c *model.Case, t *model.GuaranteeTimer) (*model.Case, bool, error)
	GetCaseByID(ctx context.Context, caseID uuid.UUID) (*model.Case, error)
	ListCases(ctx context.Context, limit int) ([]model.Case, error)
	UpdateCaseStage(ctx context.Context, caseID uuid.UUID, stage model.CaseStage) error
	UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, status model.CaseStatus) error
	CompleteCase(ctx context.Context, caseID uuid.UUID, now time.Time) error

	GetTimerByCase(ctx context.Context, caseID uuid.UUID) (*model.GuaranteeTimer, error)
	PauseTimer(ctx context.Context, timerID uuid.UUID, reason string, now time.Time) error
	ResumeTimer(ctx context.Context, timerID uuid.UUID, now time.Time) error
	CancelTimerForCase(ctx context.Context, caseID uuid.UUID) error
	ClaimExpiredTimers(ctx context.Context, now time.Time, limit int) ([]repository.ExpiredTimer, error)
	ClaimWarningTimers(ctx context.Context, now time.Time, threshold time.Duration, limit int) ([]repository.ExpiredTimer, error)
	AppendTimerHistory(ctx context.Context, timerID uuid.UUID, event string, details map[string]string) error

	RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, string, error)
	SetWebhookOutcome(ctx context.Context, eventID, outcome string) error

	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, userID int64) error
	CreateAdminNotification(ctx context.Context, n *model.AdminNotification) error
	GetAdminNotifications(ctx context.Context, limit int) ([]model.AdminNotification, error)

	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error)
	SetDocumentVerification(ctx context.Context, documentID uuid.UUID, status string) error

	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessagesForUser(ctx context.Context, userID int64) ([]model.Message, error)
}

// StripeAPI описывает используемые сервисом операции платёжной системы.
type StripeAPI interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CreateCheckoutSessionParams) (*stripe.CheckoutSession, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	ListLineItems(ctx context.Context, sessionID string) ([]stripe.LineItem, error)
}

// EmailSender отправляет письма клиентам.
type EmailSender interface {
	Send(ctx context.Context, to string, emailType notify.EmailType, params notify.TemplateParams) error
}

// SMSSender отправляет SMS клиентам.
type SMSSender interface {
	Send(ctx context.Context, userID int64, phoneNumber string, smsType notify.SMSType, params notify.TemplateParams) error
}

// Service содержит бизнес-логику портала кредитного сервиса.
type Service struct {
	repo    Repository
	stripe  StripeAPI
	email   EmailSender
	sms     SMSSender
	baseURL string
	logger  *zap.Logger
}

// NewService создаёт новый сервис.
func NewService(repo Repository, stripeClient StripeAPI, email EmailSender, sms SMSSender, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		stripe:  stripeClient,
		email:   email,
		sms:     sms,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового клиента и отправляет приветственное письмо.
// Сбой отправки письма не откатывает регистрацию.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (int64, error) {
	hashed := hashPassword(email, password)
	id, err := s.repo.CreateUser(ctx, email, hashed)
	if err != nil {
		return 0, err
	}

	if s.email != nil {
		if err := s.email.Send(ctx, email, notify.EmailWelcome, notify.TemplateParams{}); err != nil {
			s.logger.Warn("welcome email failed", zap.Int64("userID", id), zap.Error(err))
		}
	}

	return id, nil
}

// AuthenticateUser проверяет email и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetProfile возвращает профиль пользователя.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// UpdateProfile обновляет контактные данные профиля.
func (s *Service) UpdateProfile(ctx context.Context, p *model.Profile) error {
	return s.repo.UpdateProfile(ctx, p)
}

// Plans возвращает каталог тарифов.
func (s *Service) Plans() []plan.Plan {
	return plan.All()
}

// CreateCheckout создаёт чекаут-сессию Stripe для указанного тарифа.
// Тариф проверяется по каталогу до любого обращения к Stripe: произвольный
// price id от клиента наружу не уходит.
func (s *Service) CreateCheckout(ctx context.Context, userID int64, planID string) (*stripe.CheckoutSession, error) {
	p, ok := plan.Resolve(planID)
	if !ok || p.StripePriceID == "" || !plan.AllowedPriceID(p.StripePriceID) {
		return nil, ErrUnknownPlan
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := stripe.CreateCheckoutSessionParams{
		PriceID:    p.StripePriceID,
		SuccessURL: s.baseURL + "/portal/dashboard?status=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.baseURL + "/pricing?status=cancelled",
	}

	// Существующий клиент Stripe переиспользуется, чтобы платежи одного
	// email не расползались по нескольким customer-объектам.
	customer, err := s.stripe.FindCustomerByEmail(ctx, u.Email)
	if err != nil {
		s.logger.Warn("stripe customer lookup failed", zap.Error(err))
	}
	if customer != nil {
		params.CustomerID = customer.ID
	} else {
		params.CustomerEmail = u.Email
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return session, nil
}

// ProcessStripeEvent обрабатывает проверенное вебхук-событие Stripe.
// Подпись уже проверена на уровне HTTP. Событие сначала целиком записывается
// в webhook_events. Повторная доставка event id с зафиксированным итогом
// подтверждается без побочных эффектов; если итога нет (обработка оборвалась,
// например на вставке платежа), конвейер проходится заново: каждый его шаг
// идемпотентен. Ненулевая ошибка означает, что платёж не удалось сохранить и
// Stripe должен повторить доставку.
func (s *Service) ProcessStripeEvent(ctx context.Context, event *stripe.Event, payload []byte) error {
	inserted, priorOutcome, err := s.repo.RecordWebhookEvent(ctx, event.ID, event.Type, payload)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !inserted {
		if priorOutcome != "" {
			s.logger.Info("duplicate webhook event, acknowledging",
				zap.String("eventID", event.ID), zap.String("type", event.Type),
				zap.String("outcome", priorOutcome))
			return nil
		}
		s.logger.Info("redelivered webhook event without recorded outcome, reprocessing",
			zap.String("eventID", event.ID), zap.String("type", event.Type))
	}

	switch event.Type {
	case stripe.EventCheckoutSessionCompleted:
		return s.processCheckoutCompleted(ctx, event)
	case stripe.EventPaymentIntentFailed:
		return s.processPaymentFailed(ctx, event)
	default:
		s.setOutcome(ctx, event.ID, outcomeIgnored)
		return nil
	}
}

func (s *Service) processCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSessionEvent
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		// Подпись валидна, но объект не разбирается: ретрай Stripe ничего
		// не изменит, сырая нагрузка уже сохранена для разбора.
		s.logger.Warn("malformed checkout session payload",
			zap.String("eventID", event.ID), zap.Error(err))
		s.setOutcome(ctx, event.ID, outcomeBadPayload)
		return nil
	}

	email := session.Email()
	if email == "" {
		s.logger.Warn("checkout session without customer email", zap.String("sessionID", session.ID))
		s.setOutcome(ctx, event.ID, outcomeSkippedNoUser)
		return nil
	}

	// Плательщик без аккаунта на портале — штатная ситуация: событие
	// подтверждается, чтобы Stripe не ретраил его бесконечно, а сырая
	// нагрузка остаётся в webhook_events для ручной сверки.
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Warn("no portal user for payment email",
				zap.String("sessionID", session.ID), zap.String("email", email))
			s.setOutcome(ctx, event.ID, outcomeSkippedNoUser)
			return nil
		}
		return fmt.Errorf("lookup user by email: %w", err)
	}

	serviceName, productID, priceID, slaHours, planType, degraded := s.resolvePlan(ctx, session.ID)

	now := time.Now().UTC()
	payment := &model.Payment{
		ID:              uuid.New(),
		UserID:          &u.ID,
		AmountCents:     session.AmountTotal,
		Currency:        strings.ToUpper(session.Currency),
		Status:          model.PaymentStatusCompleted,
		Plan:            planType,
		StripeSessionID: session.ID,
		StripeProductID: productID,
		StripePriceID:   priceID,
		PaidAt:          &now,
		Metadata: map[string]string{
			"service_name":   serviceName,
			"payment_intent": session.PaymentIntent,
			"customer_email": email,
		},
	}
	if degraded {
		payment.Metadata["degraded_plan_mapping"] = "true"
	}

	inserted, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	if !inserted {
		s.logger.Info("payment for session already recorded", zap.String("sessionID", session.ID))
		s.setOutcome(ctx, event.ID, outcomeDuplicate)
		return nil
	}

	opened, created, err := s.openCaseForPayment(ctx, payment, serviceName, slaHours)
	if err != nil {
		// Платёж сохранён, Stripe ретраить нечего: дело дооткроет
		// фоновая сверка по платежам без дела.
		s.logger.Error("case open failed after payment",
			zap.String("paymentID", payment.ID.String()), zap.Error(err))
		s.setOutcome(ctx, event.ID, outcomeCaseFailed)
		return nil
	}

	s.notifyPaymentProcessed(ctx, u, payment, opened, created, serviceName, slaHours)

	if created {
		s.setOutcome(ctx, event.ID, outcomeProcessed)
	} else {
		s.setOutcome(ctx, event.ID, outcomeCaseReused)
	}

	s.logger.Info("checkout session processed",
		zap.String("sessionID", session.ID),
		zap.Int64("userID", u.ID),
		zap.String("caseID", opened.ID.String()),
		zap.Bool("caseCreated", created),
		zap.Int64("amountCents", payment.AmountCents))

	return nil
}

// resolvePlan сопоставляет позицию чекаут-сессии с тарифом каталога по stripe
// product id. Неизвестный продукт или недоступный Stripe не роняет обработку:
// применяется дефолтный SLA, а платёж помечается деградированным маппингом.
func (s *Service) resolvePlan(ctx context.Context, sessionID string) (serviceName, productID, priceID string, slaHours int, planType model.PlanType, degraded bool) {
	serviceName = "Unknown"
	slaHours = plan.DefaultSLAHours
	planType = model.PlanTypeBasic
	degraded = true

	items, err := s.stripe.ListLineItems(ctx, sessionID)
	if err != nil {
		s.logger.Warn("list line items failed", zap.String("sessionID", sessionID), zap.Error(err))
		return
	}
	if len(items) == 0 {
		s.logger.Warn("checkout session has no line items", zap.String("sessionID", sessionID))
		return
	}

	item := items[0]
	if item.Description != "" {
		serviceName = item.Description
	}
	productID = item.Price.Product
	priceID = item.Price.ID

	p, ok := plan.ResolveByProduct(productID)
	if !ok {
		s.logger.Warn("stripe product not in catalog, using default SLA",
			zap.String("productID", productID))
		return
	}

	return p.Name, productID, priceID, p.SLAHours, p.Type, false
}

func (s *Service) openCaseForPayment(ctx context.Context, payment *model.Payment, serviceName string, slaHours int) (*model.Case, bool, error) {
	now := time.Now().UTC()

	c := &model.Case{
		ID:           uuid.New(),
		UserID:       *payment.UserID,
		Status:       model.CaseStatusInProgress,
		CurrentStage: model.CaseStageReviewingDocs,
		ServiceName:  serviceName,
		StartedAt:    now,
	}
	t := &model.GuaranteeTimer{
		ID:         uuid.New(),
		CaseID:     c.ID,
		Status:     model.TimerStatusRunning,
		StartAt:    now,
		DeadlineAt: now.Add(time.Duration(slaHours) * time.Hour),
	}

	opened, created, err := s.repo.OpenCase(ctx, c, t)
	if err != nil {
		return nil, false, err
	}

	if err := s.repo.AttachPaymentToCase(ctx, payment.ID, opened.ID); err != nil {
		s.logger.Warn("attach payment to case failed",
			zap.String("paymentID", payment.ID.String()), zap.Error(err))
	}

	if created {
		if err := s.repo.AppendTimerHistory(ctx, t.ID, "started", map[string]string{
			"sla_hours":  fmt.Sprintf("%d", slaHours),
			"payment_id": payment.ID.String(),
		}); err != nil {
			s.logger.Warn("append timer history failed", zap.Error(err))
		}
	}

	return opened, created, nil
}

// notifyPaymentProcessed рассылает уведомления об активации дела. Все каналы
// best-effort: сбой любого из них логируется и не влияет на итог обработки.
func (s *Service) notifyPaymentProcessed(ctx context.Context, u *model.User, payment *model.Payment, c *model.Case, created bool, serviceName string, slaHours int) {
	if err := s.repo.CreateNotification(ctx, &model.Notification{
		ID:      uuid.New(),
		UserID:  u.ID,
		Type:    "payment_confirmed",
		Title:   "Your Plan Is Active!",
		Message: "Your plan is active! Your credit restoration case has been opened. You may now upload your documents inside your client portal. Our team will begin reviewing your file immediately.",
		Link:    "/portal/dashboard",
	}); err != nil {
		s.logger.Warn("create client notification failed", zap.Error(err))
	}

	adminMsg := fmt.Sprintf("New payment from %s for %s. Case %s created.", u.Email, serviceName, c.ID)
	if !created {
		adminMsg = fmt.Sprintf("New payment from %s for %s. Applied to existing case %s.", u.Email, serviceName, c.ID)
	}
	if err := s.repo.CreateAdminNotification(ctx, &model.AdminNotification{
		ID:      uuid.New(),
		Type:    "new_payment",
		Title:   "New Payment Received",
		Message: adminMsg,
		Link:    fmt.Sprintf("/admin/client/%d", u.ID),
	}); err != nil {
		s.logger.Warn("create admin notification failed", zap.Error(err))
	}

	var clientName, phone string
	if profile, err := s.repo.GetProfile(ctx, u.ID); err == nil {
		clientName = profile.FullName
		phone = profile.Phone
	}

	params := notify.TemplateParams{
		ClientName: clientName,
		PlanName:   serviceName,
		Amount:     formatAmount(payment.AmountCents, payment.Currency),
		SLAHours:   slaHours,
	}

	if s.email != nil {
		if err := s.email.Send(ctx, u.Email, notify.EmailPaymentConfirmation, params); err != nil {
			s.logger.Warn("payment confirmation email failed", zap.Error(err))
		}
		if created {
			if err := s.email.Send(ctx, u.Email, notify.EmailCaseActivation, params); err != nil {
				s.logger.Warn("case activation email failed", zap.Error(err))
			}
		}
	}
	if s.sms != nil {
		if err := s.sms.Send(ctx, u.ID, phone, notify.SMSCaseActivated, params); err != nil {
			s.logger.Warn("case activation sms failed", zap.Error(err))
		}
	}
}

func (s *Service) processPaymentFailed(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntentEvent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		s.logger.Warn("malformed payment intent payload",
			zap.String("eventID", event.ID), zap.Error(err))
		s.setOutcome(ctx, event.ID, outcomeBadPayload)
		return nil
	}

	// Идентификатор платёжного намерения служит ключом идемпотентности:
	// ретрай того же события не плодит строки.
	payment := &model.Payment{
		ID:              uuid.New(),
		AmountCents:     intent.Amount,
		Currency:        strings.ToUpper(intent.Currency),
		Status:          model.PaymentStatusFailed,
		Plan:            model.PlanTypeBasic,
		StripeSessionID: intent.ID,
		Metadata: map[string]string{
			"payment_intent": intent.ID,
			"error":          intent.LastPaymentError.Message,
			"error_code":     intent.LastPaymentError.Code,
		},
	}

	if _, err := s.repo.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("record failed payment: %w", err)
	}

	s.logger.Info("failed payment recorded",
		zap.String("paymentIntent", intent.ID),
		zap.String("errorCode", intent.LastPaymentError.Code))
	s.setOutcome(ctx, event.ID, outcomeFailedLogged)

	return nil
}

func (s *Service) setOutcome(ctx context.Context, eventID, outcome string) {
	if err := s.repo.SetWebhookOutcome(ctx, eventID, outcome); err != nil {
		s.logger.Warn("set webhook outcome failed",
			zap.String("eventID", eventID), zap.Error(err))
	}
}

func formatAmount(cents int64, currency string) string {
	if strings.EqualFold(currency, "USD") {
		return fmt.Sprintf("$%.2f", float64(cents)/100)
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
