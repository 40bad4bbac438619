package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/notify"
	"github.com/dewcredit/creditcase-system/internal/repository"
	"github.com/dewcredit/creditcase-system/internal/stripe"
)

type stubRepo struct {
	user    *model.User
	userErr error

	profile *model.Profile

	recordEventInserted bool
	recordEventCalls    int
	seenEvents          map[string]bool
	outcomes            map[string]string

	createPaymentInserted bool
	createPaymentErr      error
	payments              []*model.Payment

	openCaseExisting *model.Case
	openCaseErr      error
	openedCases      []*model.Case
	openedTimers     []*model.GuaranteeTimer

	timer    *model.GuaranteeTimer
	timerErr error

	pausedReason  string
	pausedAt      time.Time
	resumedAt     time.Time
	canceledCases []uuid.UUID

	expired  []repository.ExpiredTimer
	warnings []repository.ExpiredTimer

	orphanPayments []model.Payment

	notifications      []*model.Notification
	adminNotifications []*model.AdminNotification

	caseStatuses map[uuid.UUID]model.CaseStatus
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		recordEventInserted:   true,
		createPaymentInserted: true,
		seenEvents:            map[string]bool{},
		outcomes:              map[string]string{},
		caseStatuses:          map[uuid.UUID]model.CaseStatus{},
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	return s.user, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	return s.user, nil
}

func (s *stubRepo) GetRoles(ctx context.Context, userID int64) ([]model.Role, error) {
	return []model.Role{model.RoleClient}, nil
}

func (s *stubRepo) GetProfile(ctx context.Context, userID int64) (*model.Profile, error) {
	if s.profile == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.profile, nil
}

func (s *stubRepo) UpdateProfile(ctx context.Context, p *model.Profile) error { return nil }

func (s *stubRepo) CreatePayment(ctx context.Context, p *model.Payment) (bool, error) {
	if s.createPaymentErr != nil {
		return false, s.createPaymentErr
	}
	if s.createPaymentInserted {
		s.payments = append(s.payments, p)
	}
	return s.createPaymentInserted, nil
}

func (s *stubRepo) AttachPaymentToCase(ctx context.Context, paymentID, caseID uuid.UUID) error {
	return nil
}

func (s *stubRepo) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return nil, nil
}

func (s *stubRepo) GetCompletedPaymentsWithoutCase(ctx context.Context, limit int) ([]model.Payment, error) {
	return s.orphanPayments, nil
}

func (s *stubRepo) GetActiveCase(ctx context.Context, userID int64) (*model.Case, error) {
	if s.openCaseExisting != nil {
		return s.openCaseExisting, nil
	}
	return nil, repository.ErrCaseNotFound
}

func (s *stubRepo) OpenCase(ctx context.Context, c *model.Case, t *model.GuaranteeTimer) (*model.Case, bool, error) {
	if s.openCaseErr != nil {
		return nil, false, s.openCaseErr
	}
	if s.openCaseExisting != nil {
		return s.openCaseExisting, false, nil
	}
	s.openedCases = append(s.openedCases, c)
	s.openedTimers = append(s.openedTimers, t)
	return c, true, nil
}

func (s *stubRepo) GetCaseByID(ctx context.Context, caseID uuid.UUID) (*model.Case, error) {
	return nil, repository.ErrCaseNotFound
}

func (s *stubRepo) ListCases(ctx context.Context, limit int) ([]model.Case, error) { return nil, nil }

func (s *stubRepo) UpdateCaseStage(ctx context.Context, caseID uuid.UUID, stage model.CaseStage) error {
	return nil
}

func (s *stubRepo) UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, status model.CaseStatus) error {
	s.caseStatuses[caseID] = status
	return nil
}

func (s *stubRepo) CompleteCase(ctx context.Context, caseID uuid.UUID, now time.Time) error {
	s.caseStatuses[caseID] = model.CaseStatusCompleted
	return nil
}

func (s *stubRepo) GetTimerByCase(ctx context.Context, caseID uuid.UUID) (*model.GuaranteeTimer, error) {
	if s.timerErr != nil {
		return nil, s.timerErr
	}
	if s.timer == nil {
		return nil, repository.ErrTimerNotFound
	}
	return s.timer, nil
}

func (s *stubRepo) PauseTimer(ctx context.Context, timerID uuid.UUID, reason string, now time.Time) error {
	s.pausedReason = reason
	s.pausedAt = now
	return nil
}

func (s *stubRepo) ResumeTimer(ctx context.Context, timerID uuid.UUID, now time.Time) error {
	s.resumedAt = now
	return nil
}

func (s *stubRepo) CancelTimerForCase(ctx context.Context, caseID uuid.UUID) error {
	s.canceledCases = append(s.canceledCases, caseID)
	return nil
}

func (s *stubRepo) ClaimExpiredTimers(ctx context.Context, now time.Time, limit int) ([]repository.ExpiredTimer, error) {
	claimed := s.expired
	s.expired = nil
	return claimed, nil
}

func (s *stubRepo) ClaimWarningTimers(ctx context.Context, now time.Time, threshold time.Duration, limit int) ([]repository.ExpiredTimer, error) {
	claimed := s.warnings
	s.warnings = nil
	return claimed, nil
}

func (s *stubRepo) AppendTimerHistory(ctx context.Context, timerID uuid.UUID, event string, details map[string]string) error {
	return nil
}

func (s *stubRepo) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, string, error) {
	s.recordEventCalls++
	if !s.recordEventInserted || s.seenEvents[eventID] {
		return false, s.outcomes[eventID], nil
	}
	s.seenEvents[eventID] = true
	return true, "", nil
}

func (s *stubRepo) SetWebhookOutcome(ctx context.Context, eventID, outcome string) error {
	s.outcomes[eventID] = outcome
	return nil
}

func (s *stubRepo) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *stubRepo) GetNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	return nil, nil
}

func (s *stubRepo) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, userID int64) error {
	return nil
}

func (s *stubRepo) CreateAdminNotification(ctx context.Context, n *model.AdminNotification) error {
	s.adminNotifications = append(s.adminNotifications, n)
	return nil
}

func (s *stubRepo) GetAdminNotifications(ctx context.Context, limit int) ([]model.AdminNotification, error) {
	return nil, nil
}

func (s *stubRepo) CreateDocument(ctx context.Context, d *model.Document) error { return nil }

func (s *stubRepo) GetDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error) {
	return nil, nil
}

func (s *stubRepo) SetDocumentVerification(ctx context.Context, documentID uuid.UUID, status string) error {
	return nil
}

func (s *stubRepo) CreateMessage(ctx context.Context, m *model.Message) error { return nil }

func (s *stubRepo) GetMessagesForUser(ctx context.Context, userID int64) ([]model.Message, error) {
	return nil, nil
}

type stubStripe struct {
	session        *stripe.CheckoutSession
	sessionErr     error
	sessionParams  stripe.CreateCheckoutSessionParams
	sessionCalls   int
	customer       *stripe.Customer
	lineItems      []stripe.LineItem
	lineItemsErr   error
	customerCalls  int
	lineItemsCalls int
}

func (s *stubStripe) CreateCheckoutSession(ctx context.Context, p stripe.CreateCheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.sessionCalls++
	s.sessionParams = p
	return s.session, s.sessionErr
}

func (s *stubStripe) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	s.customerCalls++
	return s.customer, nil
}

func (s *stubStripe) ListLineItems(ctx context.Context, sessionID string) ([]stripe.LineItem, error) {
	s.lineItemsCalls++
	return s.lineItems, s.lineItemsErr
}

type stubEmail struct {
	sent []notify.EmailType
}

func (s *stubEmail) Send(ctx context.Context, to string, emailType notify.EmailType, params notify.TemplateParams) error {
	s.sent = append(s.sent, emailType)
	return nil
}

type stubSMS struct {
	sent []notify.SMSType
}

func (s *stubSMS) Send(ctx context.Context, userID int64, phoneNumber string, smsType notify.SMSType, params notify.TemplateParams) error {
	s.sent = append(s.sent, smsType)
	return nil
}

func lineItem(description, priceID, productID string) stripe.LineItem {
	var li stripe.LineItem
	li.Description = description
	li.Price.ID = priceID
	li.Price.Product = productID
	return li
}

func checkoutEvent(t *testing.T, eventID, sessionID, email string, amount int64) *stripe.Event {
	t.Helper()

	object, err := json.Marshal(map[string]any{
		"id":             sessionID,
		"customer_email": email,
		"amount_total":   amount,
		"currency":       "usd",
		"payment_intent": "pi_123",
	})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}

	event := &stripe.Event{ID: eventID, Type: stripe.EventCheckoutSessionCompleted}
	event.Data.Object = object
	return event
}

func newTestService(repo *stubRepo, api *stubStripe) (*Service, *stubEmail, *stubSMS) {
	email := &stubEmail{}
	sms := &stubSMS{}
	svc := NewService(repo, api, email, sms, "https://dewaynescredit.com", zap.NewNop())
	return svc, email, sms
}

func TestProcessStripeEvent_OpensCaseWithPlanSLA(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.profile = &model.Profile{UserID: 7, FullName: "Alex", Phone: "+14698772300"}

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("24-Hour ChexSystems Removal", "price_1SWmPvDdYjAsmtGqe4wUgKQE", "prod_TTjtA4Yuwg9nTV"),
		},
	}
	svc, email, sms := newTestService(repo, api)

	before := time.Now().UTC()
	event := checkoutEvent(t, "evt_1", "cs_test_1", "client@example.com", 40000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(repo.payments))
	}
	p := repo.payments[0]
	if p.AmountCents != 40000 || p.Status != model.PaymentStatusCompleted {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.StripeSessionID != "cs_test_1" {
		t.Fatalf("session id = %q", p.StripeSessionID)
	}

	if len(repo.openedCases) != 1 || len(repo.openedTimers) != 1 {
		t.Fatalf("cases = %d, timers = %d, want 1 each", len(repo.openedCases), len(repo.openedTimers))
	}

	timer := repo.openedTimers[0]
	wantDeadline := before.Add(24 * time.Hour)
	if timer.DeadlineAt.Before(wantDeadline.Add(-time.Minute)) || timer.DeadlineAt.After(wantDeadline.Add(time.Minute)) {
		t.Fatalf("deadline = %v, want about %v", timer.DeadlineAt, wantDeadline)
	}

	if repo.outcomes["evt_1"] != "processed" {
		t.Fatalf("outcome = %q, want processed", repo.outcomes["evt_1"])
	}
	if len(repo.adminNotifications) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(repo.adminNotifications))
	}
	if len(email.sent) != 2 || email.sent[0] != notify.EmailPaymentConfirmation || email.sent[1] != notify.EmailCaseActivation {
		t.Fatalf("emails = %v", email.sent)
	}
	if len(sms.sent) != 1 || sms.sent[0] != notify.SMSCaseActivated {
		t.Fatalf("sms = %v", sms.sent)
	}
}

func TestProcessStripeEvent_DuplicateEventIsAck(t *testing.T) {
	repo := newStubRepo()
	repo.recordEventInserted = false
	repo.outcomes["evt_dup"] = "processed"
	repo.user = &model.User{ID: 7, Email: "client@example.com"}

	api := &stubStripe{}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_dup", "cs_test_1", "client@example.com", 40000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.payments) != 0 {
		t.Fatalf("duplicate event must not write payments, got %d", len(repo.payments))
	}
	if len(repo.openedCases) != 0 {
		t.Fatalf("duplicate event must not open cases, got %d", len(repo.openedCases))
	}
	if api.lineItemsCalls != 0 {
		t.Fatalf("duplicate event must not call stripe")
	}
}

func TestProcessStripeEvent_DuplicateSessionSkipsCase(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.createPaymentInserted = false

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Basic", "price_1SVlu5DdYjAsmtGqhsQM4snp", "prod_TShIlDnMvP5PDA"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_2", "cs_replayed", "client@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.openedCases) != 0 {
		t.Fatalf("replayed session must not open a case")
	}
	if repo.outcomes["evt_2"] != "duplicate_session" {
		t.Fatalf("outcome = %q", repo.outcomes["evt_2"])
	}
}

func TestProcessStripeEvent_ReusesActiveCase(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.openCaseExisting = &model.Case{
		ID:     uuid.New(),
		UserID: 7,
		Status: model.CaseStatusInProgress,
	}

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Basic", "price_1SVlu5DdYjAsmtGqhsQM4snp", "prod_TShIlDnMvP5PDA"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_3", "cs_second_purchase", "client@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payment must be recorded even when case is reused")
	}
	if repo.outcomes["evt_3"] != "case_reused" {
		t.Fatalf("outcome = %q", repo.outcomes["evt_3"])
	}
	if len(repo.adminNotifications) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(repo.adminNotifications))
	}
	if !strings.Contains(repo.adminNotifications[0].Message, "existing case") {
		t.Fatalf("admin notification must reference the existing case: %q", repo.adminNotifications[0].Message)
	}
}

func TestProcessStripeEvent_UnknownUserIsAckWithoutWrites(t *testing.T) {
	repo := newStubRepo()
	repo.userErr = repository.ErrUserNotFound

	api := &stubStripe{}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_4", "cs_stranger", "stranger@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("unknown user must be acked, got %v", err)
	}

	if len(repo.payments) != 0 || len(repo.openedCases) != 0 {
		t.Fatalf("unknown user must not produce writes")
	}
	if repo.outcomes["evt_4"] != "skipped_no_user" {
		t.Fatalf("outcome = %q", repo.outcomes["evt_4"])
	}
}

func TestProcessStripeEvent_UnknownProductFallsBackToDefaultSLA(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Mystery Product", "price_unknown", "prod_unknown"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	before := time.Now().UTC()
	event := checkoutEvent(t, "evt_5", "cs_mystery", "client@example.com", 99900)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(repo.payments))
	}
	if repo.payments[0].Metadata["degraded_plan_mapping"] != "true" {
		t.Fatalf("degraded mapping flag missing: %v", repo.payments[0].Metadata)
	}

	timer := repo.openedTimers[0]
	wantDeadline := before.Add(96 * time.Hour)
	if timer.DeadlineAt.Before(wantDeadline.Add(-time.Minute)) || timer.DeadlineAt.After(wantDeadline.Add(time.Minute)) {
		t.Fatalf("deadline = %v, want about %v", timer.DeadlineAt, wantDeadline)
	}
}

func TestProcessStripeEvent_PaymentInsertFailureIsRetryable(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.createPaymentErr = errors.New("db down")

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Basic", "price_1SVlu5DdYjAsmtGqhsQM4snp", "prod_TShIlDnMvP5PDA"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_6", "cs_db_down", "client@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err == nil {
		t.Fatalf("payment insert failure must propagate so stripe retries delivery")
	}
}

func TestProcessStripeEvent_RedeliveryAfterPaymentInsertFailure(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.createPaymentErr = errors.New("db down")

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Basic", "price_1SVlu5DdYjAsmtGqhsQM4snp", "prod_TShIlDnMvP5PDA"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_redelivered", "cs_redelivered", "client@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err == nil {
		t.Fatalf("first delivery must fail when the payment insert fails")
	}
	if len(repo.payments) != 0 {
		t.Fatalf("no payment row may exist after the failed insert")
	}

	// Повторная доставка того же event id после восстановления БД должна
	// пройти конвейер заново, а не погаситься дедупликацией.
	repo.createPaymentErr = nil
	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("redelivery error: %v", err)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payments after redelivery = %d, want 1", len(repo.payments))
	}
	if len(repo.openedCases) != 1 {
		t.Fatalf("cases after redelivery = %d, want 1", len(repo.openedCases))
	}
	if repo.outcomes["evt_redelivered"] != "processed" {
		t.Fatalf("outcome = %q, want processed", repo.outcomes["evt_redelivered"])
	}
}

func TestProcessStripeEvent_MalformedObjectIsAck(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	svc, _, _ := newTestService(repo, &stubStripe{})

	event := &stripe.Event{ID: "evt_garbled", Type: stripe.EventCheckoutSessionCompleted}
	event.Data.Object = []byte(`"not an object"`)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("malformed payload must be acked, retrying cannot fix it: %v", err)
	}
	if len(repo.payments) != 0 || len(repo.openedCases) != 0 {
		t.Fatalf("malformed payload must not produce writes")
	}
	if repo.outcomes["evt_garbled"] != "malformed_payload" {
		t.Fatalf("outcome = %q, want malformed_payload", repo.outcomes["evt_garbled"])
	}

	failed := &stripe.Event{ID: "evt_garbled_intent", Type: stripe.EventPaymentIntentFailed}
	failed.Data.Object = []byte(`[1, 2, 3]`)

	if err := svc.ProcessStripeEvent(context.Background(), failed, []byte("{}")); err != nil {
		t.Fatalf("malformed intent payload must be acked: %v", err)
	}
	if repo.outcomes["evt_garbled_intent"] != "malformed_payload" {
		t.Fatalf("outcome = %q, want malformed_payload", repo.outcomes["evt_garbled_intent"])
	}
}

func TestProcessStripeEvent_CaseOpenFailureStillAcks(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	repo.openCaseErr = errors.New("db down")

	api := &stubStripe{
		lineItems: []stripe.LineItem{
			lineItem("Basic", "price_1SVlu5DdYjAsmtGqhsQM4snp", "prod_TShIlDnMvP5PDA"),
		},
	}
	svc, _, _ := newTestService(repo, api)

	event := checkoutEvent(t, "evt_7", "cs_case_fail", "client@example.com", 50000)

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("case open failure must not fail the webhook, got %v", err)
	}
	if len(repo.payments) != 1 {
		t.Fatalf("payment must be persisted before case open")
	}
	if repo.outcomes["evt_7"] != "payment_recorded_case_failed" {
		t.Fatalf("outcome = %q", repo.outcomes["evt_7"])
	}
}

func TestProcessStripeEvent_FailedPayment(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo, &stubStripe{})

	object, _ := json.Marshal(map[string]any{
		"id":       "pi_failed",
		"amount":   50000,
		"currency": "usd",
		"last_payment_error": map[string]any{
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	})
	event := &stripe.Event{ID: "evt_8", Type: stripe.EventPaymentIntentFailed}
	event.Data.Object = object

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(repo.payments))
	}
	p := repo.payments[0]
	if p.Status != model.PaymentStatusFailed || p.UserID != nil {
		t.Fatalf("unexpected failed payment: %+v", p)
	}
	if p.Metadata["error_code"] != "card_declined" {
		t.Fatalf("metadata = %v", p.Metadata)
	}
	if len(repo.openedCases) != 0 {
		t.Fatalf("failed payment must not open a case")
	}
}

func TestProcessStripeEvent_IgnoredEventType(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo, &stubStripe{})

	event := &stripe.Event{ID: "evt_9", Type: stripe.EventPaymentIntentSucceeded}
	event.Data.Object = []byte("{}")

	if err := svc.ProcessStripeEvent(context.Background(), event, []byte("{}")); err != nil {
		t.Fatalf("ProcessStripeEvent error: %v", err)
	}
	if repo.outcomes["evt_9"] != "ignored" {
		t.Fatalf("outcome = %q", repo.outcomes["evt_9"])
	}
}

func TestCreateCheckout_RejectsUnknownPlanBeforeStripe(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	api := &stubStripe{}
	svc, _, _ := newTestService(repo, api)

	_, err := svc.CreateCheckout(context.Background(), 7, "no-such-plan")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}

	// Сезонный тариф продаётся только по платёжной ссылке.
	_, err = svc.CreateCheckout(context.Background(), 7, "christmas")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan for link-only plan, got %v", err)
	}

	if api.sessionCalls != 0 || api.customerCalls != 0 {
		t.Fatalf("stripe must not be called for rejected plans")
	}
}

func TestCreateCheckout_UsesExistingCustomer(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{ID: 7, Email: "client@example.com"}
	api := &stubStripe{
		customer: &stripe.Customer{ID: "cus_42", Email: "client@example.com"},
		session:  &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/cs_new"},
	}
	svc, _, _ := newTestService(repo, api)

	session, err := svc.CreateCheckout(context.Background(), 7, "premium")
	if err != nil {
		t.Fatalf("CreateCheckout error: %v", err)
	}
	if session.URL == "" {
		t.Fatalf("no redirect url in session")
	}

	if api.sessionParams.CustomerID != "cus_42" {
		t.Fatalf("customer id = %q, want cus_42", api.sessionParams.CustomerID)
	}
	if api.sessionParams.CustomerEmail != "" {
		t.Fatalf("customer and customer_email must not both be set")
	}
	if api.sessionParams.PriceID != "price_1SWmNQDdYjAsmtGqnBx3GgZs" {
		t.Fatalf("price id = %q", api.sessionParams.PriceID)
	}
}

func TestSweep_TriggersExpiredTimers(t *testing.T) {
	repo := newStubRepo()
	caseID := uuid.New()
	repo.expired = []repository.ExpiredTimer{
		{
			Timer:  model.GuaranteeTimer{ID: uuid.New(), CaseID: caseID, Status: model.TimerStatusTriggered},
			CaseID: caseID,
			UserID: 7,
		},
	}
	repo.profile = &model.Profile{UserID: 7, FullName: "Alex", Phone: "+14698772300"}

	svc, _, sms := newTestService(repo, &stubStripe{})
	svc.sweepOnce(context.Background())

	if repo.caseStatuses[caseID] != model.CaseStatusGuaranteeTriggered {
		t.Fatalf("case status = %q, want guarantee_triggered", repo.caseStatuses[caseID])
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Type != "guarantee_triggered" {
		t.Fatalf("notifications = %+v", repo.notifications)
	}
	if len(repo.adminNotifications) != 1 {
		t.Fatalf("admin notifications = %d, want 1", len(repo.adminNotifications))
	}
	if len(sms.sent) != 1 {
		t.Fatalf("sms = %v", sms.sent)
	}
}

func TestSweep_SendsWarningOnce(t *testing.T) {
	repo := newStubRepo()
	caseID := uuid.New()
	repo.warnings = []repository.ExpiredTimer{
		{
			Timer: model.GuaranteeTimer{
				ID:         uuid.New(),
				CaseID:     caseID,
				Status:     model.TimerStatusRunning,
				DeadlineAt: time.Now().UTC().Add(11 * time.Hour),
			},
			CaseID: caseID,
			UserID: 7,
		},
	}
	repo.profile = &model.Profile{UserID: 7, FullName: "Alex", Phone: "+14698772300"}

	svc, _, sms := newTestService(repo, &stubStripe{})

	svc.sweepOnce(context.Background())
	if len(repo.notifications) != 1 || repo.notifications[0].Type != "sla_warning" {
		t.Fatalf("notifications = %+v", repo.notifications)
	}
	if len(sms.sent) != 1 || sms.sent[0] != notify.SMSSLAWarning {
		t.Fatalf("sms = %v", sms.sent)
	}

	// Повторный проход: клейм в БД уже не возвращает этот таймер.
	svc.sweepOnce(context.Background())
	if len(repo.notifications) != 1 {
		t.Fatalf("warning must be sent exactly once, got %d notifications", len(repo.notifications))
	}
}

func TestSweep_RepairsOrphanPayments(t *testing.T) {
	repo := newStubRepo()
	userID := int64(7)
	repo.orphanPayments = []model.Payment{
		{
			ID:              uuid.New(),
			UserID:          &userID,
			AmountCents:     40000,
			Status:          model.PaymentStatusCompleted,
			StripeProductID: "prod_TTjtA4Yuwg9nTV",
		},
	}

	svc, _, _ := newTestService(repo, &stubStripe{})
	svc.sweepOnce(context.Background())

	if len(repo.openedCases) != 1 {
		t.Fatalf("repair must open a case for the orphan payment")
	}
	timer := repo.openedTimers[0]
	sla := timer.DeadlineAt.Sub(timer.StartAt)
	if sla != 24*time.Hour {
		t.Fatalf("sla = %v, want 24h", sla)
	}
}

func TestPauseAndResumeCaseTimer(t *testing.T) {
	repo := newStubRepo()
	timerID := uuid.New()
	caseID := uuid.New()
	repo.timer = &model.GuaranteeTimer{ID: timerID, CaseID: caseID, Status: model.TimerStatusRunning}

	svc, _, _ := newTestService(repo, &stubStripe{})

	if err := svc.PauseCaseTimer(context.Background(), caseID, "waiting for documents"); err != nil {
		t.Fatalf("PauseCaseTimer error: %v", err)
	}
	if repo.pausedReason != "waiting for documents" {
		t.Fatalf("pause reason = %q", repo.pausedReason)
	}

	if err := svc.ResumeCaseTimer(context.Background(), caseID); err != nil {
		t.Fatalf("ResumeCaseTimer error: %v", err)
	}
	if repo.resumedAt.IsZero() {
		t.Fatalf("resume did not reach the repository")
	}
}

func TestRefundedCaseCancelsTimer(t *testing.T) {
	repo := newStubRepo()
	caseID := uuid.New()
	repo.timer = &model.GuaranteeTimer{ID: uuid.New(), CaseID: caseID, Status: model.TimerStatusRunning}

	svc, _, _ := newTestService(repo, &stubStripe{})

	if err := svc.UpdateCaseStatus(context.Background(), caseID, model.CaseStatusRefunded); err != nil {
		t.Fatalf("UpdateCaseStatus error: %v", err)
	}

	if repo.caseStatuses[caseID] != model.CaseStatusRefunded {
		t.Fatalf("case status = %q, want refunded", repo.caseStatuses[caseID])
	}
	if len(repo.canceledCases) != 1 || repo.canceledCases[0] != caseID {
		t.Fatalf("timer was not canceled for the refunded case")
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := newStubRepo()
	repo.user = &model.User{
		ID:           1,
		Email:        "client@example.com",
		PasswordHash: hashPassword("client@example.com", "correct"),
	}

	svc, _, _ := newTestService(repo, &stubStripe{})

	_, err := svc.AuthenticateUser(context.Background(), "client@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	id, err := svc.AuthenticateUser(context.Background(), "client@example.com", "correct")
	if err != nil || id != 1 {
		t.Fatalf("expected success, got id=%d err=%v", id, err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(40000, "USD"); got != "$400.00" {
		t.Fatalf("formatAmount = %q", got)
	}
	if got := formatAmount(1250, "EUR"); got != fmt.Sprintf("%.2f EUR", 12.5) {
		t.Fatalf("formatAmount = %q", got)
	}
}
