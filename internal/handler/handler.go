// Package handler содержит HTTP-обработчики API портала кредитного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/middleware"
	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/plan"
	"github.com/dewcredit/creditcase-system/internal/repository"
	"github.com/dewcredit/creditcase-system/internal/service"
	"github.com/dewcredit/creditcase-system/internal/stripe"
	"github.com/dewcredit/creditcase-system/internal/validation"
)

// Сырое тело вебхука ограничено, чтобы не читать произвольно большую нагрузку.
const maxWebhookBody = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (int64, error)
	GetProfile(ctx context.Context, userID int64) (*model.Profile, error)
	UpdateProfile(ctx context.Context, p *model.Profile) error

	Plans() []plan.Plan
	CreateCheckout(ctx context.Context, userID int64, planID string) (*stripe.CheckoutSession, error)
	ProcessStripeEvent(ctx context.Context, event *stripe.Event, payload []byte) error

	GetCaseWithTimer(ctx context.Context, userID int64) (*model.Case, *model.GuaranteeTimer, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)

	GetNotificationsByUser(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID uuid.UUID, userID int64) error

	RegisterDocument(ctx context.Context, d *model.Document) error
	GetDocumentsByUser(ctx context.Context, userID int64) ([]model.Document, error)
	SetDocumentVerification(ctx context.Context, documentID uuid.UUID, status string) error

	SendMessage(ctx context.Context, m *model.Message) error
	GetMessagesForUser(ctx context.Context, userID int64) ([]model.Message, error)

	ListCases(ctx context.Context, limit int) ([]model.Case, error)
	UpdateCaseStage(ctx context.Context, caseID uuid.UUID, stage model.CaseStage) error
	UpdateCaseStatus(ctx context.Context, caseID uuid.UUID, status model.CaseStatus) error
	CompleteCase(ctx context.Context, caseID uuid.UUID) error
	PauseCaseTimer(ctx context.Context, caseID uuid.UUID, reason string) error
	ResumeCaseTimer(ctx context.Context, caseID uuid.UUID) error
	GetAdminNotifications(ctx context.Context, limit int) ([]model.AdminNotification, error)
}

// Handler реализует HTTP-обработчики API портала кредитного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, webhookSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		webhookSecret:  webhookSecret,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового клиента.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidEmail(req.Email) || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию клиента и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type profileResponse struct {
	FullName      string `json:"full_name"`
	Phone         string `json:"phone"`
	SSNLast4      string `json:"ssn_last4,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
}

// GetProfile возвращает профиль текущего клиента.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	p, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, profileResponse{
		FullName:      p.FullName,
		Phone:         p.Phone,
		SSNLast4:      p.SSNLast4,
		EmailVerified: p.EmailVerified,
		PhoneVerified: p.PhoneVerified,
	})
}

type profileRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	SSNLast4 string `json:"ssn_last4"`
	Consent  bool   `json:"consent"`
}

// UpdateProfile обновляет контактные данные клиента. Телефон и маскированный
// SSN проверяются до записи.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Phone != "" && !validation.IsValidPhone(req.Phone) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}
	if req.SSNLast4 != "" && !validation.IsValidSSNLast4(req.SSNLast4) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	p := &model.Profile{
		UserID:   userID,
		FullName: req.FullName,
		Phone:    req.Phone,
		SSNLast4: req.SSNLast4,
	}
	if req.Consent {
		now := time.Now().UTC()
		p.ConsentGivenAt = &now
	}

	if err := h.service.UpdateProfile(r.Context(), p); err != nil {
		h.logger.Error("update profile error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type planResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceCents int64    `json:"price_cents"`
	Currency   string   `json:"currency"`
	SLAHours   int      `json:"sla_hours"`
	Features   []string `json:"features"`
}

// GetPlans возвращает каталог тарифов.
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.service.Plans()

	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, planResponse{
			ID:         p.ID,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Currency:   p.Currency,
			SLAHours:   p.SLAHours,
			Features:   p.Features,
		})
	}

	writeJSON(w, resp)
}

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateCheckout создаёт чекаут-сессию Stripe для текущего клиента.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	session, err := h.service.CreateCheckout(r.Context(), userID, req.PlanID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPlan) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if errors.Is(err, stripe.ErrNotConfigured) {
			h.logger.Error("stripe not configured")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.logger.Error("create checkout error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, checkoutResponse{SessionID: session.ID, RedirectURL: session.URL})
}

// StripeWebhook принимает вебхук-события Stripe. Непроверенная подпись — 400
// без единого обращения к бизнес-логике; 5xx возвращается только если событие
// не удалось сохранить, чтобы Stripe повторил доставку.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := stripe.ParseEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret, time.Now())
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ProcessStripeEvent(r.Context(), event, payload); err != nil {
		h.logger.Error("process stripe event error",
			zap.String("eventID", event.ID), zap.String("type", event.Type), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"received": true, "event_type": event.Type})
}

type timerResponse struct {
	Status         string     `json:"status"`
	StartAt        time.Time  `json:"start_at"`
	DeadlineAt     time.Time  `json:"deadline_at"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	PauseReason    string     `json:"pause_reason,omitempty"`
	RefundEligible bool       `json:"refund_eligible"`
}

type caseResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	CurrentStage string         `json:"current_stage"`
	ServiceName  string         `json:"service_name"`
	StartedAt    time.Time      `json:"started_at"`
	Timer        *timerResponse `json:"timer,omitempty"`
}

// GetCase возвращает активное дело текущего клиента вместе с таймером.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	c, t, err := h.service.GetCaseWithTimer(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveCase) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("get case error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := caseResponse{
		ID:           c.ID.String(),
		Status:       string(c.Status),
		CurrentStage: string(c.CurrentStage),
		ServiceName:  c.ServiceName,
		StartedAt:    c.StartedAt,
	}
	if t != nil {
		resp.Timer = &timerResponse{
			Status:         string(t.Status),
			StartAt:        t.StartAt,
			DeadlineAt:     t.DeadlineAt,
			PausedAt:       t.PausedAt,
			PauseReason:    t.PauseReason,
			RefundEligible: t.RefundEligible,
		}
	}

	writeJSON(w, resp)
}

type paymentResponse struct {
	ID          string     `json:"id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	Plan        string     `json:"plan"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// GetPayments возвращает платежи текущего клиента.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, err := h.service.GetPaymentsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get payments error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, paymentResponse{
			ID:          p.ID.String(),
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      string(p.Status),
			Plan:        string(p.Plan),
			PaidAt:      p.PaidAt,
			CreatedAt:   p.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// GetNotifications возвращает уведомления текущего клиента.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	notifications, err := h.service.GetNotificationsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get notifications error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(notifications) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID.String(),
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

// MarkNotificationRead помечает уведомление текущего клиента прочитанным.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	notificationID, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), notificationID, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("mark notification read error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type documentRequest struct {
	Type        string `json:"type"`
	FilePath    string `json:"file_path"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	Checksum    string `json:"checksum"`
}

// UploadDocument регистрирует метаданные загруженного документа.
// Тип документа проверяется по allow-list до записи.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidDocumentType(model.DocumentType(req.Type)) || req.FilePath == "" {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	d := &model.Document{
		UserID:      userID,
		Type:        model.DocumentType(req.Type),
		FilePath:    req.FilePath,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Checksum:    req.Checksum,
	}

	if err := h.service.RegisterDocument(r.Context(), d); err != nil {
		if errors.Is(err, service.ErrNoActiveCase) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register document error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type documentResponse struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	FilePath           string    `json:"file_path"`
	VerificationStatus string    `json:"verification_status"`
	UploadedAt         time.Time `json:"uploaded_at"`
}

// GetDocuments возвращает документы текущего клиента.
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	documents, err := h.service.GetDocumentsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get documents error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(documents) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]documentResponse, 0, len(documents))
	for _, d := range documents {
		resp = append(resp, documentResponse{
			ID:                 d.ID.String(),
			Type:               string(d.Type),
			FilePath:           d.FilePath,
			VerificationStatus: d.VerificationStatus,
			UploadedAt:         d.UploadedAt,
		})
	}

	writeJSON(w, resp)
}

type messageRequest struct {
	Content string `json:"content"`
}

// SendMessage сохраняет сообщение клиента в поддержку.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidMessageContent(req.Content) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	m := &model.Message{
		FromUserID: userID,
		Content:    req.Content,
	}

	if err := h.service.SendMessage(r.Context(), m); err != nil {
		h.logger.Error("send message error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type messageResponse struct {
	ID             string    `json:"id"`
	FromUserID     int64     `json:"from_user_id"`
	Content        string    `json:"content"`
	IsAdminMessage bool      `json:"is_admin_message"`
	CreatedAt      time.Time `json:"created_at"`
}

// GetMessages возвращает переписку текущего клиента.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	messages, err := h.service.GetMessagesForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get messages error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(messages) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, messageResponse{
			ID:             m.ID.String(),
			FromUserID:     m.FromUserID,
			Content:        m.Content,
			IsAdminMessage: m.IsAdminMessage,
			CreatedAt:      m.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
