package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// SMSType описывает шаблон SMS-сообщения.
type SMSType string

const (
	SMSPaymentReceived  SMSType = "payment_received"
	SMSCaseActivated    SMSType = "case_activated"
	SMSDocumentReminder SMSType = "document_reminder"
	SMSSLAWarning       SMSType = "sla_warning"
	SMSSupport          SMSType = "support"
	SMSAdminMessage     SMSType = "admin_message"
)

// SMSSender отправляет SMS через внешний SMS-шлюз.
type SMSSender struct {
	addr       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSMSSender создаёт отправителя SMS. Пустой адрес шлюза допустим:
// отправка превращается в no-op с записью в лог.
func NewSMSSender(addr string, logger *zap.Logger) *SMSSender {
	return &SMSSender{
		addr: addr,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type smsRequest struct {
	UserID      int64  `json:"user_id"`
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
	Type        string `json:"type"`
}

// Send формирует SMS по шаблону и отправляет его. Пустой номер телефона —
// штатная ситуация (клиент не указал телефон), не ошибка.
func (s *SMSSender) Send(ctx context.Context, userID int64, phoneNumber string, smsType SMSType, params TemplateParams) error {
	if s.addr == "" {
		s.logger.Debug("sms service not configured, skipping",
			zap.String("type", string(smsType)), zap.Int64("userID", userID))
		return nil
	}
	if phoneNumber == "" {
		s.logger.Debug("no phone number on profile, skipping sms",
			zap.String("type", string(smsType)), zap.Int64("userID", userID))
		return nil
	}

	payload, err := json.Marshal(smsRequest{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Message:     renderSMS(smsType, params),
		Type:        string(smsType),
	})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.addr, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send sms: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("sms service status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("sms service status %d", resp.StatusCode)
		}

		return nil
	})
}

func renderSMS(smsType SMSType, p TemplateParams) string {
	name := p.ClientName
	if name == "" {
		name = "there"
	}

	switch smsType {
	case SMSPaymentReceived:
		return fmt.Sprintf("Hi %s! Your payment has been received. Your DeWaynesCredit.com case is now active. Log in to upload documents.", name)
	case SMSCaseActivated:
		return fmt.Sprintf("Welcome %s! Your case is active. %d-hour SLA timer started. Upload docs now in your client portal.", name, p.SLAHours)
	case SMSDocumentReminder:
		return fmt.Sprintf("Hi %s, reminder to upload your required documents to start your credit repair process.", name)
	case SMSSLAWarning:
		return fmt.Sprintf("%s, your SLA has %d hours remaining. We need your documents to meet our guarantee.", name, p.HoursRemaining)
	case SMSSupport:
		return fmt.Sprintf("Hi %s, you have a new update in your DeWaynesCredit.com portal. Log in to view details.", name)
	case SMSAdminMessage:
		return fmt.Sprintf("Hi %s, you have a new message from your credit repair specialist. Log in to view.", name)
	}

	return fmt.Sprintf("Hi %s, you have a new update from DeWayne's Credit.", name)
}
