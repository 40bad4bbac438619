// Package notify содержит коллабораторов рассылки: email и SMS.
// Доставка уведомлений — best-effort: ядро пишет платёж и дело в БД,
// а ошибки рассылки логируются и не откатывают обработку события.
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

// EmailType описывает шаблон письма.
type EmailType string

const (
	EmailPaymentConfirmation EmailType = "payment_confirmation"
	EmailCaseActivation      EmailType = "case_activation"
	EmailDocumentReminder    EmailType = "document_reminder"
	EmailWelcome             EmailType = "welcome"
	EmailSupport             EmailType = "support"
)

// TemplateParams содержит подстановки для шаблонов писем и SMS.
type TemplateParams struct {
	ClientName     string
	PlanName       string
	Amount         string
	SLAHours       int
	HoursRemaining int
}

// EmailSender отправляет письма через внешний email-сервис.
type EmailSender struct {
	addr       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEmailSender создаёт отправителя писем. Пустой адрес сервиса допустим:
// отправка превращается в no-op с записью в лог.
func NewEmailSender(addr string, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		addr: addr,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Type    string `json:"type"`
}

// Send формирует письмо по шаблону и отправляет его. Доставка ограничена
// тремя попытками с фибоначчи-бэкоффом.
func (s *EmailSender) Send(ctx context.Context, to string, emailType EmailType, params TemplateParams) error {
	if s.addr == "" {
		s.logger.Debug("email service not configured, skipping",
			zap.String("type", string(emailType)), zap.String("to", to))
		return nil
	}

	subject, body := renderEmail(emailType, params)

	payload, err := json.Marshal(emailRequest{
		To:      to,
		Subject: subject,
		HTML:    body,
		Type:    string(emailType),
	})
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
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
			return retry.RetryableError(fmt.Errorf("send email: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("email service status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("email service status %d", resp.StatusCode)
		}

		return nil
	})
}

func renderEmail(emailType EmailType, p TemplateParams) (subject, body string) {
	name := p.ClientName
	if name == "" {
		name = "there"
	}

	switch emailType {
	case EmailPaymentConfirmation:
		return "Your Payment Has Been Received – Welcome to DeWayne's Credit",
			fmt.Sprintf("<p>Hi %s,</p><p>Thank you for choosing DeWayne's Credit Repair &amp; Solutions!</p>"+
				"<ul><li>Plan: %s</li><li>Amount: %s</li><li>Status: Paid</li></ul>"+
				"<p>Your case has been activated and our team is ready to begin processing immediately.</p>",
				name, p.PlanName, p.Amount)
	case EmailCaseActivation:
		return "Your Case Is Now Active",
			fmt.Sprintf("<p>Hi %s,</p><p>Great news! Your credit restoration case has been officially opened.</p>"+
				"<p><strong>SLA Timer:</strong> your %d-hour guarantee has started.</p>"+
				"<p>Upload your Driver's License or Government ID and complete your profile to keep things moving.</p>",
				name, p.SLAHours)
	case EmailDocumentReminder:
		return "Upload Your Required Documents",
			fmt.Sprintf("<p>Hi %s,</p><p>We're ready to start working on your case, but we still need your documents.</p>",
				name)
	case EmailWelcome:
		return "Welcome to DeWayne's Credit – Getting Started",
			fmt.Sprintf("<p>Hi %s,</p><p>Welcome to DeWayne's Credit Repair &amp; Solutions! "+
				"Track your case, upload documents and message your specialist from the client portal.</p>",
				name)
	case EmailSupport:
		return "We're Here to Help",
			fmt.Sprintf("<p>Hi %s,</p><p>Have questions? Our support team is ready to help you succeed. "+
				"Send us a message through your client portal for the fastest response.</p>",
				name)
	}

	return "DeWayne's Credit", fmt.Sprintf("<p>Hi %s,</p>", name)
}
