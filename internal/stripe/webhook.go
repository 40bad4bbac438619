package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance ограничивает возраст подписанного события.
const DefaultTolerance = 5 * time.Minute

// Ошибки проверки подписи вебхука.
var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrMissingSignature = errors.New("webhook signature header missing")
	ErrEventTooOld      = errors.New("webhook event timestamp outside tolerance")
)

// Типы событий, которые обрабатывает сервис.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)

// Event описывает вебхук-событие Stripe. Полезная нагрузка конкретного
// объекта разбирается отдельно по типу события.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSessionEvent содержит поля завершённой чекаут-сессии.
type CheckoutSessionEvent struct {
	ID              string `json:"id"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// Email возвращает адрес плательщика из любого из двух полей сессии.
func (s *CheckoutSessionEvent) Email() string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	return s.CustomerDetails.Email
}

// PaymentIntentEvent содержит поля платёжного намерения для неуспешных оплат.
type PaymentIntentEvent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ParseEvent проверяет подпись заголовка Stripe-Signature и разбирает событие.
// Непроверенная нагрузка дальше этой функции не проходит.
func ParseEvent(payload []byte, sigHeader, secret string, now time.Time) (*Event, error) {
	if err := VerifySignature(payload, sigHeader, secret, now); err != nil {
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, errors.New("event id or type missing")
	}

	return &event, nil
}

// VerifySignature проверяет подпись вебхука по схеме Stripe:
// HMAC-SHA256 от строки "<timestamp>.<payload>" с общим секретом,
// сравнение в постоянном времени. Заголовок имеет вид "t=...,v1=...,v1=...".
func VerifySignature(payload []byte, sigHeader, secret string, now time.Time) error {
	if sigHeader == "" || secret == "" {
		return ErrMissingSignature
	}

	var timestamp int64
	var signatures [][]byte

	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	eventTime := time.Unix(timestamp, 0)
	age := now.Sub(eventTime)
	if age > DefaultTolerance || age < -DefaultTolerance {
		return ErrEventTooOld
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// SignPayload формирует значение заголовка Stripe-Signature для указанной
// нагрузки. Используется в тестах обработчика вебхуков.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
