package stripe

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "whsec_test_secret"

func TestVerifySignature_OK(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	header := SignPayload(payload, testSecret, now)

	if err := VerifySignature(payload, header, testSecret, now); err != nil {
		t.Fatalf("VerifySignature error: %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	header := SignPayload(payload, "whsec_other", now)

	err := VerifySignature(payload, header, testSecret, now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","amount":100}`)
	now := time.Now()

	header := SignPayload(payload, testSecret, now)
	tampered := []byte(`{"id":"evt_1","amount":999}`)

	err := VerifySignature(tampered, header, testSecret, now)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	err := VerifySignature([]byte("{}"), "", testSecret, time.Now())
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifySignature_OldEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	signedAt := time.Now().Add(-time.Hour)

	header := SignPayload(payload, testSecret, signedAt)

	err := VerifySignature(payload, header, testSecret, time.Now())
	if !errors.Is(err, ErrEventTooOld) {
		t.Fatalf("expected ErrEventTooOld, got %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_42","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","amount_total":40000,"currency":"usd","customer_details":{"email":"client@example.com"}}}}`)
	now := time.Now()

	event, err := ParseEvent(payload, SignPayload(payload, testSecret, now), testSecret, now)
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}
	if event.ID != "evt_42" || event.Type != EventCheckoutSessionCompleted {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCheckoutSessionEvent_Email(t *testing.T) {
	s := &CheckoutSessionEvent{}
	s.CustomerDetails.Email = "details@example.com"
	if got := s.Email(); got != "details@example.com" {
		t.Fatalf("Email() = %q, want details@example.com", got)
	}

	s.CustomerEmail = "direct@example.com"
	if got := s.Email(); got != "direct@example.com" {
		t.Fatalf("Email() = %q, want direct@example.com", got)
	}
}
