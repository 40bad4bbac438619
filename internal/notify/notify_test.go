package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestEmailSender_Send(t *testing.T) {
	var got emailRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sender := NewEmailSender(ts.URL, zap.NewNop())

	err := sender.Send(context.Background(), "client@example.com", EmailPaymentConfirmation, TemplateParams{
		ClientName: "Alex",
		PlanName:   "24-Hour ChexSystems Removal",
		Amount:     "$400.00",
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if got.To != "client@example.com" {
		t.Fatalf("to = %q", got.To)
	}
	if got.Type != string(EmailPaymentConfirmation) {
		t.Fatalf("type = %q", got.Type)
	}
	if !strings.Contains(got.HTML, "24-Hour ChexSystems Removal") {
		t.Fatalf("body does not mention plan: %q", got.HTML)
	}
}

func TestEmailSender_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sender := NewEmailSender(ts.URL, zap.NewNop())

	err := sender.Send(context.Background(), "client@example.com", EmailWelcome, TemplateParams{ClientName: "Alex"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestEmailSender_NotConfigured(t *testing.T) {
	sender := NewEmailSender("", zap.NewNop())

	if err := sender.Send(context.Background(), "client@example.com", EmailWelcome, TemplateParams{}); err != nil {
		t.Fatalf("unconfigured sender must be a no-op, got %v", err)
	}
}

func TestSMSSender_Send(t *testing.T) {
	var got smsRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sender := NewSMSSender(ts.URL, zap.NewNop())

	err := sender.Send(context.Background(), 7, "+14698772300", SMSCaseActivated, TemplateParams{
		ClientName: "Alex",
		SLAHours:   24,
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if got.UserID != 7 || got.PhoneNumber != "+14698772300" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if !strings.Contains(got.Message, "24-hour SLA timer started") {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestSMSSender_SkipsWithoutPhone(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	sender := NewSMSSender(ts.URL, zap.NewNop())

	if err := sender.Send(context.Background(), 7, "", SMSSupport, TemplateParams{}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if called {
		t.Fatalf("sms gateway must not be called without a phone number")
	}
}

func TestRenderSMS_SLAWarning(t *testing.T) {
	msg := renderSMS(SMSSLAWarning, TemplateParams{ClientName: "Alex", HoursRemaining: 11})
	if !strings.Contains(msg, "11 hours remaining") {
		t.Fatalf("message = %q", msg)
	}
}
