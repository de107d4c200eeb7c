package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

func TestParseSignatureHeader(t *testing.T) {
	ts, sigs, err := parseSignatureHeader("t=1756200000,v1=deadbeef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts != 1756200000 || len(sigs) != 1 || sigs[0] != "deadbeef" {
		t.Fatalf("got ts=%d sigs=%v", ts, sigs)
	}

	// Multiple v1 entries (key rotation) are all collected.
	_, sigs, err = parseSignatureHeader("t=1756200000,v1=aaaa,v1=bbbb")
	if err != nil {
		t.Fatalf("parse rotated: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 sigs, got %v", sigs)
	}

	for _, h := range []string{"", "t=notanumber,v1=x", "v1=deadbeef", "t=123"} {
		if _, _, err := parseSignatureHeader(h); err == nil {
			t.Errorf("header %q should be rejected", h)
		}
	}
}

func postWebhook(t *testing.T, body, sigHeader string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/webhooks/payment", HandlePaymentWebhook)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", strings.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	os.Setenv("VF_PAYMENT_WEBHOOK_SECRET", "whsec_test")
	t.Cleanup(func() { os.Unsetenv("VF_PAYMENT_WEBHOOK_SECRET") })

	body := `{"id":"evt_1","type":"payment_intent.succeeded"}`
	now := time.Now().Unix()

	// Missing header
	if w := postWebhook(t, body, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing header: expected 400, got %d", w.Code)
	}
	// Wrong secret
	sig := utils.ComputeWebhookSignature("whsec_other", now, []byte(body))
	if w := postWebhook(t, body, fmt.Sprintf("t=%d,v1=%s", now, sig)); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret: expected 400, got %d", w.Code)
	}
	// Stale timestamp
	old := time.Now().Add(-time.Hour).Unix()
	sig = utils.ComputeWebhookSignature("whsec_test", old, []byte(body))
	if w := postWebhook(t, body, fmt.Sprintf("t=%d,v1=%s", old, sig)); w.Code != http.StatusBadRequest {
		t.Fatalf("stale timestamp: expected 400, got %d", w.Code)
	}
}

func TestWebhookReplayAcknowledgedWithoutEffect(t *testing.T) {
	os.Setenv("VF_PAYMENT_WEBHOOK_SECRET", "whsec_test")
	t.Cleanup(func() { os.Unsetenv("VF_PAYMENT_WEBHOOK_SECRET") })

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	// A recorded event id short-circuits before any state is touched.
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM processed_events WHERE event_id=\$1\)`).
		WithArgs("evt_replay").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	body := `{"id":"evt_replay","type":"charge.updated"}`
	now := time.Now().Unix()
	sig := utils.ComputeWebhookSignature("whsec_test", now, []byte(body))
	w := postWebhook(t, body, fmt.Sprintf("t=%d,v1=%s", now, sig))

	if w.Code != http.StatusOK {
		t.Fatalf("replay should be acked with 200, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "already processed") {
		t.Fatalf("expected replay ack, got %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookRetryAfterFailedDeliverySucceeds(t *testing.T) {
	os.Setenv("VF_PAYMENT_WEBHOOK_SECRET", "whsec_test")
	t.Cleanup(func() { os.Unsetenv("VF_PAYMENT_WEBHOOK_SECRET") })
	setupTestQueue(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	orderID := uuid.New()
	sessionID := uuid.New()
	now := time.Now()
	body := fmt.Sprintf(`{"id":"evt_retry","type":"payment_intent.succeeded","data":{"object":{"id":"pi_retry","metadata":{"order_id":"%s"}}}}`, orderID)
	ts := time.Now().Unix()
	sig := fmt.Sprintf("t=%d,v1=%s", ts, utils.ComputeWebhookSignature("whsec_test", ts, []byte(body)))

	existsQ := `SELECT EXISTS \(SELECT 1 FROM processed_events WHERE event_id=\$1\)`
	orderRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "session_id", "product_code", "amount_cents", "discount_cents", "currency", "promo_code", "payment_intent_id", "status", "artifact_path", "fulfilled_at", "created_at", "updated_at"}).
			AddRow(orderID, sessionID, "digital", int64(1900), int64(0), "eur", nil, "pi_retry", database.OrderPendingPayment, nil, nil, now, now)
	}

	// First delivery dies before the transition commits. No marker row may
	// survive it.
	mock.ExpectQuery(existsQ).WithArgs("evt_retry").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM orders").WithArgs(orderID).WillReturnRows(orderRow())
	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection reset"))

	if w := postWebhook(t, body, sig); w.Code != http.StatusInternalServerError {
		t.Fatalf("failed delivery should report 500, got %d %s", w.Code, w.Body.String())
	}

	// The gateway retries the identical event; this time the order and
	// session transitions must actually execute.
	mock.ExpectQuery(existsQ).WithArgs("evt_retry").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM orders").WithArgs(orderID).WillReturnRows(orderRow())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(markEventQuery)).WithArgs("evt_retry", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET status").WithArgs(database.OrderPaid, sqlmock.AnyArg(), orderID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET status").WithArgs(database.SessionPaid, sqlmock.AnyArg(), sessionID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if w := postWebhook(t, body, sig); w.Code != http.StatusOK {
		t.Fatalf("retried delivery should be acked, got %d %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	os.Setenv("VF_PAYMENT_WEBHOOK_SECRET", "whsec_test")
	t.Cleanup(func() { os.Unsetenv("VF_PAYMENT_WEBHOOK_SECRET") })

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM processed_events WHERE event_id=\$1\)`).
		WithArgs("evt_new").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	ins := regexp.QuoteMeta(markEventQuery)
	mock.ExpectExec(ins).WithArgs("evt_new", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"id":"evt_new","type":"customer.created"}`
	now := time.Now().Unix()
	sig := utils.ComputeWebhookSignature("whsec_test", now, []byte(body))
	w := postWebhook(t, body, fmt.Sprintf("t=%d,v1=%s", now, sig))

	if w.Code != http.StatusOK {
		t.Fatalf("unknown event should be acked, got %d %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
