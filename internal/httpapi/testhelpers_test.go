package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/service"
	"dukapos/backend/internal/store/memory"
)

const (
	testSecret = "test-secret-key-with-enough-length"
	testPIN    = "482916"
)

// fakeBackoffice answers the back-office endpoints the terminal calls.
type fakeBackoffice struct {
	mu          sync.Mutex
	sales       int
	expenses    int
	orderStatus string
}

func (f *fakeBackoffice) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pos/sales", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sales++
		f.mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"sale":    map[string]any{"id": 501, "saleNumber": "POS-0501", "totalAmount": "116.00"},
		})
	})
	mux.HandleFunc("/api/expenses", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.expenses++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("/api/payments/pesapal/submitorder", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"orderTrackingId": "trk-http-1",
			"redirectUrl":     "https://pay.example/trk-http-1",
		})
	})
	mux.HandleFunc("/api/payments/pesapal/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.orderStatus
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"status":           status,
			"confirmationCode": "PP-HTTP",
			"paymentMethod":    "Visa",
		})
	})
	return mux
}

type testEnv struct {
	api     *API
	handler http.Handler
	auth    *AuthManager
	bo      *fakeBackoffice
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	bo := &fakeBackoffice{orderStatus: "PENDING"}
	server := httptest.NewServer(bo.handler())
	t.Cleanup(server.Close)

	client := backoffice.NewClient(server.URL, backoffice.WithTimeout(5*time.Second))
	svc := service.New(memory.New(), client, cache.NewMemoryPendingOrders(), service.Options{
		StoreID:        "main-store",
		TaxRatePercent: decimal.NewFromInt(16),
	})
	t.Cleanup(svc.Shutdown)

	auth := NewAuthManager(testSecret, testPIN)
	api := New(svc, auth, Options{
		AllowedOrigin:    "*",
		PesapalReturnURL: "https://till.example/pos?view=checkout",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
	return testEnv{api: api, handler: api.Handler(), auth: auth, bo: bo}
}

func (e testEnv) token(t *testing.T, username string, role string) string {
	t.Helper()
	token, err := e.auth.sign(username, role, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e testEnv) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func openShiftWithCart(t *testing.T, e testEnv, token string) domain.CheckoutView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/terminals/T1/shift/open", token, domain.ShiftOpenRequest{OpeningFloatCents: 500000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/api/v1/terminals/T1/checkout/items", token, domain.CartItemInput{
		SKU: "SKU-MILK", Name: "Milk 500ml", UnitPriceCents: 50000, Quantity: 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return decodeBody[domain.CheckoutView](t, rec)
}
