package backoffice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return NewClient("http://backoffice.test/", WithToken("svc-token"), WithHTTPClient(&http.Client{Transport: rt}))
}

func TestCommitSaleSendsIdempotencyKeyAndParsesReceipt(t *testing.T) {
	var captured *http.Request
	var payload map[string]any
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		captured = req
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"sale":{"id":481,"saleNumber":"POS-000481","totalAmount":"1160.50"}}`), nil
	})

	receipt, err := client.CommitSale(context.Background(), domain.SaleCommit{
		CheckoutID: "chk-1",
		TerminalID: "T1",
		Lines:      []domain.CartLine{{SKU: "A", Name: "A", UnitPriceCents: 100050, Quantity: 1}},
		Totals:     domain.Totals{SubtotalCents: 100050, TaxCents: 16000, TotalCents: 116050},
		Payments:   []domain.PendingPayment{{Method: domain.PaymentCash, AmountCents: 116050, Status: domain.PaymentCompleted}},
		Method:     "cash",
		CashCents:  116050,
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	if captured.URL.String() != "http://backoffice.test/api/pos/sales" {
		t.Fatalf("unexpected url %s", captured.URL)
	}
	if captured.Header.Get("Idempotency-Key") != "chk-1" {
		t.Fatalf("missing idempotency key")
	}
	if captured.Header.Get("Authorization") != "Bearer svc-token" {
		t.Fatalf("missing bearer token")
	}
	if payload["totalAmount"] != 1160.5 {
		t.Fatalf("expected totalAmount 1160.5 on the wire, got %v", payload["totalAmount"])
	}
	if receipt.SaleID != "481" || receipt.SaleNumber != "POS-000481" || receipt.TotalCents != 116050 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestCommitSaleRejections(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "success false", status: http.StatusOK, body: `{"success":false,"error":"stock mismatch"}`},
		{name: "missing id", status: http.StatusOK, body: `{"success":true,"sale":{"saleNumber":"X"}}`},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "malformed", status: http.StatusOK, body: `{"success":`},
	}

	for _, tc := range cases {
		client := newTestClient(func(*http.Request) (*http.Response, error) {
			return jsonResponse(tc.status, tc.body), nil
		})
		_, err := client.CommitSale(context.Background(), domain.SaleCommit{CheckoutID: "chk"})
		if !apperror.IsCode(err, apperror.CodeGateway) {
			t.Fatalf("%s: expected gateway error, got %v", tc.name, err)
		}
	}
}

func TestTransportFailureIsGatewayError(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "254712345678", AmountCents: 10000})
	if !apperror.IsCode(err, apperror.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSTKPushRequiresCheckoutRequestID(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), `"amount":100.00`) {
			t.Fatalf("expected shilling amount in body, got %s", body)
		}
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	})
	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "254712345678", AmountCents: 10000})
	if !apperror.IsCode(err, apperror.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSTKQueryClassification(t *testing.T) {
	cases := []struct {
		body string
		want STKOutcome
	}{
		{body: `{"success":true,"isSuccess":true,"ResultCode":"0","ResultDesc":"ok"}`, want: STKSucceeded},
		{body: `{"success":true,"isSuccess":false,"ResultCode":1032,"ResultDesc":"Request cancelled by user"}`, want: STKFailed},
		{body: `{"success":true,"isSuccess":false,"ResultCode":"2001","ResultDesc":"wrong pin"}`, want: STKFailed},
		{body: `{"success":false,"error":"The transaction is being processed"}`, want: STKPending},
		{body: `{"success":true,"isSuccess":false}`, want: STKPending},
		{body: `{"success":true,"isSuccess":false,"ResultCode":"0"}`, want: STKPending},
		{body: `{"success":true,"isSuccess":false,"ResultCode":"abc"}`, want: STKPending},
	}

	for _, tc := range cases {
		client := newTestClient(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, tc.body), nil
		})
		status, err := client.STKQuery(context.Background(), "ws_CO_1")
		if err != nil {
			t.Fatalf("stk query %s: %v", tc.body, err)
		}
		if status.Outcome != tc.want {
			t.Fatalf("body %s: expected %s, got %s", tc.body, tc.want, status.Outcome)
		}
	}
}

func TestSubmitOrderRequiresTrackingAndRedirect(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":true,"orderTrackingId":"trk-1"}`), nil
	})
	_, err := client.SubmitOrder(context.Background(), OrderRequest{AmountCents: 5000, Reference: "chk"})
	if !apperror.IsCode(err, apperror.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	client = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":true,"orderTrackingId":"trk-1","redirectUrl":"https://pay.pesapal.test/x"}`), nil
	})
	result, err := client.SubmitOrder(context.Background(), OrderRequest{AmountCents: 5000, Reference: "chk"})
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if result.TrackingID != "trk-1" || result.RedirectURL != "https://pay.pesapal.test/x" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestOrderStatusStrictEnum(t *testing.T) {
	cases := []struct {
		body    string
		want    domain.PaymentStatus
		wantErr bool
	}{
		{body: `{"success":true,"status":"completed","confirmationCode":"C1","paymentMethod":"Visa"}`, want: domain.PaymentCompleted},
		{body: `{"success":true,"status":"FAILED"}`, want: domain.PaymentFailed},
		{body: `{"success":true,"status":"Pending"}`, want: domain.PaymentPending},
		{body: `{"success":true,"status":"INVALID"}`, wantErr: true},
		{body: `{"success":true,"status":"REVERSED"}`, wantErr: true},
		{body: `{"success":true}`, wantErr: true},
		{body: `{"success":false,"error":"unknown order"}`, wantErr: true},
	}

	for _, tc := range cases {
		client := newTestClient(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, tc.body), nil
		})
		status, err := client.OrderStatus(context.Background(), "trk-1")
		if tc.wantErr {
			if !apperror.IsCode(err, apperror.CodeGateway) {
				t.Fatalf("body %s: expected gateway error, got %v", tc.body, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("body %s: %v", tc.body, err)
		}
		if status.Status != tc.want {
			t.Fatalf("body %s: expected %s, got %s", tc.body, tc.want, status.Status)
		}
	}
}

func TestRecordExpense(t *testing.T) {
	var payload map[string]any
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/expenses" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &payload)
		return jsonResponse(http.StatusCreated, ``), nil
	})

	err := client.RecordExpense(context.Background(), domain.Expense{ShiftID: "shift-1", AmountCents: 2500, Reason: "transport"})
	if err != nil {
		t.Fatalf("record expense: %v", err)
	}
	if payload["amount"] != 25.0 || payload["category"] != payoutExpenseCategory {
		t.Fatalf("unexpected payload %+v", payload)
	}

	client = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false,"error":"closed period"}`), nil
	})
	err = client.RecordExpense(context.Background(), domain.Expense{AmountCents: 2500, Reason: "transport"})
	if !apperror.IsCode(err, apperror.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
