package backoffice

import (
	"context"
	"fmt"
	"strings"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

type OrderRequest struct {
	AmountCents int64
	Reference   string
	Description string
	Email       string
	Phone       string
	FirstName   string
	LastName    string
	CallbackURL string
}

type OrderResult struct {
	TrackingID        string
	RedirectURL       string
	MerchantReference string
}

// OrderStatus is the normalized answer of the Pesapal status proxy.
type OrderStatus struct {
	Status           domain.PaymentStatus
	Description      string
	ConfirmationCode string
	PaymentMethod    string
}

type submitOrderPayload struct {
	Amount      amount `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type submitOrderResponse struct {
	envelope
	OrderTrackingID   string `json:"orderTrackingId"`
	RedirectURL       string `json:"redirectUrl"`
	MerchantReference string `json:"merchantReference"`
}

// SubmitOrder creates a hosted checkout. Both the tracking id and the
// redirect URL are required; a response missing either is a gateway error.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	payload := submitOrderPayload{
		Amount:      amount(req.AmountCents),
		Currency:    "KES",
		Reference:   req.Reference,
		Description: req.Description,
		Email:       req.Email,
		Phone:       req.Phone,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		CallbackURL: req.CallbackURL,
	}

	var resp submitOrderResponse
	if err := c.post(ctx, "pesapal", "submit_order", pesapalSubmitOrderPath, payload, &resp, requestOptions{}); err != nil {
		return OrderResult{}, err
	}
	if resp.failed() {
		return OrderResult{}, apperror.Gateway(nil, resp.reason("pesapal order rejected"))
	}
	trackingID := strings.TrimSpace(resp.OrderTrackingID)
	redirectURL := strings.TrimSpace(resp.RedirectURL)
	if trackingID == "" || redirectURL == "" {
		return OrderResult{}, apperror.Gateway(fmt.Errorf("orderTrackingId/redirectUrl: %w", errMissingField), "pesapal order response incomplete")
	}

	return OrderResult{
		TrackingID:        trackingID,
		RedirectURL:       redirectURL,
		MerchantReference: resp.MerchantReference,
	}, nil
}

type orderStatusPayload struct {
	OrderTrackingID string `json:"orderTrackingId"`
}

type orderStatusResponse struct {
	envelope
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	ConfirmationCode  string `json:"confirmationCode"`
	PaymentMethod     string `json:"paymentMethod"`
}

// OrderStatus queries a hosted checkout. Statuses outside
// PENDING/COMPLETED/FAILED are rejected instead of defaulted.
func (c *Client) OrderStatus(ctx context.Context, trackingID string) (OrderStatus, error) {
	var resp orderStatusResponse
	if err := c.post(ctx, "pesapal", "order_status", pesapalStatusPath, orderStatusPayload{OrderTrackingID: trackingID}, &resp, requestOptions{}); err != nil {
		return OrderStatus{}, err
	}
	if resp.failed() {
		return OrderStatus{}, apperror.Gateway(nil, resp.reason("pesapal status query failed"))
	}

	status, err := parseOrderStatus(resp.Status)
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		Status:           status,
		Description:      strings.TrimSpace(resp.StatusDescription),
		ConfirmationCode: strings.TrimSpace(resp.ConfirmationCode),
		PaymentMethod:    strings.TrimSpace(resp.PaymentMethod),
	}, nil
}

func parseOrderStatus(raw string) (domain.PaymentStatus, error) {
	switch domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case domain.PaymentPending:
		return domain.PaymentPending, nil
	case domain.PaymentCompleted:
		return domain.PaymentCompleted, nil
	case domain.PaymentFailed:
		return domain.PaymentFailed, nil
	default:
		return "", apperror.Gateway(fmt.Errorf("status %q", raw), "unrecognized pesapal status")
	}
}
