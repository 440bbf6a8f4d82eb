package backoffice

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dukapos/backend/internal/apperror"
)

type STKPushRequest struct {
	Phone            string
	AmountCents      int64
	AccountReference string
	Description      string
}

type STKPushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

type STKOutcome string

const (
	STKSucceeded STKOutcome = "succeeded"
	STKFailed    STKOutcome = "failed"
	STKPending   STKOutcome = "pending"
)

type STKStatus struct {
	Outcome    STKOutcome
	ResultCode string
	ResultDesc string
	Receipt    string
}

type stkPushPayload struct {
	PhoneNumber      string `json:"phoneNumber"`
	Amount           amount `json:"amount"`
	AccountReference string `json:"accountReference"`
	TransactionDesc  string `json:"transactionDesc"`
}

type stkPushResponse struct {
	envelope
	CheckoutRequestID string `json:"CheckoutRequestID"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CustomerMessage   string `json:"CustomerMessage"`
}

// STKPush asks the back-office to send a payment prompt to the payer's phone.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (STKPushResult, error) {
	payload := stkPushPayload{
		PhoneNumber:      req.Phone,
		Amount:           amount(req.AmountCents),
		AccountReference: req.AccountReference,
		TransactionDesc:  req.Description,
	}

	var resp stkPushResponse
	if err := c.post(ctx, "mpesa", "stkpush", stkPushPath, payload, &resp, requestOptions{}); err != nil {
		return STKPushResult{}, err
	}
	if resp.failed() {
		return STKPushResult{}, apperror.Gateway(nil, resp.reason("stk push rejected"))
	}
	checkoutID := strings.TrimSpace(resp.CheckoutRequestID)
	if checkoutID == "" {
		return STKPushResult{}, apperror.Gateway(fmt.Errorf("CheckoutRequestID: %w", errMissingField), "stk push response missing checkout request id")
	}

	return STKPushResult{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

type stkQueryPayload struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type stkQueryResponse struct {
	envelope
	IsSuccess          bool        `json:"isSuccess"`
	ResultCode         looseString `json:"ResultCode"`
	ResultDesc         string      `json:"ResultDesc"`
	MpesaReceiptNumber string      `json:"MpesaReceiptNumber"`
}

// STKQuery reports the state of a prompt. A query the back-office could not
// answer yet (success=false, usually "still processing") is pending, not a
// failure: only a definitive non-zero result code fails the prompt.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (STKStatus, error) {
	var resp stkQueryResponse
	if err := c.post(ctx, "mpesa", "stkquery", stkQueryPath, stkQueryPayload{CheckoutRequestID: checkoutRequestID}, &resp, requestOptions{}); err != nil {
		return STKStatus{}, err
	}
	return classifySTKQuery(resp), nil
}

func classifySTKQuery(resp stkQueryResponse) STKStatus {
	status := STKStatus{
		Outcome:    STKPending,
		ResultCode: resp.ResultCode.String(),
		ResultDesc: strings.TrimSpace(resp.ResultDesc),
		Receipt:    strings.TrimSpace(resp.MpesaReceiptNumber),
	}
	if status.ResultDesc == "" && resp.failed() {
		status.ResultDesc = resp.reason("")
	}

	if resp.IsSuccess {
		status.Outcome = STKSucceeded
		return status
	}
	if resp.failed() || status.ResultCode == "" {
		return status
	}
	code, err := strconv.Atoi(status.ResultCode)
	if err != nil {
		return status
	}
	if code != 0 {
		status.Outcome = STKFailed
	}
	return status
}
