package backoffice

import (
	"context"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

const payoutExpenseCategory = "Cash Payout"

type expensePayload struct {
	Amount        amount `json:"amount"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	PaymentMethod string `json:"paymentMethod"`
	Date          string `json:"date"`
	ShiftID       string `json:"shiftId"`
	StoreID       string `json:"storeId"`
	TerminalID    string `json:"terminalId"`
	RecordedBy    string `json:"recordedBy,omitempty"`
}

// RecordExpense mirrors a drawer payout into the expense ledger.
func (c *Client) RecordExpense(ctx context.Context, expense domain.Expense) error {
	at := expense.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload := expensePayload{
		Amount:        amount(expense.AmountCents),
		Description:   expense.Reason,
		Category:      payoutExpenseCategory,
		PaymentMethod: string(domain.PaymentCash),
		Date:          at.Format(time.RFC3339),
		ShiftID:       expense.ShiftID,
		StoreID:       expense.StoreID,
		TerminalID:    expense.TerminalID,
		RecordedBy:    expense.RecordedBy,
	}

	var resp envelope
	if err := c.post(ctx, "backoffice", "record_expense", expensesPath, payload, &resp, requestOptions{}); err != nil {
		return err
	}
	if resp.failed() {
		return apperror.Gateway(nil, resp.reason("expense rejected by back-office"))
	}
	return nil
}
