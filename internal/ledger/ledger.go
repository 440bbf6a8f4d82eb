package ledger

import (
	"strings"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/xid"
)

// Ledger accumulates the partial payments of one checkout until the sale
// total is covered. The owning terminal serializes access.
type Ledger struct {
	payments []domain.PendingPayment
	now      func() time.Time
}

func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// Add records a manually entered payment. Cash settles immediately; card and
// bank settle once a reference is known; M-PESA without a reference must go
// through an STK push instead.
func (l *Ledger) Add(totalCents int64, method domain.PaymentMethod, amountCents int64, reference string) (domain.PendingPayment, error) {
	if !method.Valid() {
		return domain.PendingPayment{}, apperror.Newf(apperror.CodeValidation, "unsupported payment method %q", method)
	}
	reference = strings.TrimSpace(reference)

	status := domain.PaymentCompleted
	switch method {
	case domain.PaymentCash:
		reference = ""
	case domain.PaymentCard, domain.PaymentBank:
		if reference == "" {
			status = domain.PaymentPending
		}
	case domain.PaymentMpesa:
		if reference == "" {
			return domain.PendingPayment{}, apperror.Validation("mpesa payments without a receipt code must use an STK push")
		}
	}

	if err := l.checkAmount(totalCents, amountCents); err != nil {
		return domain.PendingPayment{}, err
	}

	payment := domain.PendingPayment{
		ID:          xid.New("pay"),
		Method:      method,
		AmountCents: amountCents,
		Status:      status,
		Reference:   reference,
		CreatedAt:   l.now(),
	}
	l.payments = append(l.payments, payment)
	return payment, nil
}

// AddGatewayPayment appends a line created by a gateway coordinator. A line
// that already carries the same gateway and reference is returned as is.
func (l *Ledger) AddGatewayPayment(totalCents int64, payment domain.PendingPayment) (domain.PendingPayment, error) {
	if payment.Gateway == "" || payment.Reference == "" {
		return domain.PendingPayment{}, apperror.New(apperror.CodeInternal, "gateway payment requires gateway and reference")
	}
	if existing, ok := l.FindByReference(payment.Gateway, payment.Reference); ok {
		return existing, nil
	}
	if err := l.checkAmount(totalCents, payment.AmountCents); err != nil {
		return domain.PendingPayment{}, err
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Status == "" {
		payment.Status = domain.PaymentPending
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = l.now()
	}
	l.payments = append(l.payments, payment)
	return payment, nil
}

// ConfirmReference completes a card or bank line that was waiting for its
// reference.
func (l *Ledger) ConfirmReference(paymentID string, reference string) (domain.PendingPayment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.PendingPayment{}, apperror.Validation("reference is required")
	}
	idx := l.indexOf(paymentID)
	if idx < 0 {
		return domain.PendingPayment{}, apperror.Newf(apperror.CodeNotFound, "payment %s not found", paymentID)
	}
	payment := &l.payments[idx]
	if payment.Gateway != "" {
		return domain.PendingPayment{}, apperror.Precondition("gateway payments are confirmed by their gateway")
	}
	if payment.Status != domain.PaymentPending {
		return domain.PendingPayment{}, apperror.Precondition("payment is not awaiting a reference")
	}
	payment.Reference = reference
	payment.Status = domain.PaymentCompleted
	return *payment, nil
}

// UpdateByReference mutates the matching line in place. It never appends, so
// repeating the same update leaves the ledger length unchanged.
func (l *Ledger) UpdateByReference(gateway string, reference string, status domain.PaymentStatus, confirmationCode string, gatewayMethod string) (domain.PendingPayment, bool) {
	for i := range l.payments {
		payment := &l.payments[i]
		if payment.Gateway != gateway || payment.Reference != reference {
			continue
		}
		payment.Status = status
		if confirmationCode != "" {
			payment.ConfirmationCode = confirmationCode
		}
		if gatewayMethod != "" {
			payment.GatewayMethod = gatewayMethod
		}
		return *payment, true
	}
	return domain.PendingPayment{}, false
}

func (l *Ledger) FindByReference(gateway string, reference string) (domain.PendingPayment, bool) {
	for _, payment := range l.payments {
		if payment.Gateway == gateway && payment.Reference == reference {
			return payment, true
		}
	}
	return domain.PendingPayment{}, false
}

// Remove drops a line without contacting any gateway. Reversal of money
// already taken is the caller's concern.
func (l *Ledger) Remove(paymentID string) error {
	idx := l.indexOf(paymentID)
	if idx < 0 {
		return apperror.Newf(apperror.CodeNotFound, "payment %s not found", paymentID)
	}
	l.payments = append(l.payments[:idx], l.payments[idx+1:]...)
	return nil
}

func (l *Ledger) Clear() {
	l.payments = nil
}

func (l *Ledger) Len() int {
	return len(l.payments)
}

// Payments returns a copy in completion order.
func (l *Ledger) Payments() []domain.PendingPayment {
	out := make([]domain.PendingPayment, len(l.payments))
	copy(out, l.payments)
	return out
}

// PaidCents sums completed lines only.
func (l *Ledger) PaidCents() int64 {
	sum := int64(0)
	for _, payment := range l.payments {
		if payment.Status == domain.PaymentCompleted {
			sum += payment.AmountCents
		}
	}
	return sum
}

// CommittedCents sums completed and pending lines. Failed lines no longer
// count against the balance.
func (l *Ledger) CommittedCents() int64 {
	sum := int64(0)
	for _, payment := range l.payments {
		if payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentPending {
			sum += payment.AmountCents
		}
	}
	return sum
}

func (l *Ledger) RemainingCents(totalCents int64) int64 {
	return totalCents - l.CommittedCents()
}

func (l *Ledger) HasPending() bool {
	for _, payment := range l.payments {
		if payment.Status == domain.PaymentPending {
			return true
		}
	}
	return false
}

// CanSettle reports whether a sale of totalCents may be committed: completed
// lines cover the total and nothing is left unverified.
func (l *Ledger) CanSettle(totalCents int64) bool {
	return l.PaidCents() >= totalCents && !l.HasPending()
}

// Breakdown reports the sale method over completed lines (the single method,
// or split when more than one was used) and the cash portion.
func (l *Ledger) Breakdown() (string, int64) {
	method := ""
	cash := int64(0)
	for _, payment := range l.payments {
		if payment.Status != domain.PaymentCompleted {
			continue
		}
		if payment.Method == domain.PaymentCash {
			cash += payment.AmountCents
		}
		switch method {
		case "":
			method = string(payment.Method)
		case string(payment.Method), domain.SaleMethodSplit:
		default:
			method = domain.SaleMethodSplit
		}
	}
	return method, cash
}

func (l *Ledger) checkAmount(totalCents int64, amountCents int64) error {
	if amountCents <= 0 {
		return apperror.Validation("payment amount must be greater than zero")
	}
	remaining := l.RemainingCents(totalCents)
	if amountCents > remaining {
		return apperror.Newf(apperror.CodeValidation, "payment amount %d exceeds remaining balance %d", amountCents, remaining)
	}
	return nil
}

func (l *Ledger) indexOf(paymentID string) int {
	for i := range l.payments {
		if l.payments[i].ID == paymentID {
			return i
		}
	}
	return -1
}
