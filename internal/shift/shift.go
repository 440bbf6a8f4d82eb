package shift

import (
	"context"
	"errors"
	"strings"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// ExpenseMirror records a payout in the back-office expense ledger.
type ExpenseMirror interface {
	RecordExpense(ctx context.Context, expense domain.Expense) error
}

// Session owns the drawer session of one terminal. It is the only writer of
// shift entries; the owning terminal serializes access. The current shift is
// saved to the repository at every boundary.
type Session struct {
	repo       store.ShiftRepository
	storeID    string
	terminalID string
	current    *domain.Shift
	log        *logger.Logger
	metrics    *metrics.POSMetrics
	now        func() time.Time
}

type Option func(*Session)

func WithLogger(l *logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.POSMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSession(repo store.ShiftRepository, storeID string, terminalID string, opts ...Option) *Session {
	s := &Session{
		repo:       repo,
		storeID:    storeID,
		terminalID: terminalID,
		log:        logger.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the terminal's open shift, if any, from the repository.
func (s *Session) Load(ctx context.Context) error {
	shift, err := s.repo.LoadActiveShift(ctx, s.storeID, s.terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.current = nil
			return nil
		}
		return apperror.Wrap(apperror.CodeInternal, err, "load active shift")
	}
	s.current = shift
	return nil
}

func (s *Session) Open(ctx context.Context, cashierName string, openingFloatCents int64) (domain.Shift, error) {
	if openingFloatCents < 0 {
		return domain.Shift{}, apperror.Validation("opening float cannot be negative")
	}
	cashierName = strings.TrimSpace(cashierName)
	if cashierName == "" {
		return domain.Shift{}, apperror.Validation("cashier name is required")
	}
	if s.current != nil {
		return domain.Shift{}, apperror.Precondition("a shift is already open on this terminal")
	}

	shift := domain.Shift{
		ID:                xid.New("shift"),
		StoreID:           s.storeID,
		TerminalID:        s.terminalID,
		CashierName:       cashierName,
		OpeningFloatCents: openingFloatCents,
		Status:            domain.ShiftStatusOpen,
		OpenedAt:          s.now(),
		Entries:           []domain.ShiftEntry{},
	}
	if err := s.repo.SaveShift(ctx, shift); err != nil {
		if errors.Is(err, store.ErrShiftConflict) {
			return domain.Shift{}, apperror.Precondition("a shift is already open on this terminal")
		}
		return domain.Shift{}, apperror.Wrap(apperror.CodeInternal, err, "save shift")
	}
	s.current = &shift

	s.metrics.ShiftEvent("open")
	s.log.Info(s.log.WithField(ctx, "shift_id", shift.ID), "shift opened")
	return cloneShift(shift), nil
}

// RequireOpen guards sale commits.
func (s *Session) RequireOpen() (domain.Shift, error) {
	if s.current == nil {
		return domain.Shift{}, apperror.Precondition("shift closed")
	}
	return cloneShift(*s.current), nil
}

func (s *Session) Current() (domain.Shift, bool) {
	if s.current == nil {
		return domain.Shift{}, false
	}
	return cloneShift(*s.current), true
}

// RecordSale appends the committed sale using the back-office's figures. The
// entry is kept in memory even when the save fails, since the sale already
// exists upstream; the save error is returned for the caller to report.
func (s *Session) RecordSale(ctx context.Context, receipt domain.SaleReceipt, method string, cashCents int64) (domain.ShiftEntry, error) {
	if s.current == nil {
		return domain.ShiftEntry{}, apperror.Precondition("shift closed")
	}

	entry := domain.ShiftEntry{
		ID:         xid.New("entry"),
		Type:       domain.ShiftEntrySale,
		SaleID:     receipt.SaleID,
		SaleNumber: receipt.SaleNumber,
		TotalCents: receipt.TotalCents,
		Method:     method,
		CashCents:  cashCents,
		Timestamp:  s.now(),
	}
	next := cloneShift(*s.current)
	next.Entries = append(next.Entries, entry)
	s.current = &next

	if err := s.repo.SaveShift(ctx, next); err != nil {
		return entry, apperror.Wrap(apperror.CodeInternal, err, "save shift sale entry")
	}
	return entry, nil
}

// RecordPayout mirrors the payout to the expense ledger first and appends the
// drawer entry only once the mirror succeeded. A mirror failure leaves the
// shift untouched.
func (s *Session) RecordPayout(ctx context.Context, amountCents int64, reason string, recordedBy string, mirror ExpenseMirror) (domain.ShiftEntry, error) {
	reason = strings.TrimSpace(reason)
	if amountCents <= 0 {
		return domain.ShiftEntry{}, apperror.Validation("payout amount must be greater than zero")
	}
	if reason == "" {
		return domain.ShiftEntry{}, apperror.Validation("payout reason is required")
	}
	if s.current == nil {
		return domain.ShiftEntry{}, apperror.Precondition("shift closed")
	}

	at := s.now()
	if mirror != nil {
		err := mirror.RecordExpense(ctx, domain.Expense{
			ShiftID:     s.current.ID,
			StoreID:     s.storeID,
			TerminalID:  s.terminalID,
			AmountCents: amountCents,
			Reason:      reason,
			RecordedBy:  recordedBy,
			At:          at,
		})
		if err != nil {
			s.log.Error(ctx, "payout expense mirror failed", err)
			if apperror.As(err) == nil {
				err = apperror.Gateway(err, "could not record payout expense")
			}
			return domain.ShiftEntry{}, err
		}
	}

	entry := domain.ShiftEntry{
		ID:         xid.New("entry"),
		Type:       domain.ShiftEntryPayout,
		TotalCents: amountCents,
		Method:     string(domain.PaymentCash),
		CashCents:  -amountCents,
		Reason:     reason,
		Timestamp:  at,
	}
	next := cloneShift(*s.current)
	next.Entries = append(next.Entries, entry)
	if err := s.repo.SaveShift(ctx, next); err != nil {
		return domain.ShiftEntry{}, apperror.Wrap(apperror.CodeInternal, err, "save shift payout entry")
	}
	s.current = &next

	s.metrics.ShiftEvent("payout")
	s.log.Info(s.log.WithField(ctx, "shift_id", next.ID), "payout recorded")
	return entry, nil
}

// Close reconciles the drawer and ends the shift. The closed shift is never
// reopened; the next Open starts a new one.
func (s *Session) Close(ctx context.Context, actualCashCents int64, notes string, closedBy string) (domain.Shift, domain.ShiftClosingReport, error) {
	if actualCashCents < 0 {
		return domain.Shift{}, domain.ShiftClosingReport{}, apperror.Validation("cash count cannot be negative")
	}
	if s.current == nil {
		return domain.Shift{}, domain.ShiftClosingReport{}, apperror.Precondition("shift closed")
	}

	closedAt := s.now()
	report := Reconcile(*s.current, actualCashCents)
	report.Notes = strings.TrimSpace(notes)
	report.ClosedBy = closedBy
	report.ClosedAt = closedAt

	closed := cloneShift(*s.current)
	closed.Status = domain.ShiftStatusClosed
	closed.ClosedAt = &closedAt
	closed.Closing = &report
	if err := s.repo.SaveShift(ctx, closed); err != nil {
		return domain.Shift{}, domain.ShiftClosingReport{}, apperror.Wrap(apperror.CodeInternal, err, "save closed shift")
	}
	s.current = nil

	s.metrics.ShiftEvent("close")
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"shift_id":         closed.ID,
		"expected_cash":    report.ExpectedCashCents,
		"difference_cents": report.DifferenceCents,
	}), "shift closed")
	return closed, report, nil
}

// Reconcile computes the expected drawer cash of a shift against a count.
// Cash from cash and split sales counts; payouts are subtracted by magnitude.
func Reconcile(shift domain.Shift, actualCashCents int64) domain.ShiftClosingReport {
	report := domain.ShiftClosingReport{
		OpeningFloatCents: shift.OpeningFloatCents,
		ActualCashCents:   actualCashCents,
	}
	for _, entry := range shift.Entries {
		if entry.Type == domain.ShiftEntryPayout {
			report.TotalPayoutsCents += abs(entry.CashCents)
			report.PayoutCount++
			continue
		}
		report.SaleCount++
		if entry.Method == string(domain.PaymentCash) || entry.Method == domain.SaleMethodSplit {
			report.CashSalesCents += entry.CashCents
		}
	}
	report.ExpectedCashCents = report.OpeningFloatCents + report.CashSalesCents - report.TotalPayoutsCents
	report.DifferenceCents = actualCashCents - report.ExpectedCashCents
	return report
}

func cloneShift(shift domain.Shift) domain.Shift {
	out := shift
	out.Entries = append([]domain.ShiftEntry{}, shift.Entries...)
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
