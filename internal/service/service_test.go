package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/gateway/mpesa"
	"dukapos/backend/internal/store/memory"
)

type fakeBackoffice struct {
	mu sync.Mutex

	commitErr error
	commits   []domain.SaleCommit
	expenses  []domain.Expense

	stkStatus backoffice.STKStatus
	stkPushes int

	orderSeq    int
	orderStatus backoffice.OrderStatus
}

func (f *fakeBackoffice) CommitSale(_ context.Context, sale domain.SaleCommit) (domain.SaleReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return domain.SaleReceipt{}, f.commitErr
	}
	f.commits = append(f.commits, sale)
	return domain.SaleReceipt{
		SaleID:     "sale-1",
		SaleNumber: "POS-0001",
		TotalCents: sale.Totals.TotalCents,
	}, nil
}

func (f *fakeBackoffice) RecordExpense(_ context.Context, expense domain.Expense) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expenses = append(f.expenses, expense)
	return nil
}

func (f *fakeBackoffice) STKPush(_ context.Context, _ backoffice.STKPushRequest) (backoffice.STKPushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stkPushes++
	return backoffice.STKPushResult{CheckoutRequestID: "ws_CO_100"}, nil
}

func (f *fakeBackoffice) STKQuery(_ context.Context, _ string) (backoffice.STKStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stkStatus, nil
}

func (f *fakeBackoffice) SubmitOrder(_ context.Context, _ backoffice.OrderRequest) (backoffice.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderSeq++
	tracking := "trk-" + string(rune('0'+f.orderSeq))
	return backoffice.OrderResult{
		TrackingID:  tracking,
		RedirectURL: "https://pay.example/" + tracking,
	}, nil
}

func (f *fakeBackoffice) OrderStatus(_ context.Context, _ string) (backoffice.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderStatus, nil
}

type queuedScheduler struct {
	mu    sync.Mutex
	calls []func()
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (s *queuedScheduler) AfterFunc(_ time.Duration, f func()) mpesa.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, f)
	return noopTimer{}
}

// fire runs the oldest queued poll, stopped or not, the way a timer that
// already fired would.
func (s *queuedScheduler) fire() bool {
	s.mu.Lock()
	if len(s.calls) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.calls[0]
	s.calls = s.calls[1:]
	s.mu.Unlock()
	next()
	return true
}

type fixture struct {
	svc       *Service
	bo        *fakeBackoffice
	scheduler *queuedScheduler
	orders    *cache.MemoryPendingOrders
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bo := &fakeBackoffice{stkStatus: backoffice.STKStatus{Outcome: backoffice.STKPending}}
	scheduler := &queuedScheduler{}
	orders := cache.NewMemoryPendingOrders()
	svc := New(memory.New(), bo, orders, Options{
		StoreID:          "main-store",
		TaxRatePercent:   decimal.NewFromInt(16),
		MpesaMaxAttempts: 3,
		MpesaScheduler:   scheduler,
	})
	return fixture{svc: svc, bo: bo, scheduler: scheduler, orders: orders}
}

func cashierContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "amina", Role: domain.RoleCashier})
}

// openWithCart opens a shift and rings up 100000 cents before 16% VAT.
func (f fixture) openWithCart(t *testing.T, ctx context.Context) domain.CheckoutView {
	t.Helper()
	if _, err := f.svc.OpenShift(ctx, "T1", domain.ShiftOpenRequest{OpeningFloatCents: 500000}); err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	view, err := f.svc.AddItem(ctx, "T1", domain.CartItemInput{SKU: "SKU-UGALI", Name: "Maize flour", UnitPriceCents: 50000, Quantity: 2})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if view.Totals.TotalCents != 116000 {
		t.Fatalf("expected total 116000, got %d", view.Totals.TotalCents)
	}
	return view
}

func TestSplitPaymentSaleEndToEnd(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	first := f.openWithCart(t, ctx)

	if _, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 50000}); err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}

	mpesaView, err := f.svc.StartMpesa(ctx, "T1", domain.MpesaStartRequest{Phone: "0712345678", AmountCents: 40000})
	if err != nil {
		t.Fatalf("start mpesa failed: %v", err)
	}
	if mpesaView.State != domain.MpesaPending {
		t.Fatalf("expected pending prompt, got %s", mpesaView.State)
	}
	f.bo.mu.Lock()
	f.bo.stkStatus = backoffice.STKStatus{Outcome: backoffice.STKSucceeded, ResultCode: "0", Receipt: "QK12AB34CD"}
	f.bo.mu.Unlock()
	if !f.scheduler.fire() {
		t.Fatalf("expected a scheduled poll")
	}

	pesapalView, err := f.svc.SubmitPesapal(ctx, "T1", domain.PesapalSubmitRequest{AmountCents: 26000})
	if err != nil {
		t.Fatalf("submit pesapal failed: %v", err)
	}
	if pesapalView.RedirectURL == "" {
		t.Fatalf("expected redirect url")
	}

	view, err := f.svc.GetCheckout(ctx, "T1")
	if err != nil {
		t.Fatalf("get checkout failed: %v", err)
	}
	if len(view.Payments) != 3 || view.RemainingCents != 0 || view.CanSettle {
		t.Fatalf("expected three lines, nothing remaining and not settleable, got %+v", view)
	}

	if _, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{}); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition while card is pending, got %v", err)
	}

	f.bo.orderStatus = backoffice.OrderStatus{Status: domain.PaymentCompleted, ConfirmationCode: "PP-778", PaymentMethod: "Visa"}
	if _, err := f.svc.VerifyPesapal(ctx, "T1", pesapalView.TrackingID); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	resp, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{CustomerName: "Walk-in"})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if resp.Method != domain.SaleMethodSplit || resp.CashCents != 50000 {
		t.Fatalf("expected split sale with 50000 cash, got %s %d", resp.Method, resp.CashCents)
	}
	if resp.ShiftEntry.CashCents != 50000 || resp.ShiftEntry.SaleNumber != "POS-0001" {
		t.Fatalf("unexpected shift entry %+v", resp.ShiftEntry)
	}

	if len(f.bo.commits) != 1 {
		t.Fatalf("expected one commit, got %d", len(f.bo.commits))
	}
	commit := f.bo.commits[0]
	if commit.CheckoutID != first.CheckoutID || commit.Cashier != "amina" || len(commit.Payments) != 3 {
		t.Fatalf("unexpected commit %+v", commit)
	}

	after, err := f.svc.GetCheckout(ctx, "T1")
	if err != nil {
		t.Fatalf("get checkout failed: %v", err)
	}
	if len(after.Lines) != 0 || len(after.Payments) != 0 {
		t.Fatalf("expected checkout reset, got %+v", after)
	}
	if after.CheckoutID == first.CheckoutID {
		t.Fatalf("expected a new checkout id")
	}

	shiftResp, err := f.svc.GetShift(ctx, "T1")
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if len(shiftResp.Shift.Entries) != 1 {
		t.Fatalf("expected one shift entry, got %d", len(shiftResp.Shift.Entries))
	}
}

func TestCompleteSaleRequiresOpenShift(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)

	if _, err := f.svc.AddItem(ctx, "T1", domain.CartItemInput{SKU: "SKU-SODA", UnitPriceCents: 10000, Quantity: 1}); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if _, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 11600}); err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}

	_, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{})
	if !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected shift closed precondition, got %v", err)
	}
	if len(f.bo.commits) != 0 {
		t.Fatalf("expected no commit without a shift")
	}

	view, _ := f.svc.GetCheckout(ctx, "T1")
	if len(view.Lines) != 1 || len(view.Payments) != 1 {
		t.Fatalf("expected checkout preserved, got %+v", view)
	}
}

func TestCommitFailureKeepsCheckout(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	before := f.openWithCart(t, ctx)

	if _, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 116000}); err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}
	f.bo.commitErr = errors.New("connection reset")

	_, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{})
	if !apperror.IsCode(err, apperror.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	view, _ := f.svc.GetCheckout(ctx, "T1")
	if view.CheckoutID != before.CheckoutID || len(view.Payments) != 1 || !view.CanSettle {
		t.Fatalf("expected checkout untouched, got %+v", view)
	}
	shiftResp, _ := f.svc.GetShift(ctx, "T1")
	if len(shiftResp.Shift.Entries) != 0 {
		t.Fatalf("expected no shift entry after failed commit")
	}

	f.bo.commitErr = nil
	if _, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.bo.commits[0].CheckoutID != before.CheckoutID {
		t.Fatalf("expected retry to reuse the checkout id")
	}
}

func TestClosingDialogDiscardsLatePoll(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	f.openWithCart(t, ctx)

	if _, err := f.svc.StartMpesa(ctx, "T1", domain.MpesaStartRequest{Phone: "0712345678", AmountCents: 116000}); err != nil {
		t.Fatalf("start mpesa failed: %v", err)
	}
	if _, err := f.svc.ClosePaymentDialog(ctx, "T1"); err != nil {
		t.Fatalf("close dialog failed: %v", err)
	}

	f.bo.mu.Lock()
	f.bo.stkStatus = backoffice.STKStatus{Outcome: backoffice.STKSucceeded, ResultCode: "0"}
	f.bo.mu.Unlock()
	f.scheduler.fire()

	view, _ := f.svc.GetCheckout(ctx, "T1")
	if len(view.Payments) != 0 {
		t.Fatalf("expected late confirmation to be discarded, got %+v", view.Payments)
	}
	if view.Mpesa.State != domain.MpesaIdle {
		t.Fatalf("expected a fresh coordinator, got %s", view.Mpesa.State)
	}
}

func TestResumePesapalAfterRedirect(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	f.openWithCart(t, ctx)

	submitted, err := f.svc.SubmitPesapal(ctx, "T1", domain.PesapalSubmitRequest{AmountCents: 116000})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// The browser left the page; the dialog state is gone.
	if _, err := f.svc.ClosePaymentDialog(ctx, "T1"); err != nil {
		t.Fatalf("close dialog failed: %v", err)
	}

	f.bo.orderStatus = backoffice.OrderStatus{Status: domain.PaymentCompleted, ConfirmationCode: "PP-1"}
	resumed, err := f.svc.ResumePesapal(context.Background(), submitted.TrackingID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.State != domain.PesapalSuccess {
		t.Fatalf("expected success, got %s", resumed.State)
	}

	view, _ := f.svc.GetCheckout(ctx, "T1")
	if len(view.Payments) != 1 || view.Payments[0].Status != domain.PaymentCompleted || !view.CanSettle {
		t.Fatalf("expected completed card line, got %+v", view.Payments)
	}

	// A reload of the return URL finds nothing to resume.
	_, err = f.svc.ResumePesapal(context.Background(), submitted.TrackingID)
	if !IsNotFound(err) {
		t.Fatalf("expected not found on second resume, got %v", err)
	}
}

func TestPayoutAndCloseShift(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	f.openWithCart(t, ctx)

	if _, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 116000}); err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}
	if _, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}

	entry, err := f.svc.RecordPayout(ctx, "T1", domain.PayoutRequest{AmountCents: 20000, Reason: "Cleaning supplies"})
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if entry.CashCents != -20000 || len(f.bo.expenses) != 1 || f.bo.expenses[0].RecordedBy != "amina" {
		t.Fatalf("unexpected payout %+v expenses=%+v", entry, f.bo.expenses)
	}

	closed, err := f.svc.CloseShift(ctx, "T1", domain.ShiftCloseRequest{ActualCashCents: 595000})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Report.ExpectedCashCents != 596000 || closed.Report.DifferenceCents != -1000 {
		t.Fatalf("unexpected report %+v", closed.Report)
	}

	if _, err := f.svc.GetShift(ctx, "T1"); !IsNotFound(err) {
		t.Fatalf("expected no open shift, got %v", err)
	}
	byID, err := f.svc.GetShiftByID(ctx, closed.Shift.ID)
	if err != nil {
		t.Fatalf("get shift by id failed: %v", err)
	}
	if byID.Shift.Closing == nil || byID.Shift.Closing.DifferenceCents != -1000 {
		t.Fatalf("expected stored closing report, got %+v", byID.Shift.Closing)
	}
}

func TestInvalidTerminalID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetCheckout(context.Background(), "../etc"); !apperror.IsCode(err, apperror.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCartIsLockedOncePaymentsAreRecorded(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	first := f.openWithCart(t, ctx)
	lineID := first.Lines[0].ID

	paid, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 116000})
	if err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}

	one := 1
	if _, err := f.svc.UpdateLine(ctx, "T1", lineID, domain.CartLineUpdate{Quantity: &one}); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition on quantity change, got %v", err)
	}
	if _, err := f.svc.RemoveLine(ctx, "T1", lineID); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition on line removal, got %v", err)
	}
	if _, err := f.svc.AddItem(ctx, "T1", domain.CartItemInput{SKU: "SKU-SODA", UnitPriceCents: 10000, Quantity: 1}); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition on add, got %v", err)
	}
	if _, err := f.svc.SetDiscount(ctx, "T1", domain.Discount{Type: domain.DiscountPercentage, Percent: 50}); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition on discount, got %v", err)
	}

	view, _ := f.svc.GetCheckout(ctx, "T1")
	if view.Totals.TotalCents != 116000 {
		t.Fatalf("expected total unchanged, got %d", view.Totals.TotalCents)
	}

	if _, err := f.svc.RemovePayment(ctx, "T1", paid.Payments[0].ID); err != nil {
		t.Fatalf("remove payment failed: %v", err)
	}
	view, err = f.svc.UpdateLine(ctx, "T1", lineID, domain.CartLineUpdate{Quantity: &one})
	if err != nil {
		t.Fatalf("update after removing payment failed: %v", err)
	}
	if view.Totals.TotalCents != 58000 {
		t.Fatalf("expected total 58000, got %d", view.Totals.TotalCents)
	}
	if _, err := f.svc.AddPayment(ctx, "T1", domain.AddPaymentRequest{Method: domain.PaymentCash, AmountCents: 58000}); err != nil {
		t.Fatalf("cash payment failed: %v", err)
	}

	resp, err := f.svc.CompleteSale(ctx, "T1", domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete sale failed: %v", err)
	}
	if resp.ShiftEntry.CashCents != 58000 {
		t.Fatalf("expected drawer cash 58000, got %d", resp.ShiftEntry.CashCents)
	}
}

func TestCartIsLockedDuringMpesaPrompt(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	first := f.openWithCart(t, ctx)

	if _, err := f.svc.StartMpesa(ctx, "T1", domain.MpesaStartRequest{Phone: "0712345678", AmountCents: 116000}); err != nil {
		t.Fatalf("start mpesa failed: %v", err)
	}
	if _, err := f.svc.RemoveLine(ctx, "T1", first.Lines[0].ID); !apperror.IsCode(err, apperror.CodePrecondition) {
		t.Fatalf("expected precondition while the prompt is live, got %v", err)
	}

	if _, err := f.svc.ClosePaymentDialog(ctx, "T1"); err != nil {
		t.Fatalf("close dialog failed: %v", err)
	}
	if _, err := f.svc.RemoveLine(ctx, "T1", first.Lines[0].ID); err != nil {
		t.Fatalf("remove line after closing the dialog failed: %v", err)
	}
}

func TestVerifyPesapalLeavesOtherTerminalsOrderAlone(t *testing.T) {
	ctx := cashierContext()
	f := newFixture(t)
	f.openWithCart(t, ctx)

	submitted, err := f.svc.SubmitPesapal(ctx, "T1", domain.PesapalSubmitRequest{AmountCents: 116000})
	if err != nil {
		t.Fatalf("submit pesapal failed: %v", err)
	}

	f.bo.mu.Lock()
	f.bo.orderStatus = backoffice.OrderStatus{Status: domain.PaymentCompleted, ConfirmationCode: "PP-1"}
	f.bo.mu.Unlock()

	_, err = f.svc.VerifyPesapal(ctx, "T2", submitted.TrackingID)
	if !apperror.IsCode(err, apperror.CodeNotFound) {
		t.Fatalf("expected not found for another terminal's order, got %v", err)
	}
	other, _ := f.svc.GetCheckout(ctx, "T2")
	if other.Pesapal.State != domain.PesapalIdle {
		t.Fatalf("expected T2 coordinator untouched, got %s", other.Pesapal.State)
	}
	if _, found, _ := f.orders.GetPendingOrder(ctx, submitted.TrackingID); !found {
		t.Fatalf("expected T1's pending order to survive")
	}

	resumed, err := f.svc.ResumePesapal(ctx, submitted.TrackingID)
	if err != nil {
		t.Fatalf("resume on T1 failed: %v", err)
	}
	if resumed.State != domain.PesapalSuccess {
		t.Fatalf("expected T1 success, got %s", resumed.State)
	}
}
