package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/cart"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/gateway/mpesa"
	"dukapos/backend/internal/gateway/pesapal"
	"dukapos/backend/internal/ledger"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/shift"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Backoffice is everything the terminal asks of the back-office API.
type Backoffice interface {
	mpesa.Gateway
	pesapal.Gateway
	shift.ExpenseMirror
	CommitSale(ctx context.Context, sale domain.SaleCommit) (domain.SaleReceipt, error)
}

var _ Backoffice = (*backoffice.Client)(nil)

type Options struct {
	StoreID            string
	TaxRatePercent     decimal.Decimal
	MpesaPollInterval  time.Duration
	MpesaMaxAttempts   int
	MpesaScheduler     mpesa.Scheduler
	PesapalCallbackURL string
	PendingOrderTTL    time.Duration
	Logger             *logger.Logger
	Metrics            *metrics.POSMetrics
	Now                func() time.Time
}

type Service struct {
	repo       store.ShiftRepository
	backoffice Backoffice
	orders     cache.PendingOrderCache
	opts       Options
	log        *logger.Logger

	mu        sync.Mutex
	terminals map[string]*terminal
}

func New(repo store.ShiftRepository, bo Backoffice, orders cache.PendingOrderCache, opts Options) *Service {
	if opts.StoreID == "" {
		opts.StoreID = "main-store"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if orders == nil {
		orders = cache.NewMemoryPendingOrders()
	}

	return &Service{
		repo:       repo,
		backoffice: bo,
		orders:     orders,
		opts:       opts,
		log:        opts.Logger,
		terminals:  make(map[string]*terminal),
	}
}

// terminal is the checkout and drawer state of one till. mu serializes every
// cart, ledger and shift mutation. Coordinators are called without mu held;
// they reach back into the ledger through adapters that take it.
type terminal struct {
	id string

	mu         sync.Mutex
	loaded     bool
	cart       *cart.Cart
	ledger     *ledger.Ledger
	shift      *shift.Session
	mpesa      *mpesa.Coordinator
	pesapal    *pesapal.Coordinator
	gen        uint64
	checkoutID string
}

var terminalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateTerminalID(terminalID string) error {
	if !terminalIDPattern.MatchString(terminalID) {
		return apperror.Validation("invalid terminal id")
	}
	return nil
}

// terminal returns the locked state of terminalID, restoring its open shift
// on first use. The caller must unlock t.mu.
func (s *Service) terminal(ctx context.Context, terminalID string) (*terminal, error) {
	terminalID = strings.TrimSpace(terminalID)
	if err := ValidateTerminalID(terminalID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	t, ok := s.terminals[terminalID]
	if !ok {
		t = &terminal{
			id:     terminalID,
			cart:   cart.New(s.opts.TaxRatePercent),
			ledger: ledger.New(),
			shift: shift.NewSession(s.repo, s.opts.StoreID, terminalID,
				shift.WithLogger(s.log),
				shift.WithMetrics(s.opts.Metrics),
				shift.WithClock(s.opts.Now),
			),
		}
		s.terminals[terminalID] = t
	}
	s.mu.Unlock()

	t.mu.Lock()
	if !t.loaded {
		if err := t.shift.Load(ctx); err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.loaded = true
		t.checkoutID = xid.New("chk")
		s.newCoordinatorsLocked(t)
	}
	return t, nil
}

func (s *Service) logContext(ctx context.Context, t *terminal) context.Context {
	ctx = s.log.WithTerminalID(ctx, t.id)
	return s.log.WithField(ctx, "checkout_id", t.checkoutID)
}

// newCoordinatorsLocked tears down both payment coordinators and starts a new
// generation. Anything still in flight from the old ones is discarded.
func (s *Service) newCoordinatorsLocked(t *terminal) {
	if t.mpesa != nil {
		t.mpesa.Abandon()
	}
	if t.pesapal != nil {
		t.pesapal.Abandon()
	}
	t.gen++
	gen := t.gen
	logCtx := s.logContext(context.Background(), t)

	t.mpesa = mpesa.NewCoordinator(s.backoffice, mpesa.Options{
		Interval:         s.opts.MpesaPollInterval,
		MaxAttempts:      s.opts.MpesaMaxAttempts,
		Scheduler:        s.opts.MpesaScheduler,
		Confirm:          s.confirmMpesa(t, gen),
		AccountReference: t.checkoutID,
		Logger:           s.log,
		Metrics:          s.opts.Metrics,
		LogContext:       logCtx,
	})
	t.pesapal = pesapal.NewCoordinator(s.backoffice, &pesapalLedger{t: t, gen: gen}, s.orders, pesapal.Options{
		TerminalID:  t.id,
		CheckoutID:  t.checkoutID,
		CallbackURL: s.opts.PesapalCallbackURL,
		TTL:         s.opts.PendingOrderTTL,
		Logger:      s.log,
		Metrics:     s.opts.Metrics,
		LogContext:  logCtx,
		Now:         s.opts.Now,
	})
}

// resetCheckoutLocked discards the cart and ledger and starts a new checkout.
func (s *Service) resetCheckoutLocked(t *terminal) {
	t.cart.Clear()
	t.ledger.Clear()
	t.checkoutID = xid.New("chk")
	s.newCoordinatorsLocked(t)
}

func (s *Service) confirmMpesa(t *terminal, gen uint64) mpesa.ConfirmFunc {
	return func(payment domain.PendingPayment) (domain.PendingPayment, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen {
			return domain.PendingPayment{}, apperror.Precondition("payment dialog was closed")
		}
		return t.ledger.AddGatewayPayment(t.cart.Totals().TotalCents, payment)
	}
}

// pesapalLedger gives the Pesapal coordinator access to one generation of the
// terminal's ledger.
type pesapalLedger struct {
	t   *terminal
	gen uint64
}

func (l *pesapalLedger) AddPending(payment domain.PendingPayment) (domain.PendingPayment, error) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.t.gen != l.gen {
		return domain.PendingPayment{}, apperror.Precondition("payment dialog was closed")
	}
	return l.t.ledger.AddGatewayPayment(l.t.cart.Totals().TotalCents, payment)
}

func (l *pesapalLedger) MarkByReference(trackingID string, status domain.PaymentStatus, confirmationCode string, gatewayMethod string) (domain.PendingPayment, bool) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.t.gen != l.gen {
		return domain.PendingPayment{}, false
	}
	return l.t.ledger.UpdateByReference(domain.GatewayPesapal, trackingID, status, confirmationCode, gatewayMethod)
}

func (l *pesapalLedger) HasReference(trackingID string) bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.t.gen != l.gen {
		return false
	}
	_, ok := l.t.ledger.FindByReference(domain.GatewayPesapal, trackingID)
	return ok
}

func (s *Service) viewLocked(t *terminal) domain.CheckoutView {
	totals := t.cart.Totals()
	_, shiftOpen := t.shift.Current()
	return domain.CheckoutView{
		TerminalID:     t.id,
		CheckoutID:     t.checkoutID,
		Lines:          t.cart.Lines(),
		Discount:       t.cart.Discount(),
		Totals:         totals,
		Payments:       t.ledger.Payments(),
		PaidCents:      t.ledger.PaidCents(),
		RemainingCents: t.ledger.RemainingCents(totals.TotalCents),
		CanSettle:      !t.cart.Empty() && t.ledger.CanSettle(totals.TotalCents),
		ShiftOpen:      shiftOpen,
		Mpesa:          t.mpesa.View(),
		Pesapal:        t.pesapal.View(),
	}
}

func (s *Service) GetCheckout(ctx context.Context, terminalID string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()
	return s.viewLocked(t), nil
}

// Cancel discards the whole checkout. Payments already taken are not
// reversed at any gateway.
func (s *Service) Cancel(ctx context.Context, terminalID string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if t.ledger.Len() > 0 {
		s.log.Warn(s.logContext(ctx, t), "checkout cancelled with payments recorded")
	}
	s.resetCheckoutLocked(t)
	return s.viewLocked(t), nil
}

// requireCartEditableLocked refuses to change the total once payments have
// been taken against it.
func requireCartEditableLocked(t *terminal) error {
	if t.ledger.Len() > 0 {
		return apperror.Precondition("remove the recorded payments or close the payment dialog before changing the cart")
	}
	switch t.mpesa.View().State {
	case domain.MpesaPrompting, domain.MpesaPending:
		return apperror.Precondition("an M-PESA prompt is in progress")
	}
	return nil
}

func (s *Service) AddItem(ctx context.Context, terminalID string, input domain.CartItemInput) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if err := requireCartEditableLocked(t); err != nil {
		return domain.CheckoutView{}, err
	}
	if _, err := t.cart.AddItem(input); err != nil {
		return domain.CheckoutView{}, err
	}
	return s.viewLocked(t), nil
}

func (s *Service) UpdateLine(ctx context.Context, terminalID string, lineID string, update domain.CartLineUpdate) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if err := requireCartEditableLocked(t); err != nil {
		return domain.CheckoutView{}, err
	}
	if err := t.cart.Update(lineID, update); err != nil {
		return domain.CheckoutView{}, err
	}
	return s.viewLocked(t), nil
}

func (s *Service) RemoveLine(ctx context.Context, terminalID string, lineID string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if err := requireCartEditableLocked(t); err != nil {
		return domain.CheckoutView{}, err
	}
	if err := t.cart.Remove(lineID); err != nil {
		return domain.CheckoutView{}, err
	}
	return s.viewLocked(t), nil
}

func (s *Service) SetDiscount(ctx context.Context, terminalID string, discount domain.Discount) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if err := requireCartEditableLocked(t); err != nil {
		return domain.CheckoutView{}, err
	}
	if err := t.cart.SetDiscount(discount); err != nil {
		return domain.CheckoutView{}, err
	}
	return s.viewLocked(t), nil
}

func (s *Service) AddPayment(ctx context.Context, terminalID string, req domain.AddPaymentRequest) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if t.cart.Empty() {
		return domain.CheckoutView{}, apperror.Precondition("cart is empty")
	}
	payment, err := t.ledger.Add(t.cart.Totals().TotalCents, req.Method, req.AmountCents, req.Reference)
	if err != nil {
		return domain.CheckoutView{}, err
	}

	logCtx := s.log.WithFields(s.logContext(ctx, t), map[string]any{
		"payment_id": payment.ID,
		"method":     string(payment.Method),
		"status":     string(payment.Status),
	})
	s.log.Info(logCtx, "payment recorded")
	return s.viewLocked(t), nil
}

func (s *Service) ConfirmReference(ctx context.Context, terminalID string, paymentID string, reference string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if _, err := t.ledger.ConfirmReference(paymentID, reference); err != nil {
		return domain.CheckoutView{}, err
	}
	return s.viewLocked(t), nil
}

// RemovePayment drops a line from the ledger. Nothing is refunded at the
// gateway; that is the cashier's job out of band.
func (s *Service) RemovePayment(ctx context.Context, terminalID string, paymentID string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	if err := t.ledger.Remove(paymentID); err != nil {
		return domain.CheckoutView{}, err
	}
	s.log.Info(s.log.WithField(s.logContext(ctx, t), "payment_id", paymentID), "payment removed")
	return s.viewLocked(t), nil
}

// ClosePaymentDialog clears the ledger and discards whatever the gateways are
// still doing for it. The cart is kept.
func (s *Service) ClosePaymentDialog(ctx context.Context, terminalID string) (domain.CheckoutView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CheckoutView{}, err
	}
	defer t.mu.Unlock()

	t.ledger.Clear()
	s.newCoordinatorsLocked(t)
	return s.viewLocked(t), nil
}

func (s *Service) StartMpesa(ctx context.Context, terminalID string, req domain.MpesaStartRequest) (domain.MpesaView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.MpesaView{}, err
	}
	if t.cart.Empty() {
		t.mu.Unlock()
		return domain.MpesaView{}, apperror.Precondition("cart is empty")
	}
	remaining := t.ledger.RemainingCents(t.cart.Totals().TotalCents)
	coordinator := t.mpesa
	logCtx := s.logContext(ctx, t)
	t.mu.Unlock()

	return coordinator.Start(logCtx, req.Phone, req.AmountCents, remaining)
}

func (s *Service) MpesaStatus(ctx context.Context, terminalID string) (domain.MpesaView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.MpesaView{}, err
	}
	coordinator := t.mpesa
	t.mu.Unlock()
	return coordinator.View(), nil
}

func (s *Service) SubmitPesapal(ctx context.Context, terminalID string, req domain.PesapalSubmitRequest) (domain.PesapalView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.PesapalView{}, err
	}
	if t.cart.Empty() {
		t.mu.Unlock()
		return domain.PesapalView{}, apperror.Precondition("cart is empty")
	}
	remaining := t.ledger.RemainingCents(t.cart.Totals().TotalCents)
	coordinator := t.pesapal
	logCtx := s.logContext(ctx, t)
	t.mu.Unlock()

	return coordinator.Submit(logCtx, req, remaining)
}

func (s *Service) VerifyPesapal(ctx context.Context, terminalID string, trackingID string) (domain.PesapalView, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.PesapalView{}, err
	}
	coordinator := t.pesapal
	logCtx := s.logContext(ctx, t)
	t.mu.Unlock()

	return coordinator.Verify(logCtx, trackingID)
}

// ResumePesapal finishes a redirect round-trip. The persisted order names the
// terminal it was created on.
func (s *Service) ResumePesapal(ctx context.Context, trackingID string) (domain.PesapalView, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return domain.PesapalView{}, apperror.Validation("order tracking id is required")
	}
	order, found, err := s.orders.GetPendingOrder(ctx, trackingID)
	if err != nil {
		return domain.PesapalView{}, apperror.Wrap(apperror.CodeInternal, err, "load pending order")
	}
	if !found {
		return domain.PesapalView{}, apperror.Newf(apperror.CodeNotFound, "no pending Pesapal order %s", trackingID)
	}

	t, err := s.terminal(ctx, order.TerminalID)
	if err != nil {
		return domain.PesapalView{}, err
	}
	coordinator := t.pesapal
	logCtx := s.logContext(ctx, t)
	t.mu.Unlock()

	return coordinator.Resume(logCtx, trackingID)
}

// CompleteSale commits the settled checkout to the back-office and records it
// on the open shift. The commit runs under the terminal lock so the ledger
// cannot change underneath it. A failed commit leaves the checkout as it was.
func (s *Service) CompleteSale(ctx context.Context, terminalID string, req domain.CompleteSaleRequest) (domain.CompleteSaleResponse, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.CompleteSaleResponse{}, err
	}
	defer t.mu.Unlock()

	current, err := t.shift.RequireOpen()
	if err != nil {
		return domain.CompleteSaleResponse{}, err
	}
	if t.cart.Empty() {
		return domain.CompleteSaleResponse{}, apperror.Precondition("cart is empty")
	}
	totals := t.cart.Totals()
	if !t.ledger.CanSettle(totals.TotalCents) {
		if t.ledger.HasPending() {
			return domain.CompleteSaleResponse{}, apperror.Precondition("some payments are still awaiting confirmation")
		}
		return domain.CompleteSaleResponse{}, apperror.Newf(apperror.CodePrecondition, "payments do not cover the total, %d remaining", t.ledger.RemainingCents(totals.TotalCents))
	}

	if paid := t.ledger.PaidCents(); paid > totals.TotalCents {
		return domain.CompleteSaleResponse{}, apperror.Newf(apperror.CodePrecondition, "payments of %d exceed the total of %d", paid, totals.TotalCents)
	}

	method, cashCents := t.ledger.Breakdown()
	if method == "" {
		method = string(domain.PaymentCash)
	}
	cashier := current.CashierName
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		cashier = actor.Username
	}

	logCtx := s.logContext(ctx, t)
	receipt, err := s.backoffice.CommitSale(ctx, domain.SaleCommit{
		CheckoutID:   t.checkoutID,
		StoreID:      s.opts.StoreID,
		TerminalID:   t.id,
		ShiftID:      current.ID,
		Cashier:      cashier,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Lines:        t.cart.Lines(),
		Discount:     t.cart.Discount(),
		Totals:       totals,
		Payments:     t.ledger.Payments(),
		Method:       method,
		CashCents:    cashCents,
	})
	if err != nil {
		s.opts.Metrics.SaleCommitFailed()
		s.log.Error(logCtx, "sale commit failed", err)
		if apperror.As(err) == nil {
			err = apperror.Gateway(err, "could not save the sale")
		}
		return domain.CompleteSaleResponse{}, err
	}

	logCtx = s.log.WithFields(logCtx, map[string]any{
		"sale_id":     receipt.SaleID,
		"sale_number": receipt.SaleNumber,
		"method":      method,
	})
	entry, err := t.shift.RecordSale(ctx, receipt, method, cashCents)
	if err != nil {
		// The sale exists at the back-office; the drawer entry stays in
		// memory and is saved with the next shift write.
		s.log.Error(logCtx, "sale recorded but shift entry not saved", err)
	}
	s.opts.Metrics.SaleCommitted(method)
	s.log.Info(logCtx, "sale committed")

	s.resetCheckoutLocked(t)
	return domain.CompleteSaleResponse{
		Receipt:    receipt,
		Method:     method,
		CashCents:  cashCents,
		ShiftEntry: entry,
	}, nil
}

func (s *Service) OpenShift(ctx context.Context, terminalID string, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	defer t.mu.Unlock()

	cashier := strings.TrimSpace(req.CashierName)
	if cashier == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			cashier = actor.Username
		}
	}
	opened, err := t.shift.Open(s.log.WithTerminalID(ctx, t.id), cashier, req.OpeningFloatCents)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: opened}, nil
}

func (s *Service) GetShift(ctx context.Context, terminalID string) (domain.ShiftResponse, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	defer t.mu.Unlock()

	current, ok := t.shift.Current()
	if !ok {
		return domain.ShiftResponse{}, store.ErrNotFound
	}
	return domain.ShiftResponse{Shift: current}, nil
}

// GetShiftByID returns any shift, open or closed, so a closing report can be
// printed again.
func (s *Service) GetShiftByID(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.ShiftResponse{}, apperror.Validation("shift id is required")
	}
	found, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *found}, nil
}

// RecordPayout takes cash out of the drawer. The expense mirror call holds the
// terminal lock so the drawer entry lands in the same order it was approved.
func (s *Service) RecordPayout(ctx context.Context, terminalID string, req domain.PayoutRequest) (domain.ShiftEntry, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.ShiftEntry{}, err
	}
	defer t.mu.Unlock()

	recordedBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		recordedBy = actor.Username
	}
	return t.shift.RecordPayout(s.log.WithTerminalID(ctx, t.id), req.AmountCents, req.Reason, recordedBy, s.backoffice)
}

func (s *Service) CloseShift(ctx context.Context, terminalID string, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	t, err := s.terminal(ctx, terminalID)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	defer t.mu.Unlock()

	closedBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		closedBy = actor.Username
	}
	closed, report, err := t.shift.Close(s.log.WithTerminalID(ctx, t.id), req.ActualCashCents, req.Notes, closedBy)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	return domain.ShiftCloseResponse{Shift: closed, Report: report}, nil
}

// Shutdown stops every M-PESA poll loop. Pending Pesapal orders stay in the
// cache until their TTL.
func (s *Service) Shutdown() {
	s.mu.Lock()
	terminals := make([]*terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		terminals = append(terminals, t)
	}
	s.mu.Unlock()

	for _, t := range terminals {
		t.mu.Lock()
		if t.mpesa != nil {
			t.mpesa.Abandon()
		}
		if t.pesapal != nil {
			t.pesapal.Abandon()
		}
		t.mu.Unlock()
	}
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || apperror.IsCode(err, apperror.CodeNotFound)
}
