package pesapal

import (
	"context"
	"strings"
	"sync"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
)

const DefaultPendingOrderTTL = 48 * time.Hour

// Gateway is the subset of the back-office client used for hosted checkout.
type Gateway interface {
	SubmitOrder(ctx context.Context, req backoffice.OrderRequest) (backoffice.OrderResult, error)
	OrderStatus(ctx context.Context, trackingID string) (backoffice.OrderStatus, error)
}

// Ledger is the view of the checkout ledger the coordinator may touch. The
// implementation serializes with the rest of the terminal.
type Ledger interface {
	AddPending(payment domain.PendingPayment) (domain.PendingPayment, error)
	MarkByReference(trackingID string, status domain.PaymentStatus, confirmationCode string, gatewayMethod string) (domain.PendingPayment, bool)
	HasReference(trackingID string) bool
}

// OrderStore persists pending orders across the redirect round-trip.
type OrderStore interface {
	SavePendingOrder(ctx context.Context, order domain.PendingOrder, ttl time.Duration) error
	GetPendingOrder(ctx context.Context, trackingID string) (*domain.PendingOrder, bool, error)
	DeletePendingOrder(ctx context.Context, trackingID string) error
}

type Options struct {
	TerminalID  string
	CheckoutID  string
	CallbackURL string
	TTL         time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.POSMetrics
	LogContext  context.Context
	Now         func() time.Time
}

// Coordinator bridges a Pesapal hosted checkout into the ledger:
// idle → pending → verifying → success|failed|pending. Verification is
// manual; there is no poll loop.
type Coordinator struct {
	gateway Gateway
	ledger  Ledger
	orders  OrderStore
	opts    Options

	mu          sync.Mutex
	gen         uint64
	state       domain.PesapalState
	submitting  bool
	trackingID  string
	redirectURL string
	amountCents int64
	message     string
}

func NewCoordinator(gateway Gateway, ledger Ledger, orders OrderStore, opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultPendingOrderTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.LogContext == nil {
		opts.LogContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		gateway: gateway,
		ledger:  ledger,
		orders:  orders,
		opts:    opts,
		state:   domain.PesapalIdle,
	}
}

// Submit creates the hosted order, books a PENDING line for it and persists
// the order so a redirect round-trip can resume it. The returned view carries
// the redirect URL the terminal must open.
func (c *Coordinator) Submit(ctx context.Context, req domain.PesapalSubmitRequest, remainingCents int64) (domain.PesapalView, error) {
	if req.AmountCents <= 0 {
		return c.View(), apperror.Validation("payment amount must be greater than zero")
	}
	if req.AmountCents > remainingCents {
		return c.View(), apperror.Newf(apperror.CodeValidation, "payment amount %d exceeds remaining balance %d", req.AmountCents, remainingCents)
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return c.View(), apperror.Precondition("a Pesapal order is already being created")
	}
	activeTracking := ""
	if c.state == domain.PesapalPending || c.state == domain.PesapalVerifying {
		activeTracking = c.trackingID
	}
	c.mu.Unlock()

	// A pending order still in the ledger must be verified or removed first.
	if activeTracking != "" && c.ledger.HasReference(activeTracking) {
		return c.View(), apperror.Precondition("a Pesapal payment is already pending verification")
	}

	c.mu.Lock()
	gen := c.gen
	c.submitting = true
	c.message = ""
	c.mu.Unlock()

	result, err := c.gateway.SubmitOrder(ctx, backoffice.OrderRequest{
		AmountCents: req.AmountCents,
		Reference:   c.opts.CheckoutID,
		Description: defaultString(strings.TrimSpace(req.Description), "POS sale"),
		Email:       strings.TrimSpace(req.Email),
		Phone:       strings.TrimSpace(req.Phone),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		CallbackURL: c.opts.CallbackURL,
	})

	if stale := c.finishSubmit(gen); stale {
		return c.View(), apperror.Precondition("payment dialog was closed")
	}
	if err != nil {
		c.fail(gen, errorMessage(err, "could not create Pesapal order"))
		c.opts.Metrics.GatewayOutcome(domain.GatewayPesapal, "submit_failed")
		c.opts.Logger.Error(c.opts.LogContext, "pesapal submit order failed", err)
		if apperror.As(err) == nil {
			err = apperror.Gateway(err, "could not create Pesapal order")
		}
		return c.View(), err
	}

	logCtx := c.opts.Logger.WithField(c.opts.LogContext, "order_tracking_id", result.TrackingID)
	booked, err := c.ledger.AddPending(domain.PendingPayment{
		Method:      domain.PaymentCard,
		AmountCents: req.AmountCents,
		Status:      domain.PaymentPending,
		Reference:   result.TrackingID,
		Gateway:     domain.GatewayPesapal,
		Phone:       strings.TrimSpace(req.Phone),
	})
	if err != nil {
		c.fail(gen, errorMessage(err, "could not record Pesapal payment"))
		c.opts.Logger.Error(logCtx, "pesapal payment could not be recorded", err)
		return c.View(), err
	}

	order := domain.PendingOrder{
		TrackingID:  result.TrackingID,
		TerminalID:  c.opts.TerminalID,
		CheckoutID:  c.opts.CheckoutID,
		PaymentID:   booked.ID,
		AmountCents: req.AmountCents,
		RedirectURL: result.RedirectURL,
		CreatedAt:   c.opts.Now(),
	}
	if err := c.orders.SavePendingOrder(ctx, order, c.opts.TTL); err != nil {
		// The order is still verifiable from this session; only the
		// round-trip resume is lost.
		c.opts.Logger.Error(logCtx, "pending pesapal order not persisted", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.state = domain.PesapalPending
		c.trackingID = result.TrackingID
		c.redirectURL = result.RedirectURL
		c.amountCents = req.AmountCents
		c.message = ""
	}
	c.opts.Logger.Info(logCtx, "pesapal order created")
	return c.viewLocked(), nil
}

// Resume restores an order persisted before the redirect and verifies it.
// An order that was already settled and cleared is reported as not found,
// so a reload of the return URL does nothing.
func (c *Coordinator) Resume(ctx context.Context, trackingID string) (domain.PesapalView, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return c.View(), apperror.Validation("order tracking id is required")
	}

	order, found, err := c.orders.GetPendingOrder(ctx, trackingID)
	if err != nil {
		return c.View(), apperror.Wrap(apperror.CodeInternal, err, "load pending order")
	}
	if !found {
		return c.View(), apperror.Newf(apperror.CodeNotFound, "no pending Pesapal order %s", trackingID)
	}
	if order.CheckoutID != c.opts.CheckoutID {
		return c.View(), apperror.Precondition("Pesapal order belongs to a checkout that is no longer open")
	}

	if !c.ledger.HasReference(trackingID) {
		if _, err := c.ledger.AddPending(domain.PendingPayment{
			ID:          order.PaymentID,
			Method:      domain.PaymentCard,
			AmountCents: order.AmountCents,
			Status:      domain.PaymentPending,
			Reference:   order.TrackingID,
			Gateway:     domain.GatewayPesapal,
		}); err != nil {
			return c.View(), err
		}
	}

	c.mu.Lock()
	c.state = domain.PesapalPending
	c.trackingID = order.TrackingID
	c.redirectURL = order.RedirectURL
	c.amountCents = order.AmountCents
	c.mu.Unlock()

	return c.Verify(ctx, trackingID)
}

// Verify queries the order and applies its status to the matching ledger
// line in place. Verifying the same tracking id again never appends.
func (c *Coordinator) Verify(ctx context.Context, trackingID string) (domain.PesapalView, error) {
	c.mu.Lock()
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		trackingID = c.trackingID
	}
	if trackingID == "" {
		c.mu.Unlock()
		return c.View(), apperror.Validation("order tracking id is required")
	}
	gen := c.gen
	c.mu.Unlock()

	logCtx := c.opts.Logger.WithField(c.opts.LogContext, "order_tracking_id", trackingID)
	if err := c.checkOwned(ctx, trackingID); err != nil {
		return c.View(), err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return c.View(), apperror.Precondition("payment dialog was closed")
	}
	c.state = domain.PesapalVerifying
	c.trackingID = trackingID
	c.message = ""
	c.mu.Unlock()

	status, err := c.gateway.OrderStatus(ctx, trackingID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return c.View(), apperror.Precondition("payment dialog was closed")
	}
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		if c.trackingID == trackingID {
			c.mu.Unlock()
			c.fail(gen, errorMessage(err, "could not verify Pesapal payment"))
		} else {
			c.mu.Unlock()
		}
		c.opts.Metrics.GatewayOutcome(domain.GatewayPesapal, "verify_failed")
		c.opts.Logger.Error(logCtx, "pesapal status query failed", err)
		if apperror.As(err) == nil {
			err = apperror.Gateway(err, "could not verify Pesapal payment")
		}
		return c.View(), err
	}

	switch status.Status {
	case domain.PaymentCompleted, domain.PaymentFailed:
		_, matched := c.ledger.MarkByReference(trackingID, status.Status, status.ConfirmationCode, status.PaymentMethod)
		if err := c.orders.DeletePendingOrder(ctx, trackingID); err != nil {
			c.opts.Logger.Error(logCtx, "pending pesapal order not cleared", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return c.viewLocked(), apperror.Precondition("payment dialog was closed")
		}
		if c.trackingID != trackingID {
			// A newer order took over the view while this one was queried.
			return c.viewLocked(), nil
		}
		c.message = status.Description
		if !matched {
			c.message = "payment is no longer part of this checkout"
		}
		if status.Status == domain.PaymentCompleted {
			c.state = domain.PesapalSuccess
			c.opts.Metrics.GatewayOutcome(domain.GatewayPesapal, "success")
			c.opts.Logger.Info(logCtx, "pesapal payment completed")
		} else {
			c.state = domain.PesapalFailed
			c.opts.Metrics.GatewayOutcome(domain.GatewayPesapal, "failed")
			c.opts.Logger.Warn(logCtx, "pesapal payment failed")
		}
		return c.viewLocked(), nil
	default:
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.gen && c.trackingID == trackingID {
			c.state = domain.PesapalPending
			c.message = defaultString(status.Description, "payment not confirmed yet")
		}
		return c.viewLocked(), nil
	}
}

// Abandon drops any in-flight response. The persisted order is left for its
// TTL so a late redirect can still be reported.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.submitting = false
}

func (c *Coordinator) View() domain.PesapalView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) viewLocked() domain.PesapalView {
	return domain.PesapalView{
		State:       c.state,
		TrackingID:  c.trackingID,
		RedirectURL: c.redirectURL,
		AmountCents: c.amountCents,
		Message:     c.message,
	}
}

func (c *Coordinator) finishSubmit(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return true
	}
	c.submitting = false
	return false
}

// checkOwned accepts a tracking id booked in this checkout's ledger or
// persisted by this checkout. Orders of other terminals are never touched.
func (c *Coordinator) checkOwned(ctx context.Context, trackingID string) error {
	if c.ledger.HasReference(trackingID) {
		return nil
	}
	order, found, err := c.orders.GetPendingOrder(ctx, trackingID)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, err, "load pending order")
	}
	if !found || order.CheckoutID != c.opts.CheckoutID || order.TerminalID != c.opts.TerminalID {
		return apperror.Newf(apperror.CodeNotFound, "Pesapal order %s is not part of this checkout", trackingID)
	}
	return nil
}

func (c *Coordinator) fail(gen uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.state = domain.PesapalFailed
	c.message = message
}

func errorMessage(err error, fallback string) string {
	if typed := apperror.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return fallback
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
