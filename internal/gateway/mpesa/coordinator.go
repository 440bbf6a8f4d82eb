package mpesa

import (
	"context"
	"sync"
	"time"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 12
	queryTimeout        = 10 * time.Second
)

// Gateway is the subset of the back-office client used for STK pushes.
type Gateway interface {
	STKPush(ctx context.Context, req backoffice.STKPushRequest) (backoffice.STKPushResult, error)
	STKQuery(ctx context.Context, checkoutRequestID string) (backoffice.STKStatus, error)
}

// ConfirmFunc books a confirmed prompt into the ledger. An error fails the
// prompt instead of completing it.
type ConfirmFunc func(payment domain.PendingPayment) (domain.PendingPayment, error)

type Options struct {
	Interval         time.Duration
	MaxAttempts      int
	Scheduler        Scheduler
	Confirm          ConfirmFunc
	AccountReference string
	Description      string
	Logger           *logger.Logger
	Metrics          *metrics.POSMetrics
	// LogContext carries the terminal fields for log lines written from the
	// poll loop, which has no request context.
	LogContext context.Context
}

// Coordinator drives one payment dialog's STK push through
// idle → prompting → pending → success|failed|timeout. Every async step
// carries the generation captured when it was scheduled and is dropped once
// Abandon or a new Start has moved the generation on.
type Coordinator struct {
	gateway Gateway
	opts    Options

	mu                sync.Mutex
	gen               uint64
	state             domain.MpesaState
	phone             string
	amountCents       int64
	checkoutRequestID string
	attempts          int
	paymentID         string
	message           string
	timer             Timer
	cancel            context.CancelFunc
}

func NewCoordinator(gateway Gateway, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.LogContext == nil {
		opts.LogContext = context.Background()
	}
	if opts.Description == "" {
		opts.Description = "POS sale"
	}
	return &Coordinator{gateway: gateway, opts: opts, state: domain.MpesaIdle}
}

// Start sends a prompt for amountCents to phone. remainingCents is the
// ledger balance still open when the prompt is requested. Only one prompt
// may be in flight per coordinator.
func (c *Coordinator) Start(ctx context.Context, phone string, amountCents int64, remainingCents int64) (domain.MpesaView, error) {
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return c.View(), err
	}
	if amountCents <= 0 {
		return c.View(), apperror.Validation("payment amount must be greater than zero")
	}
	if amountCents%100 != 0 {
		return c.View(), apperror.Validation("M-PESA amounts must be whole shillings")
	}
	if amountCents > remainingCents {
		return c.View(), apperror.Newf(apperror.CodeValidation, "payment amount %d exceeds remaining balance %d", amountCents, remainingCents)
	}

	c.mu.Lock()
	if c.state == domain.MpesaPrompting || c.state == domain.MpesaPending {
		c.mu.Unlock()
		return c.View(), apperror.Precondition("an M-PESA prompt is already in progress")
	}
	c.gen++
	gen := c.gen
	c.state = domain.MpesaPrompting
	c.phone = msisdn
	c.amountCents = amountCents
	c.checkoutRequestID = ""
	c.attempts = 0
	c.paymentID = ""
	c.message = ""
	c.mu.Unlock()

	result, err := c.gateway.STKPush(ctx, backoffice.STKPushRequest{
		Phone:            msisdn,
		AmountCents:      amountCents,
		AccountReference: c.opts.AccountReference,
		Description:      c.opts.Description,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return c.viewLocked(), apperror.Precondition("payment dialog was closed")
	}
	if err != nil {
		c.state = domain.MpesaFailed
		c.message = errorMessage(err, "could not send M-PESA prompt")
		c.opts.Metrics.GatewayOutcome(domain.GatewayMpesa, "push_failed")
		c.opts.Logger.Error(c.opts.LogContext, "mpesa stk push failed", err)
		if apperror.As(err) == nil {
			err = apperror.Gateway(err, c.message)
		}
		return c.viewLocked(), err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = domain.MpesaPending
	c.checkoutRequestID = result.CheckoutRequestID
	c.message = result.CustomerMessage
	c.scheduleLocked(pollCtx, gen)

	logCtx := c.opts.Logger.WithField(c.opts.LogContext, "checkout_request_id", result.CheckoutRequestID)
	c.opts.Logger.Info(logCtx, "mpesa prompt sent")
	return c.viewLocked(), nil
}

// Abandon tears the coordinator down: the pending poll is stopped and any
// response still in flight is discarded.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopLocked()
	if c.state == domain.MpesaPrompting || c.state == domain.MpesaPending {
		c.state = domain.MpesaIdle
		c.message = "prompt abandoned"
	}
}

// Reset returns a finished coordinator to idle so the cashier can retry.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.MpesaPrompting || c.state == domain.MpesaPending {
		return apperror.Precondition("an M-PESA prompt is already in progress")
	}
	c.gen++
	c.state = domain.MpesaIdle
	c.phone = ""
	c.amountCents = 0
	c.checkoutRequestID = ""
	c.attempts = 0
	c.paymentID = ""
	c.message = ""
	return nil
}

func (c *Coordinator) View() domain.MpesaView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) viewLocked() domain.MpesaView {
	return domain.MpesaView{
		State:             c.state,
		Phone:             c.phone,
		AmountCents:       c.amountCents,
		CheckoutRequestID: c.checkoutRequestID,
		Attempts:          c.attempts,
		PaymentID:         c.paymentID,
		Message:           c.message,
	}
}

func (c *Coordinator) scheduleLocked(ctx context.Context, gen uint64) {
	c.timer = c.opts.Scheduler.AfterFunc(c.opts.Interval, func() {
		c.poll(ctx, gen)
	})
}

func (c *Coordinator) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) poll(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != domain.MpesaPending {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	checkoutRequestID := c.checkoutRequestID
	c.mu.Unlock()

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	status, err := c.gateway.STKQuery(queryCtx, checkoutRequestID)
	cancel()

	logCtx := c.opts.Logger.WithFields(c.opts.LogContext, map[string]any{
		"checkout_request_id": checkoutRequestID,
		"attempt":             attempt,
	})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if err == nil && status.Outcome == backoffice.STKFailed {
		c.state = domain.MpesaFailed
		c.message = status.ResultDesc
		if c.message == "" {
			c.message = "M-PESA payment was not completed"
		}
		c.stopLocked()
		c.mu.Unlock()
		c.opts.Metrics.GatewayOutcome(domain.GatewayMpesa, "failed")
		c.opts.Logger.Warn(logCtx, "mpesa prompt failed: "+status.ResultCode)
		return
	}

	if err != nil || status.Outcome != backoffice.STKSucceeded {
		if err != nil {
			c.opts.Logger.Warn(logCtx, "mpesa status query inconclusive: "+err.Error())
		}
		if attempt >= c.opts.MaxAttempts {
			c.state = domain.MpesaTimeout
			c.message = "no confirmation received from M-PESA"
			c.stopLocked()
			c.mu.Unlock()
			c.opts.Metrics.GatewayOutcome(domain.GatewayMpesa, "timeout")
			c.opts.Logger.Warn(logCtx, "mpesa prompt timed out")
			return
		}
		c.scheduleLocked(ctx, gen)
		c.mu.Unlock()
		return
	}

	payment := domain.PendingPayment{
		Method:           domain.PaymentMpesa,
		AmountCents:      c.amountCents,
		Status:           domain.PaymentCompleted,
		Reference:        checkoutRequestID,
		Gateway:          domain.GatewayMpesa,
		Phone:            c.phone,
		ConfirmationCode: status.Receipt,
	}
	c.mu.Unlock()

	// Confirm takes the terminal lock, so it must run without c.mu held.
	var booked domain.PendingPayment
	var confirmErr error
	if c.opts.Confirm != nil {
		booked, confirmErr = c.opts.Confirm(payment)
	} else {
		booked = payment
	}

	if confirmErr != nil {
		// The customer has paid; the payment needs reversing from the
		// back-office.
		c.opts.Metrics.GatewayOutcome(domain.GatewayMpesa, "paid_unrecorded")
		c.opts.Logger.Error(c.opts.Logger.WithFields(logCtx, map[string]any{
			"mpesa_receipt": payment.ConfirmationCode,
			"amount_cents":  payment.AmountCents,
			"phone":         payment.Phone,
		}), "mpesa payment taken but not recorded", confirmErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.stopLocked()
	if confirmErr != nil {
		c.state = domain.MpesaFailed
		c.message = unrecordedMessage(payment.ConfirmationCode, confirmErr)
		return
	}
	c.state = domain.MpesaSuccess
	c.paymentID = booked.ID
	c.message = status.ResultDesc
	c.opts.Metrics.GatewayOutcome(domain.GatewayMpesa, "success")
	c.opts.Logger.Info(logCtx, "mpesa payment confirmed")
}

func unrecordedMessage(receipt string, err error) string {
	reason := errorMessage(err, "payment could not be recorded")
	if receipt == "" {
		return "M-PESA payment received but not recorded (" + reason + "); reverse it from the back-office"
	}
	return "M-PESA payment " + receipt + " received but not recorded (" + reason + "); reverse it from the back-office"
}

func errorMessage(err error, fallback string) string {
	if typed := apperror.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return fallback
}
