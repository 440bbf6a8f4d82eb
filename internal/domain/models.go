package domain

import "time"

type CartLine struct {
	ID             string `json:"id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	Note           string `json:"note,omitempty"`
}

type CartItemInput struct {
	SKU            string `json:"sku" validate:"required,max=64"`
	Name           string `json:"name" validate:"max=200"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Quantity       int    `json:"quantity" validate:"gte=0"`
	Note           string `json:"note,omitempty" validate:"max=500"`
}

// CartLineUpdate carries a partial line edit. A quantity at or below zero
// removes the line.
type CartLineUpdate struct {
	Quantity *int    `json:"quantity,omitempty"`
	Note     *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Discount struct {
	Type        DiscountType `json:"type" validate:"omitempty,oneof=none percentage fixed"`
	Percent     float64      `json:"percent,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentMpesa PaymentMethod = "mpesa"
	PaymentBank  PaymentMethod = "bank"
)

// SaleMethodSplit labels a sale settled by more than one method.
const SaleMethodSplit = "split"

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMpesa, PaymentBank:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

const (
	GatewayMpesa   = "mpesa"
	GatewayPesapal = "pesapal"
)

// PendingPayment is one line of the split-payment ledger.
type PendingPayment struct {
	ID               string        `json:"id"`
	Method           PaymentMethod `json:"method"`
	AmountCents      int64         `json:"amount_cents"`
	Status           PaymentStatus `json:"status"`
	Reference        string        `json:"reference,omitempty"`
	Gateway          string        `json:"gateway,omitempty"`
	Phone            string        `json:"phone,omitempty"`
	ConfirmationCode string        `json:"confirmation_code,omitempty"`
	GatewayMethod    string        `json:"gateway_method,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

type AddPaymentRequest struct {
	Method      PaymentMethod `json:"method" validate:"required"`
	AmountCents int64         `json:"amount_cents"`
	Reference   string        `json:"reference,omitempty" validate:"max=128"`
}

type ConfirmReferenceRequest struct {
	Reference string `json:"reference" validate:"required,max=128"`
}

type MpesaState string

const (
	MpesaIdle      MpesaState = "idle"
	MpesaPrompting MpesaState = "prompting"
	MpesaPending   MpesaState = "pending"
	MpesaSuccess   MpesaState = "success"
	MpesaFailed    MpesaState = "failed"
	MpesaTimeout   MpesaState = "timeout"
)

type MpesaStartRequest struct {
	Phone       string `json:"phone" validate:"required"`
	AmountCents int64  `json:"amount_cents"`
}

type MpesaView struct {
	State             MpesaState `json:"state"`
	Phone             string     `json:"phone,omitempty"`
	AmountCents       int64      `json:"amount_cents,omitempty"`
	CheckoutRequestID string     `json:"checkout_request_id,omitempty"`
	Attempts          int        `json:"attempts"`
	PaymentID         string     `json:"payment_id,omitempty"`
	Message           string     `json:"message,omitempty"`
}

type PesapalState string

const (
	PesapalIdle      PesapalState = "idle"
	PesapalPending   PesapalState = "pending"
	PesapalVerifying PesapalState = "verifying"
	PesapalSuccess   PesapalState = "success"
	PesapalFailed    PesapalState = "failed"
)

type PesapalSubmitRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty" validate:"max=200"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

type PesapalVerifyRequest struct {
	TrackingID string `json:"tracking_id"`
}

type PesapalView struct {
	State       PesapalState `json:"state"`
	TrackingID  string       `json:"tracking_id,omitempty"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	AmountCents int64        `json:"amount_cents,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// PendingOrder is the persisted half of a Pesapal redirect round-trip.
type PendingOrder struct {
	TrackingID  string    `json:"tracking_id"`
	TerminalID  string    `json:"terminal_id"`
	CheckoutID  string    `json:"checkout_id"`
	PaymentID   string    `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

type CheckoutView struct {
	TerminalID     string           `json:"terminal_id"`
	CheckoutID     string           `json:"checkout_id"`
	Lines          []CartLine       `json:"lines"`
	Discount       Discount         `json:"discount"`
	Totals         Totals           `json:"totals"`
	Payments       []PendingPayment `json:"payments"`
	PaidCents      int64            `json:"paid_cents"`
	RemainingCents int64            `json:"remaining_cents"`
	CanSettle      bool             `json:"can_settle"`
	ShiftOpen      bool             `json:"shift_open"`
	Mpesa          MpesaView        `json:"mpesa"`
	Pesapal        PesapalView      `json:"pesapal"`
}

// SaleReceipt is the back-office's authoritative record of a committed sale.
type SaleReceipt struct {
	SaleID     string `json:"sale_id"`
	SaleNumber string `json:"sale_number"`
	TotalCents int64  `json:"total_cents"`
	WooOrderID string `json:"woo_order_id,omitempty"`
}

type CompleteSaleRequest struct {
	CustomerName string `json:"customer_name,omitempty" validate:"max=200"`
}

type CompleteSaleResponse struct {
	Receipt    SaleReceipt `json:"receipt"`
	Method     string      `json:"method"`
	CashCents  int64       `json:"cash_cents"`
	ShiftEntry ShiftEntry  `json:"shift_entry"`
}

// SaleCommit is what the terminal sends to the back-office once the ledger
// settles.
type SaleCommit struct {
	CheckoutID   string
	StoreID      string
	TerminalID   string
	ShiftID      string
	Cashier      string
	CustomerName string
	Lines        []CartLine
	Discount     Discount
	Totals       Totals
	Payments     []PendingPayment
	Method       string
	CashCents    int64
}

type ShiftEntryType string

const (
	ShiftEntrySale   ShiftEntryType = "sale"
	ShiftEntryPayout ShiftEntryType = "payout"
)

// ShiftEntry is append-only. Payouts carry a negative CashCents.
type ShiftEntry struct {
	ID         string         `json:"id"`
	Type       ShiftEntryType `json:"type"`
	SaleID     string         `json:"sale_id,omitempty"`
	SaleNumber string         `json:"sale_number,omitempty"`
	TotalCents int64          `json:"total_cents"`
	Method     string         `json:"method"`
	CashCents  int64          `json:"cash_cents"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type ShiftClosingReport struct {
	OpeningFloatCents int64     `json:"opening_float_cents"`
	CashSalesCents    int64     `json:"cash_sales_cents"`
	TotalPayoutsCents int64     `json:"total_payouts_cents"`
	ExpectedCashCents int64     `json:"expected_cash_cents"`
	ActualCashCents   int64     `json:"actual_cash_cents"`
	DifferenceCents   int64     `json:"difference_cents"`
	SaleCount         int       `json:"sale_count"`
	PayoutCount       int       `json:"payout_count"`
	Notes             string    `json:"notes,omitempty"`
	ClosedBy          string    `json:"closed_by,omitempty"`
	ClosedAt          time.Time `json:"closed_at"`
}

type Shift struct {
	ID                string              `json:"id"`
	StoreID           string              `json:"store_id"`
	TerminalID        string              `json:"terminal_id"`
	CashierName       string              `json:"cashier_name"`
	OpeningFloatCents int64               `json:"opening_float_cents"`
	Status            string              `json:"status"`
	OpenedAt          time.Time           `json:"opened_at"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
	Entries           []ShiftEntry        `json:"entries"`
	Closing           *ShiftClosingReport `json:"closing,omitempty"`
}

func (s Shift) IsOpen() bool {
	return s.Status == ShiftStatusOpen
}

type ShiftOpenRequest struct {
	CashierName       string `json:"cashier_name" validate:"max=100"`
	OpeningFloatCents int64  `json:"opening_float_cents"`
}

type PayoutRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason" validate:"max=200"`
	ManagerPIN  string `json:"manager_pin" validate:"required"`
}

type ShiftCloseRequest struct {
	ActualCashCents int64  `json:"actual_cash_cents"`
	Notes           string `json:"notes" validate:"max=1000"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftCloseResponse struct {
	Shift  Shift              `json:"shift"`
	Report ShiftClosingReport `json:"report"`
}

// Expense mirrors a drawer payout into the back-office expense ledger.
type Expense struct {
	ShiftID     string
	StoreID     string
	TerminalID  string
	AmountCents int64
	Reason      string
	RecordedBy  string
	At          time.Time
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)
