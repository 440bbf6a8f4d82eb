package backoffice

import (
	"context"
	"fmt"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

type saleItemPayload struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice amount `json:"unitPrice"`
	Note      string `json:"note,omitempty"`
}

type salePaymentPayload struct {
	Method           string `json:"method"`
	Amount           amount `json:"amount"`
	Status           string `json:"status"`
	Reference        string `json:"reference,omitempty"`
	Gateway          string `json:"gateway,omitempty"`
	Phone            string `json:"phone,omitempty"`
	ConfirmationCode string `json:"confirmationCode,omitempty"`
}

type salePayload struct {
	CheckoutID     string               `json:"checkoutId"`
	StoreID        string               `json:"storeId"`
	TerminalID     string               `json:"terminalId"`
	ShiftID        string               `json:"shiftId"`
	Cashier        string               `json:"cashier,omitempty"`
	CustomerName   string               `json:"customerName,omitempty"`
	Items          []saleItemPayload    `json:"items"`
	Subtotal       amount               `json:"subtotal"`
	DiscountType   string               `json:"discountType"`
	DiscountAmount amount               `json:"discountAmount"`
	TaxAmount      amount               `json:"taxAmount"`
	TotalAmount    amount               `json:"totalAmount"`
	PaymentMethod  string               `json:"paymentMethod"`
	CashAmount     amount               `json:"cashAmount"`
	Payments       []salePaymentPayload `json:"payments"`
}

type saleResponse struct {
	envelope
	Sale *struct {
		ID          looseString `json:"id"`
		SaleNumber  looseString `json:"saleNumber"`
		TotalAmount amount      `json:"totalAmount"`
		WooOrderID  looseString `json:"wooOrderId"`
	} `json:"sale"`
}

// CommitSale persists a settled sale. The checkout id doubles as the
// idempotency key so a retried commit cannot create a second sale.
func (c *Client) CommitSale(ctx context.Context, sale domain.SaleCommit) (domain.SaleReceipt, error) {
	payload := salePayload{
		CheckoutID:     sale.CheckoutID,
		StoreID:        sale.StoreID,
		TerminalID:     sale.TerminalID,
		ShiftID:        sale.ShiftID,
		Cashier:        sale.Cashier,
		CustomerName:   sale.CustomerName,
		Items:          make([]saleItemPayload, 0, len(sale.Lines)),
		Subtotal:       amount(sale.Totals.SubtotalCents),
		DiscountType:   string(sale.Discount.Type),
		DiscountAmount: amount(sale.Totals.DiscountCents),
		TaxAmount:      amount(sale.Totals.TaxCents),
		TotalAmount:    amount(sale.Totals.TotalCents),
		PaymentMethod:  sale.Method,
		CashAmount:     amount(sale.CashCents),
		Payments:       make([]salePaymentPayload, 0, len(sale.Payments)),
	}
	for _, line := range sale.Lines {
		payload.Items = append(payload.Items, saleItemPayload{
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: amount(line.UnitPriceCents),
			Note:      line.Note,
		})
	}
	for _, payment := range sale.Payments {
		payload.Payments = append(payload.Payments, salePaymentPayload{
			Method:           string(payment.Method),
			Amount:           amount(payment.AmountCents),
			Status:           string(payment.Status),
			Reference:        payment.Reference,
			Gateway:          payment.Gateway,
			Phone:            payment.Phone,
			ConfirmationCode: payment.ConfirmationCode,
		})
	}

	var resp saleResponse
	if err := c.post(ctx, "backoffice", "commit_sale", salesPath, payload, &resp, requestOptions{idempotencyKey: sale.CheckoutID}); err != nil {
		return domain.SaleReceipt{}, err
	}
	if resp.failed() {
		return domain.SaleReceipt{}, apperror.Gateway(nil, resp.reason("sale rejected by back-office"))
	}
	if resp.Sale == nil || resp.Sale.ID == "" {
		return domain.SaleReceipt{}, apperror.Gateway(fmt.Errorf("sale.id: %w", errMissingField), "sale response missing id")
	}

	return domain.SaleReceipt{
		SaleID:     resp.Sale.ID.String(),
		SaleNumber: resp.Sale.SaleNumber.String(),
		TotalCents: int64(resp.Sale.TotalAmount),
		WooOrderID: resp.Sale.WooOrderID.String(),
	}, nil
}
