package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/pricing"
	"dukapos/backend/internal/xid"
)

// Cart holds the lines and discount of one checkout. It is not safe for
// concurrent use; the owning terminal serializes access.
type Cart struct {
	lines    []domain.CartLine
	discount domain.Discount
	taxRate  decimal.Decimal
}

func New(taxRatePercent decimal.Decimal) *Cart {
	return &Cart{
		discount: domain.Discount{Type: domain.DiscountNone},
		taxRate:  taxRatePercent,
	}
}

// AddItem merges into an existing line with the same SKU and unit price.
func (c *Cart) AddItem(input domain.CartItemInput) (domain.CartLine, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.SKU == "" {
		return domain.CartLine{}, apperror.Validation("sku is required")
	}
	if input.UnitPriceCents < 0 {
		return domain.CartLine{}, apperror.Validation("unit price cannot be negative")
	}
	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if input.Quantity < 0 {
		return domain.CartLine{}, apperror.Validation("quantity must be positive")
	}

	for i := range c.lines {
		if c.lines[i].SKU == input.SKU && c.lines[i].UnitPriceCents == input.UnitPriceCents {
			c.lines[i].Quantity += input.Quantity
			if note := strings.TrimSpace(input.Note); note != "" {
				c.lines[i].Note = note
			}
			return c.lines[i], nil
		}
	}

	line := domain.CartLine{
		ID:             xid.New("line"),
		SKU:            input.SKU,
		Name:           defaultString(input.Name, input.SKU),
		UnitPriceCents: input.UnitPriceCents,
		Quantity:       input.Quantity,
		Note:           strings.TrimSpace(input.Note),
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (c *Cart) UpdateQuantity(lineID string, quantity int) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return apperror.Newf(apperror.CodeNotFound, "cart line %s not found", lineID)
	}
	if quantity <= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		return nil
	}
	c.lines[idx].Quantity = quantity
	return nil
}

func (c *Cart) SetNote(lineID string, note string) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return apperror.Newf(apperror.CodeNotFound, "cart line %s not found", lineID)
	}
	c.lines[idx].Note = strings.TrimSpace(note)
	return nil
}

// Update applies a partial edit. The note is applied before the quantity so
// that a removal still wins.
func (c *Cart) Update(lineID string, update domain.CartLineUpdate) error {
	if update.Note != nil {
		if err := c.SetNote(lineID, *update.Note); err != nil {
			return err
		}
	}
	if update.Quantity != nil {
		return c.UpdateQuantity(lineID, *update.Quantity)
	}
	if update.Note == nil && c.indexOf(lineID) < 0 {
		return apperror.Newf(apperror.CodeNotFound, "cart line %s not found", lineID)
	}
	return nil
}

func (c *Cart) Remove(lineID string) error {
	return c.UpdateQuantity(lineID, 0)
}

func (c *Cart) SetDiscount(discount domain.Discount) error {
	if err := pricing.ValidateDiscount(discount); err != nil {
		return err
	}
	c.discount = pricing.NormalizeDiscount(discount)
	return nil
}

func (c *Cart) Clear() {
	c.lines = nil
	c.discount = domain.Discount{Type: domain.DiscountNone}
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Lines returns a copy.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Discount() domain.Discount {
	return c.discount
}

// Totals is recomputed on every call.
func (c *Cart) Totals() domain.Totals {
	return pricing.Compute(c.lines, c.discount, c.taxRate)
}

func (c *Cart) indexOf(lineID string) int {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
