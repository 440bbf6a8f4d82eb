package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/apperror"
	"dukapos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Compute derives the sale totals from the cart lines and discount. It is a
// pure function: the same inputs always yield the same totals, whatever order
// the cart was built in.
func Compute(lines []domain.CartLine, discount domain.Discount, taxRatePercent decimal.Decimal) domain.Totals {
	subtotal := Subtotal(lines)
	discountCents := DiscountAmount(subtotal, discount)
	taxCents := Tax(subtotal-discountCents, taxRatePercent)

	return domain.Totals{
		SubtotalCents: subtotal,
		DiscountCents: discountCents,
		TaxCents:      taxCents,
		TotalCents:    subtotal - discountCents + taxCents,
	}
}

func Subtotal(lines []domain.CartLine) int64 {
	subtotal := int64(0)
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		subtotal += line.UnitPriceCents * int64(line.Quantity)
	}
	return subtotal
}

// DiscountAmount never exceeds subtotal. Percentages are rounded half away
// from zero to whole cents.
func DiscountAmount(subtotal int64, discount domain.Discount) int64 {
	if subtotal <= 0 {
		return 0
	}

	amount := int64(0)
	switch discount.Type {
	case domain.DiscountPercentage:
		pct := decimal.NewFromFloat(discount.Percent)
		if pct.IsNegative() {
			return 0
		}
		amount = decimal.NewFromInt(subtotal).Mul(pct).Div(hundred).Round(0).IntPart()
	case domain.DiscountFixed:
		amount = discount.AmountCents
	}

	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}

func Tax(taxable int64, taxRatePercent decimal.Decimal) int64 {
	if taxable <= 0 || taxRatePercent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(taxable).Mul(taxRatePercent).Div(hundred).Round(0).IntPart()
}

// ValidateDiscount rejects input that Compute would otherwise have to clamp
// silently. A fixed amount above the subtotal is accepted and clamped later.
func ValidateDiscount(discount domain.Discount) error {
	switch discount.Type {
	case "", domain.DiscountNone:
		return nil
	case domain.DiscountPercentage:
		if math.IsNaN(discount.Percent) || discount.Percent < 0 || discount.Percent > 100 {
			return apperror.Validation("percentage discount must be between 0 and 100")
		}
		return nil
	case domain.DiscountFixed:
		if discount.AmountCents < 0 {
			return apperror.Validation("fixed discount cannot be negative")
		}
		return nil
	default:
		return apperror.Newf(apperror.CodeValidation, "unsupported discount type %q", discount.Type)
	}
}

// NormalizeDiscount maps the empty type to none and drops fields the type
// does not use.
func NormalizeDiscount(discount domain.Discount) domain.Discount {
	switch discount.Type {
	case domain.DiscountPercentage:
		return domain.Discount{Type: domain.DiscountPercentage, Percent: discount.Percent}
	case domain.DiscountFixed:
		return domain.Discount{Type: domain.DiscountFixed, AmountCents: discount.AmountCents}
	default:
		return domain.Discount{Type: domain.DiscountNone}
	}
}
