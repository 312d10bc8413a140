package order

import (
	"sort"
	"strconv"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"

	"github.com/shopspring/decimal"
)

// Line is a requested product and quantity, priced from the catalogue.
type Line struct {
	ProductID int64
	Quantity  int
}

// Pricing holds the amounts the final price is derived from.
type Pricing struct {
	Total       decimal.Decimal
	Discount    decimal.Decimal
	Cashback    decimal.Decimal
	DeliveryFee decimal.Decimal
}

// PricingOf reads the current pricing of o.
func PricingOf(o *models.Order) Pricing {
	return Pricing{
		Total:       o.TotalPrice,
		Discount:    o.DiscountApplied,
		Cashback:    o.CashbackUsed,
		DeliveryFee: o.DeliveryFee,
	}
}

// ComputeFinalPrice returns total - discount - cashback + deliveryFee. Every
// component must be non-negative and so must the result.
func ComputeFinalPrice(p Pricing) (decimal.Decimal, error) {
	fields := map[string]string{}
	if p.Total.Sign() < 0 {
		fields["total_price"] = "must not be negative"
	}
	if p.Discount.Sign() < 0 {
		fields["discount_applied"] = "must not be negative"
	}
	if p.Cashback.Sign() < 0 {
		fields["cashback_used"] = "must not be negative"
	}
	if p.DeliveryFee.Sign() < 0 {
		fields["delivery_fee"] = "must not be negative"
	}
	if len(fields) > 0 {
		return decimal.Zero, apperr.Validation(fields)
	}

	final := money.Round(p.Total.Sub(p.Discount).Sub(p.Cashback).Add(p.DeliveryFee))
	if final.Sign() < 0 {
		return decimal.Zero, apperr.InvalidField("final_price",
			"discount and cashback exceed the order total plus delivery fee").
			WithDetail("final_price", final.StringFixed(money.Scale))
	}
	return final, nil
}

// Reprice recomputes o.FinalPrice from its current amounts.
func Reprice(o *models.Order) error {
	final, err := ComputeFinalPrice(PricingOf(o))
	if err != nil {
		return err
	}
	o.FinalPrice = final
	return nil
}

// MergeLines sums quantities per product in ascending product order, which is
// also the order stock rows get locked in.
func MergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, apperr.InvalidField("items", "order must contain at least one item")
	}
	qty := map[int64]int{}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return nil, apperr.InvalidField("items", "item "+strconv.Itoa(i)+" has no product")
		}
		if l.Quantity <= 0 {
			return nil, apperr.InvalidField("items", "item "+strconv.Itoa(i)+" quantity must be positive")
		}
		qty[l.ProductID] += l.Quantity
	}

	out := make([]Line, 0, len(qty))
	for id, q := range qty {
		out = append(out, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// BuildItems prices merged lines from products and returns the items with
// their total. Inactive products cannot be ordered.
func BuildItems(lines []Line, products map[int64]models.Product) ([]models.OrderItem, decimal.Decimal, error) {
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, decimal.Zero, apperr.NotFound("product %d", l.ProductID)
		}
		if p.Status == models.ProductInactive {
			return nil, decimal.Zero, apperr.InvalidField("items", "product "+p.SKU+" is not for sale")
		}
		item := models.OrderItem{
			ProductID:      p.ID,
			Quantity:       l.Quantity,
			UnitPrice:      p.Price,
			DiscountAmount: decimal.Zero,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}
	return items, money.Round(total), nil
}

// AllocateDiscount spreads amount over items in proportion to their line
// totals. The last item takes the rounding remainder so the parts sum exactly.
func AllocateDiscount(items []models.OrderItem, amount decimal.Decimal) {
	if len(items) == 0 || amount.Sign() <= 0 {
		return
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	if total.Sign() == 0 {
		return
	}

	left := amount
	for i := range items {
		share := left
		if i < len(items)-1 {
			share = money.Round(amount.Mul(items[i].LineTotal()).Div(total))
			share = money.Min(share, left)
		}
		items[i].DiscountAmount = items[i].DiscountAmount.Add(share)
		left = left.Sub(share)
	}
}

// CanDiscount reports whether discounts may still be added in status.
func CanDiscount(status models.OrderStatus) bool {
	return status == models.OrderPending || status == models.OrderConfirmed
}

// ApplyDiscount adds amount to the order's discount and reprices it. Callers
// authorize the cumulative amount first.
func ApplyDiscount(o *models.Order, amount decimal.Decimal) error {
	if !CanDiscount(o.Status) {
		return apperr.InvalidField("status", "discounts can only be applied to Pending or Confirmed orders").
			WithDetail("status", string(o.Status))
	}
	if !money.IsPositive(amount) {
		return apperr.InvalidField("amount", "must be greater than zero")
	}

	prev := o.DiscountApplied
	o.DiscountApplied = money.Round(prev.Add(amount))
	if err := Reprice(o); err != nil {
		o.DiscountApplied = prev
		return err
	}
	return nil
}

// CheckPayment validates the payment method against the final price: paying
// with cashback alone requires cashback to cover everything.
func CheckPayment(method models.PaymentMethod, finalPrice decimal.Decimal) error {
	switch method {
	case models.PaymentCash, models.PaymentCard:
		return nil
	case models.PaymentCashback:
		if finalPrice.Sign() != 0 {
			return apperr.InvalidField("payment_method", "cashback payment requires cashback to cover the full price").
				WithDetail("final_price", finalPrice.StringFixed(money.Scale))
		}
		return nil
	default:
		return apperr.InvalidField("payment_method", "unknown payment method "+string(method))
	}
}
