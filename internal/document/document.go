// Package document models the printable documents a till can issue and the
// arithmetic behind their totals.
package document

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/redteltel/regi/internal/cart"
)

// Kind is the closed set of document types. Layout decisions switch on Kind
// exhaustively; adding a kind is a compile-visible change.
type Kind int

const (
	// Receipt is the plain register slip handed over at the till.
	Receipt Kind = iota
	// Formal is a formal proof of payment (領収書), the variant subject to
	// the revenue-stamp rule.
	Formal
	// Invoice is a billing document (請求書) with bank transfer details
	// and a payment deadline.
	Invoice
	// Estimation is a quote (見積書) valid for one month from issue.
	Estimation
)

// ErrUnknownKind is returned by ParseKind for unrecognized mode strings.
var ErrUnknownKind = errors.New("unknown document kind")

// ParseKind maps a wire string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "receipt":
		return Receipt, nil
	case "formal":
		return Formal, nil
	case "invoice":
		return Invoice, nil
	case "estimation":
		return Estimation, nil
	default:
		return Receipt, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// String returns the wire form of a Kind.
func (k Kind) String() string {
	switch k {
	case Receipt:
		return "receipt"
	case Formal:
		return "formal"
	case Invoice:
		return "invoice"
	case Estimation:
		return "estimation"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Title returns the printed heading for a Kind.
func (k Kind) Title() string {
	switch k {
	case Receipt:
		return "レシート"
	case Formal:
		return "領収書"
	case Invoice:
		return "請求書"
	case Estimation:
		return "御見積書"
	}
	return ""
}

// TaxRate is the consumption tax rate applied to the subtotal.
const TaxRate = 0.10

// RevenueStampThreshold is the fixed total, inclusive, at and above which a
// Formal document carries a revenue-stamp field. Regulatory constant, not
// configuration.
const RevenueStampThreshold int64 = 50000

// Totals holds the computed money fields of a document.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// ComputeTotals derives the money fields from cart lines and a discount.
// Tax is floored, never rounded, and the final total is floored at zero even
// when the discount exceeds subtotal plus tax.
func ComputeTotals(items []cart.Item, discount int64) Totals {
	var subtotal int64
	for _, it := range items {
		subtotal += it.Price * int64(it.Quantity)
	}

	// floor(subtotal * 0.10) in exact integer math; float rounding must
	// not leak into money.
	tax := subtotal / 10
	if discount < 0 {
		discount = 0
	}

	total := subtotal + tax - discount
	if total < 0 {
		total = 0
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    total,
	}
}

// NeedsRevenueStamp reports whether a document of the given kind and total
// carries a revenue-stamp field.
func NeedsRevenueStamp(kind Kind, total int64) bool {
	return kind == Formal && total >= RevenueStampThreshold
}

var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrZeroTotal = errors.New("zero-amount transaction not allowed")
)

// ValidateCheckout gates a cart before a document is composed. Zero-amount
// transactions are only accepted when allowZeroTotal is set.
func ValidateCheckout(items []cart.Item, totals Totals, allowZeroTotal bool) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	if totals.Total == 0 && !allowZeroTotal {
		return ErrZeroTotal
	}
	return nil
}

// StoreInfo is the issuing store's identity block, printed in the footer.
type StoreInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// BankInfo is the transfer destination printed on invoices.
type BankInfo struct {
	BankName      string `json:"bank_name"`
	Branch        string `json:"branch"`
	AccountType   string `json:"account_type"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

// Document is one printable document. It is ephemeral: composed, printed and
// discarded, never stored.
type Document struct {
	Kind     Kind
	Number   string
	IssuedAt time.Time
	Items    []cart.Item
	Totals   Totals

	// Optional per-kind metadata. Absent fields still produce their
	// placeholder lines so the printed layout stays stable.
	Recipient       string
	Proviso         string
	PaymentDeadline string

	Store StoreInfo
	Bank  BankInfo
	Logo  image.Image
}
