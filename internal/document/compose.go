package document

import (
	"fmt"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/redteltel/regi/internal/escpos"
)

// Layout controls the physical geometry of the composed byte stream.
type Layout struct {
	// Columns is the number of single-width print columns per line.
	Columns int
	// DotWidth is the printable width in dots for raster content.
	DotWidth int
	// Encoding selects the text encoding of the target printer.
	Encoding escpos.TextEncoding
}

// DefaultLayout matches a 58mm printer: 32 columns, 384 dots.
func DefaultLayout() Layout {
	return Layout{
		Columns:  32,
		DotWidth: 384,
		Encoding: escpos.EncodingShiftJIS,
	}
}

// Compose serializes a document into one ESC/POS byte stream. Section order
// is fixed per kind: header, recipient block, line items, totals, kind
// extras, store footer, closing line, trailing feed. Printer formatting
// state (alignment, emphasis, size) is explicitly reset after every section
// that changes it, since the printer itself carries formatting across lines.
func Compose(doc *Document, layout Layout) []byte {
	e := escpos.NewEncoderWithEncoding(layout.Encoding)
	e.Initialize()

	composeHeader(e, doc, layout)
	composeRecipient(e, doc, layout)
	composeItems(e, doc, layout)
	composeTotals(e, doc, layout)
	composeExtras(e, doc, layout)
	composeFooter(e, doc, layout)

	e.Feed(4)
	e.Cut()
	return e.Bytes()
}

func composeHeader(e *escpos.Encoder, doc *Document, layout Layout) {
	if doc.Logo != nil {
		e.SetAlignment(escpos.AlignCenter)
		e.Raster(doc.Logo, layout.DotWidth)
		e.LineFeed()
	}

	e.SetAlignment(escpos.AlignCenter)
	e.SetSize(escpos.SizeDouble)
	e.SetEmphasis(true)
	e.TextLine(doc.Kind.Title())
	e.SetEmphasis(false)
	e.SetSize(escpos.SizeNormal)

	e.SetAlignment(escpos.AlignRight)
	e.TextLine(doc.IssuedAt.Format("2006/01/02 15:04"))
	e.TextLine("No. " + ShortNumber(doc.Number))
	e.SetAlignment(escpos.AlignLeft)
	e.TextLine(divider(layout.Columns))
}

// composeRecipient emits the addressee block for the kinds that carry one.
// An absent recipient still produces the line, as a blank honorific row, so
// the vertical layout does not shift between documents.
func composeRecipient(e *escpos.Encoder, doc *Document, layout Layout) {
	switch doc.Kind {
	case Receipt:
		return
	case Formal, Invoice, Estimation:
		name := doc.Recipient
		line := name + " 様"
		if name == "" {
			line = "　　　　　　　　 様"
		}
		e.SetEmphasis(true)
		e.TextLine(line)
		e.SetEmphasis(false)
		e.TextLine(divider(layout.Columns))
	}
}

func composeItems(e *escpos.Encoder, doc *Document, layout Layout) {
	for _, it := range doc.Items {
		e.TextLine(it.Name)
		qty := fmt.Sprintf("  %d × %s", it.Quantity, Yen(it.Price))
		amount := Yen(it.Price * int64(it.Quantity))
		e.TextLine(escpos.PadBetween(qty, amount, layout.Columns))
	}
	e.TextLine(divider(layout.Columns))
}

func composeTotals(e *escpos.Encoder, doc *Document, layout Layout) {
	t := doc.Totals
	e.TextLine(escpos.PadBetween("小計", Yen(t.Subtotal), layout.Columns))
	e.TextLine(escpos.PadBetween("消費税(10%)", Yen(t.Tax), layout.Columns))
	if t.Discount > 0 {
		e.TextLine(escpos.PadBetween("値引き", "-"+Yen(t.Discount), layout.Columns))
	}

	e.SetEmphasis(true)
	e.SetSize(escpos.SizeDouble)
	// Double-width characters halve the effective column count.
	e.TextLine(escpos.PadBetween("合計", Yen(t.Total), layout.Columns/2))
	e.SetSize(escpos.SizeNormal)
	e.SetEmphasis(false)
	e.TextLine(divider(layout.Columns))
}

// composeExtras emits the kind-specific block between totals and footer.
func composeExtras(e *escpos.Encoder, doc *Document, layout Layout) {
	switch doc.Kind {
	case Receipt:
		return

	case Formal:
		proviso := doc.Proviso
		if proviso == "" {
			proviso = "　　　　　　　　　　"
		}
		e.TextLine("但し " + proviso)
		e.TextLine("上記正に領収いたしました")
		if NeedsRevenueStamp(doc.Kind, doc.Totals.Total) {
			e.LineFeed()
			e.SetAlignment(escpos.AlignRight)
			e.TextLine("[ 収入印紙 ]")
			e.SetAlignment(escpos.AlignLeft)
		}
		e.TextLine(divider(layout.Columns))

	case Invoice:
		e.TextLine("お振込先:")
		e.TextLine(blankOr(doc.Bank.BankName + " " + doc.Bank.Branch))
		e.TextLine(blankOr(doc.Bank.AccountType + " " + doc.Bank.AccountNumber))
		e.TextLine(blankOr(doc.Bank.AccountHolder))
		deadline := doc.PaymentDeadline
		if deadline == "" {
			deadline = "　　　　　　"
		}
		e.TextLine("お支払期限: " + deadline)
		composeNumberBarcode(e, doc, layout)
		e.TextLine(divider(layout.Columns))

	case Estimation:
		expiry := doc.IssuedAt.AddDate(0, 1, 0)
		e.TextLine("有効期限: " + expiry.Format("2006/01/02"))
		e.TextLine(divider(layout.Columns))
	}
}

func composeFooter(e *escpos.Encoder, doc *Document, layout Layout) {
	e.SetAlignment(escpos.AlignCenter)
	e.TextLine(doc.Store.Name)
	e.TextLine(doc.Store.Address)
	e.TextLine(doc.Store.Phone)

	switch doc.Kind {
	case Receipt:
		e.TextLine("ご来店ありがとうございました")
	case Formal:
		e.TextLine("毎度ありがとうございます")
	case Invoice:
		e.TextLine("上記の通りご請求申し上げます")
	case Estimation:
		e.TextLine("上記の通りお見積り申し上げます")
	}

	composeNumberQR(e, doc, layout)
	e.SetAlignment(escpos.AlignLeft)
}

// composeNumberQR prints the full document number as a QR code so a phone can
// pick it up from the slip.
func composeNumberQR(e *escpos.Encoder, doc *Document, layout Layout) {
	if doc.Number == "" {
		return
	}
	q, err := qrcode.New(doc.Number, qrcode.Medium)
	if err != nil {
		return
	}
	e.LineFeed()
	e.Raster(q.Image(layout.DotWidth/3), layout.DotWidth)
	e.LineFeed()
}

// composeNumberBarcode prints a Code128 of the short document number on
// invoices so the slip can be matched at the register later.
func composeNumberBarcode(e *escpos.Encoder, doc *Document, layout Layout) {
	if doc.Number == "" {
		return
	}
	bc, err := code128.Encode(ShortNumber(doc.Number))
	if err != nil {
		return
	}
	scaled, err := barcode.Scale(bc, layout.DotWidth, 48)
	if err != nil {
		return
	}
	e.SetAlignment(escpos.AlignCenter)
	e.Raster(scaled, layout.DotWidth)
	e.SetAlignment(escpos.AlignLeft)
	e.LineFeed()
}

func divider(columns int) string {
	line := make([]byte, columns)
	for i := range line {
		line[i] = '-'
	}
	return string(line)
}

func blankOr(s string) string {
	if strings.TrimSpace(s) == "" {
		return "　　　　　　　　　　"
	}
	return s
}

// ShortNumber returns the display form of a document number.
func ShortNumber(number string) string {
	if len(number) > 8 {
		return number[:8]
	}
	return number
}

// Yen formats an amount with thousands separators and a yen sign.
func Yen(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-¥" + s
	}
	return "¥" + s
}
