package document

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redteltel/regi/internal/cart"
	"github.com/redteltel/regi/internal/escpos"
)

func testDoc(kind Kind, discount int64) *Document {
	lines := []cart.Item{
		{ID: "1", PartNumber: "A-100", Name: "ブレーキパッド", Price: 1000, Quantity: 2},
		{ID: "2", PartNumber: "B-200", Name: "ワイパー", Price: 500, Quantity: 1},
	}
	return &Document{
		Kind:     kind,
		Number:   "3f2c9a10-77aa-4f1e-9b30-0f6d41f07a22",
		IssuedAt: time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC),
		Items:    lines,
		Totals:   ComputeTotals(lines, discount),
		Store: StoreInfo{
			Name:    "赤帽モータース",
			Address: "東京都大田区1-2-3",
			Phone:   "03-1234-5678",
		},
	}
}

// sjis is a test helper encoding a string the same way the composer does.
func sjis(t *testing.T, s string) []byte {
	t.Helper()
	e := escpos.NewEncoder()
	e.Text(s)
	return e.Bytes()
}

func TestComposeStartsWithInitialize(t *testing.T) {
	got := Compose(testDoc(Receipt, 0), DefaultLayout())

	require.True(t, len(got) > 2)
	assert.Equal(t, []byte{0x1B, '@'}, got[:2])
}

func TestComposeEndsWithFeedAndCut(t *testing.T) {
	got := Compose(testDoc(Receipt, 0), DefaultLayout())

	assert.Equal(t, []byte{0x0A, 0x0A, 0x0A, 0x0A, 0x1D, 'V', 1}, got[len(got)-7:])
}

func TestComposeDeterministic(t *testing.T) {
	a := Compose(testDoc(Invoice, 100), DefaultLayout())
	b := Compose(testDoc(Invoice, 100), DefaultLayout())

	assert.True(t, bytes.Equal(a, b))
}

func TestComposeContainsTitle(t *testing.T) {
	for _, kind := range []Kind{Receipt, Formal, Invoice, Estimation} {
		got := Compose(testDoc(kind, 0), DefaultLayout())
		assert.True(t, bytes.Contains(got, sjis(t, kind.Title())), "kind=%s", kind)
	}
}

func TestComposeEmphasisAlwaysReset(t *testing.T) {
	for _, kind := range []Kind{Receipt, Formal, Invoice, Estimation} {
		got := Compose(testDoc(kind, 0), DefaultLayout())

		on := bytes.Count(got, []byte{0x1B, 'E', 1})
		off := bytes.Count(got, []byte{0x1B, 'E', 0})
		assert.Equal(t, on, off, "kind=%s: every emphasis-on needs a matching off", kind)

		wide := bytes.Count(got, []byte{0x1D, '!', 0x11})
		normal := bytes.Count(got, []byte{0x1D, '!', 0x00})
		assert.Equal(t, wide, normal, "kind=%s: size must return to normal", kind)
	}
}

func TestComposeDiscountLine(t *testing.T) {
	with := Compose(testDoc(Receipt, 300), DefaultLayout())
	without := Compose(testDoc(Receipt, 0), DefaultLayout())

	label := sjis(t, "値引き")
	assert.True(t, bytes.Contains(with, label))
	assert.False(t, bytes.Contains(without, label))
}

func TestComposeRevenueStampBoundary(t *testing.T) {
	stamp := sjis(t, "[ 収入印紙 ]")

	under := testDoc(Formal, 0)
	under.Items = []cart.Item{{Name: "x", Price: 45453, Quantity: 1}}
	under.Totals = ComputeTotals(under.Items, 0)
	require.Equal(t, int64(49998), under.Totals.Total)
	assert.False(t, bytes.Contains(Compose(under, DefaultLayout()), stamp))

	at := testDoc(Formal, 0)
	at.Items = []cart.Item{{Name: "x", Price: 45455, Quantity: 1}}
	at.Totals = ComputeTotals(at.Items, 0)
	require.Equal(t, int64(50000), at.Totals.Total)
	assert.True(t, bytes.Contains(Compose(at, DefaultLayout()), stamp))

	// Same total on a plain receipt never carries the stamp.
	receipt := testDoc(Receipt, 0)
	receipt.Items = at.Items
	receipt.Totals = at.Totals
	assert.False(t, bytes.Contains(Compose(receipt, DefaultLayout()), stamp))
}

func TestComposeRecipientPlaceholder(t *testing.T) {
	doc := testDoc(Formal, 0)
	named := Compose(doc, DefaultLayout())
	assert.True(t, bytes.Contains(named, sjis(t, " 様")))

	doc.Recipient = "田中"
	withName := Compose(doc, DefaultLayout())
	assert.True(t, bytes.Contains(withName, sjis(t, "田中 様")))
}

func TestComposeInvoiceBlock(t *testing.T) {
	doc := testDoc(Invoice, 0)
	doc.Bank = BankInfo{
		BankName:      "みずほ銀行",
		Branch:        "蒲田支店",
		AccountType:   "普通",
		AccountNumber: "1234567",
		AccountHolder: "アカボウモータース",
	}
	doc.PaymentDeadline = "2026/09/30"

	got := Compose(doc, DefaultLayout())
	assert.True(t, bytes.Contains(got, sjis(t, "お振込先:")))
	assert.True(t, bytes.Contains(got, sjis(t, "みずほ銀行 蒲田支店")))
	assert.True(t, bytes.Contains(got, sjis(t, "お支払期限: 2026/09/30")))
}

func TestComposeInvoiceBlankBankPlaceholders(t *testing.T) {
	got := Compose(testDoc(Invoice, 0), DefaultLayout())

	// Bank details unset: the rows still exist as placeholder lines.
	assert.True(t, bytes.Contains(got, sjis(t, "お振込先:")))
	assert.True(t, bytes.Contains(got, sjis(t, "お支払期限: ")))
}

func TestComposeInvoiceWhitespaceBankIsPlaceholder(t *testing.T) {
	doc := testDoc(Invoice, 0)
	// Whitespace of any kind counts as unset, full-width spaces included.
	doc.Bank = BankInfo{AccountHolder: "　\t "}

	got := Compose(doc, DefaultLayout())
	assert.True(t, bytes.Contains(got, sjis(t, "　　　　　　　　　　")))
	assert.False(t, bytes.Contains(got, sjis(t, "　\t ")))
}

func TestComposeEstimationExpiry(t *testing.T) {
	got := Compose(testDoc(Estimation, 0), DefaultLayout())

	// Issued 2026/08/30, valid through one month later.
	assert.True(t, bytes.Contains(got, sjis(t, "有効期限: 2026/09/30")))
}

func TestComposeReceiptHasNoRecipientBlock(t *testing.T) {
	got := Compose(testDoc(Receipt, 0), DefaultLayout())
	assert.False(t, bytes.Contains(got, sjis(t, " 様")))
}

func TestComposeEmitsRaster(t *testing.T) {
	// The footer QR always renders when a document number is present.
	got := Compose(testDoc(Receipt, 0), DefaultLayout())
	assert.True(t, bytes.Contains(got, []byte{0x1D, 'v', '0', 0}))
}
