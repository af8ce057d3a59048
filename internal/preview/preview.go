// Package preview renders a document to a raster image for the on-screen
// preview pane. The layout mirrors the printed byte stream section for
// section, so what the operator sees is what the paper shows.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/fogleman/gg"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/redteltel/regi/internal/document"
)

// Renderer converts documents to images. A single Renderer may be shared
// across goroutines; renders are serialized because the drawing context and
// cursor are reused between calls.
type Renderer struct {
	mu       sync.Mutex
	width    int // Paper width in pixels
	height   int // Current canvas height
	fontPath string
	fontSize float64
	ctx      *gg.Context
	y        float64 // Current Y position
}

// Options configures a Renderer.
type Options struct {
	// Width is the paper width in pixels. Zero means 384 (58mm paper).
	Width int
	// FontPath overrides font discovery. The font must cover the
	// Japanese glyphs the documents use.
	FontPath string
	// FontSize is the base text size in pixels. Zero means 16.
	FontSize float64
}

// New creates a renderer.
func New(opts Options) *Renderer {
	width := opts.Width
	if width == 0 {
		width = 384
	}
	size := opts.FontSize
	if size == 0 {
		size = 16
	}
	fontPath := opts.FontPath
	if fontPath == "" {
		fontPath = findFont()
	}

	// Start with a reasonable initial height, grow as needed
	initialHeight := 1000

	ctx := gg.NewContext(width, initialHeight)
	ctx.SetColor(color.White)
	ctx.Clear()
	ctx.SetColor(color.Black)

	return &Renderer{
		width:    width,
		height:   initialHeight,
		fontPath: fontPath,
		fontSize: size,
		ctx:      ctx,
		y:        10,
	}
}

// Render draws a complete document and returns the cropped image.
func (r *Renderer) Render(doc *document.Document) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.render(doc)
}

func (r *Renderer) render(doc *document.Document) (image.Image, error) {
	r.reset()

	r.header(doc)
	r.recipient(doc)
	r.items(doc)
	r.totals(doc)
	if err := r.extras(doc); err != nil {
		return nil, err
	}
	if err := r.footer(doc); err != nil {
		return nil, err
	}

	return r.cropToContent(), nil
}

// PNG renders a document and encodes it as PNG.
func (r *Renderer) PNG(doc *document.Document) ([]byte, error) {
	img, err := r.Render(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) header(doc *document.Document) {
	if doc.Logo != nil {
		b := doc.Logo.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > r.width {
			h = h * r.width / w
			w = r.width
		}
		r.ensureHeight(h + 10)
		r.ctx.DrawImage(doc.Logo, (r.width-w)/2, int(r.y))
		r.y += float64(h) + 10
	}

	r.text(doc.Kind.Title(), r.fontSize*2, true, "center")
	r.feed(1)
	r.text(doc.IssuedAt.Format("2006/01/02 15:04"), r.fontSize, false, "center")
	r.text("No. "+document.ShortNumber(doc.Number), r.fontSize, false, "center")
	r.feed(1)
}

func (r *Renderer) recipient(doc *document.Document) {
	if doc.Kind == document.Receipt {
		return
	}
	name := doc.Recipient
	if name == "" {
		name = "＿＿＿＿＿＿＿＿＿＿"
	}
	r.text(name+" 様", r.fontSize*1.25, false, "left")
	r.divider()
}

func (r *Renderer) items(doc *document.Document) {
	for _, it := range doc.Items {
		r.text(it.Name, r.fontSize, false, "left")
		qty := fmt.Sprintf("  %d点 @%s", it.Quantity, yen(it.Price))
		r.split(qty, yen(it.Price*int64(it.Quantity)))
	}
	r.divider()
}

func (r *Renderer) totals(doc *document.Document) {
	t := doc.Totals
	r.split("小計", yen(t.Subtotal))
	r.split("消費税(10%)", yen(t.Tax))
	if t.Discount > 0 {
		r.split("値引き", "-"+yen(t.Discount))
	}
	r.splitSized("合計", yen(t.Total), r.fontSize*1.5, true)
	r.divider()
}

func (r *Renderer) extras(doc *document.Document) error {
	switch doc.Kind {
	case document.Formal:
		proviso := doc.Proviso
		if proviso == "" {
			proviso = "お品代として"
		}
		r.text("但し "+proviso, r.fontSize, false, "left")
		r.feed(1)
		if document.NeedsRevenueStamp(doc.Kind, doc.Totals.Total) {
			r.stampBox()
		}
	case document.Invoice:
		r.text("お振込先", r.fontSize, true, "left")
		r.text(blankOr(doc.Bank.BankName+" "+doc.Bank.Branch), r.fontSize, false, "left")
		r.text(blankOr(doc.Bank.AccountType+" "+doc.Bank.AccountNumber), r.fontSize, false, "left")
		r.text(blankOr(doc.Bank.AccountHolder), r.fontSize, false, "left")
		deadline := doc.PaymentDeadline
		if deadline == "" {
			deadline = "＿＿＿＿＿＿"
		}
		r.text("お支払期限 "+deadline, r.fontSize, false, "left")
		r.feed(1)
		if err := r.barcode(document.ShortNumber(doc.Number)); err != nil {
			return err
		}
	case document.Estimation:
		expiry := doc.IssuedAt.AddDate(0, 1, 0)
		r.text("有効期限 "+expiry.Format("2006/01/02"), r.fontSize, false, "left")
	}
	r.feed(1)
	return nil
}

func (r *Renderer) footer(doc *document.Document) error {
	if doc.Store.Name != "" {
		r.text(doc.Store.Name, r.fontSize, false, "center")
	}
	if doc.Store.Address != "" {
		r.text(doc.Store.Address, r.fontSize, false, "center")
	}
	if doc.Store.Phone != "" {
		r.text("TEL "+doc.Store.Phone, r.fontSize, false, "center")
	}
	r.feed(1)
	r.text("ご来店ありがとうございました", r.fontSize, false, "center")
	r.feed(1)
	return r.qr(doc.Number)
}

// stampBox draws the revenue stamp placement frame.
func (r *Renderer) stampBox() {
	boxW, boxH := 90.0, 110.0
	r.ensureHeight(int(boxH) + 20)
	x := 10.0
	r.ctx.SetLineWidth(2)
	r.ctx.DrawRectangle(x, r.y, boxW, boxH)
	r.ctx.Stroke()

	r.loadFont(r.fontSize)
	tw, th := r.ctx.MeasureString("収入印紙")
	r.ctx.DrawString("収入印紙", x+(boxW-tw)/2, r.y+(boxH+th)/2)
	r.y += boxH + 10
}

func (r *Renderer) barcode(value string) error {
	bc, err := code128.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to render barcode: %w", err)
	}
	scaled, err := barcode.Scale(bc, r.width-40, 60)
	if err != nil {
		return fmt.Errorf("failed to scale barcode: %w", err)
	}
	r.ensureHeight(70)
	r.ctx.DrawImage(scaled, 20, int(r.y))
	r.y += 70
	return nil
}

func (r *Renderer) qr(value string) error {
	code, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to render qr code: %w", err)
	}
	img := code.Image(r.width / 3)
	size := img.Bounds().Dx()
	r.ensureHeight(size + 10)
	r.ctx.DrawImage(img, (r.width-size)/2, int(r.y))
	r.y += float64(size) + 10
	return nil
}

func (r *Renderer) text(s string, size float64, bold bool, align string) {
	r.loadFont(size)
	tw, th := r.ctx.MeasureString(s)

	var x float64
	switch align {
	case "center":
		x = float64(r.width)/2 - tw/2
	case "right":
		x = float64(r.width) - tw - 5
	default:
		x = 10
	}

	r.ensureHeight(int(th) + 12)
	r.ctx.DrawString(s, x, r.y+th)
	if bold {
		// Fake emphasis the way the thermal head does: overstrike one
		// pixel to the right.
		r.ctx.DrawString(s, x+1, r.y+th)
	}
	r.y += th + 8
}

// split draws a label on the left and an amount flush right on one line.
func (r *Renderer) split(left, right string) {
	r.splitSized(left, right, r.fontSize, false)
}

func (r *Renderer) splitSized(left, right string, size float64, bold bool) {
	r.loadFont(size)
	_, th := r.ctx.MeasureString(left)
	rw, _ := r.ctx.MeasureString(right)

	r.ensureHeight(int(th) + 12)
	r.ctx.DrawString(left, 10, r.y+th)
	r.ctx.DrawString(right, float64(r.width)-rw-10, r.y+th)
	if bold {
		r.ctx.DrawString(left, 11, r.y+th)
		r.ctx.DrawString(right, float64(r.width)-rw-9, r.y+th)
	}
	r.y += th + 8
}

func (r *Renderer) divider() {
	r.ensureHeight(16)
	r.ctx.SetLineWidth(1)
	r.ctx.DrawLine(5, r.y+6, float64(r.width)-5, r.y+6)
	r.ctx.Stroke()
	r.y += 14
}

func (r *Renderer) feed(lines int) {
	h := float64(lines) * (r.fontSize + 6)
	r.ensureHeight(int(h))
	r.y += h
}

func (r *Renderer) loadFont(size float64) {
	if r.fontPath == "" {
		return
	}
	if err := r.ctx.LoadFontFace(r.fontPath, size); err != nil {
		// Fall back to the gg default face; glyph coverage suffers
		// but the preview still lays out.
		r.fontPath = ""
	}
}

func (r *Renderer) reset() {
	r.ctx = gg.NewContext(r.width, r.height)
	r.ctx.SetColor(color.White)
	r.ctx.Clear()
	r.ctx.SetColor(color.Black)
	r.y = 10
}

func (r *Renderer) cropToContent() image.Image {
	finalHeight := int(r.y) + 30
	if finalHeight > r.height {
		finalHeight = r.height
	}

	img := r.ctx.Image()
	return img.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(image.Rect(0, 0, r.width, finalHeight))
}

func (r *Renderer) ensureHeight(needed int) {
	if int(r.y)+needed <= r.height {
		return
	}
	newHeight := r.height * 2
	if newHeight < int(r.y)+needed {
		newHeight = int(r.y) + needed + 1000
	}

	newCtx := gg.NewContext(r.width, newHeight)
	newCtx.SetColor(color.White)
	newCtx.Clear()
	newCtx.DrawImage(r.ctx.Image(), 0, 0)
	newCtx.SetColor(color.Black)

	r.ctx = newCtx
	r.height = newHeight
}

// findFont walks the usual Japanese-capable system fonts.
func findFont() string {
	candidates := []string{
		"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
		"/usr/share/fonts/opentype/noto/NotoSansCJKjp-Regular.otf",
		"/usr/share/fonts/truetype/fonts-japanese-gothic.ttf",
		"/System/Library/Fonts/ヒラギノ角ゴシック W4.ttc",
		"/System/Library/Fonts/Helvetica.ttc",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func blankOr(s string) string {
	if strings.TrimSpace(s) == "" {
		return "＿＿＿＿＿＿＿＿＿＿"
	}
	return s
}

func yen(v int64) string {
	return document.Yen(v)
}
