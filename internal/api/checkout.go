package api

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gin-gonic/gin"

	"github.com/redteltel/regi/internal/document"
	"github.com/redteltel/regi/internal/ocr"
	"github.com/redteltel/regi/internal/printer"
)

// handleScan accepts a photographed part label, recognizes the part number
// and resolves it against the catalog. The front-end shows the candidates
// and posts the chosen one to /cart/items.
func (s *Server) handleScan(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(400, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		c.JSON(400, gin.H{"error": "image could not be decoded"})
		return
	}

	result, err := s.ocr.Recognize(c.Request.Context(), img)
	if err != nil {
		status, msg := scanErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	candidates, err := s.catalog.Search(c.Request.Context(), result.PartNumber)
	if err != nil {
		// Recognition worked but the catalog is unreachable; return the
		// raw part number so the operator can still key the item in.
		c.JSON(200, gin.H{
			"part_number": result.PartNumber,
			"confidence":  result.Confidence,
			"candidates":  []gin.H{},
		})
		return
	}

	out := make([]gin.H, len(candidates))
	for i, cand := range candidates {
		out[i] = gin.H{
			"part_number": cand.Entry.PartNumber,
			"name":        cand.Entry.Name,
			"price":       cand.Entry.Price,
			"exact":       cand.Exact,
		}
	}
	c.JSON(200, gin.H{
		"part_number": result.PartNumber,
		"confidence":  result.Confidence,
		"candidates":  out,
	})
}

func scanErrorStatus(err error) (int, string) {
	var rl *ocr.RateLimitError
	switch {
	case errors.As(err, &rl):
		return 429, fmt.Sprintf("recognition rate limited, retry in %s", rl.RetryAfter)
	case errors.Is(err, ocr.ErrAuthDenied):
		return 502, "recognition service rejected the configured API key"
	case errors.Is(err, ocr.ErrTimeout):
		return 504, "recognition timed out"
	case errors.Is(err, ocr.ErrNoResult):
		return 422, "no part number found in the image"
	default:
		return 502, err.Error()
	}
}

type checkoutRequest struct {
	Kind            string `json:"kind" binding:"required"`
	Discount        int64  `json:"discount"`
	Recipient       string `json:"recipient"`
	Proviso         string `json:"proviso"`
	PaymentDeadline string `json:"payment_deadline"`
}

// docSeq disambiguates documents issued within the same second.
var docSeq atomic.Uint32

func newDocumentNumber(now time.Time) string {
	return fmt.Sprintf("%s-%04d", now.Format("20060102"), docSeq.Add(1)%10000)
}

func (s *Server) buildDocument(req checkoutRequest) (*document.Document, error) {
	kind, err := document.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Discount < 0 {
		return nil, errors.New("discount must not be negative")
	}

	items := s.cart.Items()
	totals := document.ComputeTotals(items, req.Discount)

	cfg := s.settings.Get()
	if err := document.ValidateCheckout(items, totals, cfg.AllowZeroTotal); err != nil {
		return nil, err
	}

	proviso := req.Proviso
	if proviso == "" {
		proviso = cfg.Proviso
	}

	now := time.Now()
	return &document.Document{
		Kind:            kind,
		Number:          newDocumentNumber(now),
		IssuedAt:        now,
		Items:           items,
		Totals:          totals,
		Recipient:       req.Recipient,
		Proviso:         proviso,
		PaymentDeadline: req.PaymentDeadline,
		Store:           cfg.Store,
		Bank:            cfg.Bank,
	}, nil
}

// handleCheckout composes the selected document from the cart and prints it.
// The cart is cleared only after the printer accepted the whole byte stream.
func (s *Server) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "kind is required"})
		return
	}

	doc, err := s.buildDocument(req)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	payload := document.Compose(doc, document.DefaultLayout())

	if err := s.printer.Print(c.Request.Context(), payload); err != nil {
		status := printErrorStatus(err)
		s.log.Error().Err(err).Str("document", doc.Number).Msg("print failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.cart.Clear()
	s.broadcastCart()

	c.JSON(200, gin.H{
		"document_number": doc.Number,
		"kind":            doc.Kind.String(),
		"subtotal":        doc.Totals.Subtotal,
		"tax":             doc.Totals.Tax,
		"discount":        doc.Totals.Discount,
		"total":           doc.Totals.Total,
		"revenue_stamp":   document.NeedsRevenueStamp(doc.Kind, doc.Totals.Total),
	})
}

// handlePreview renders the same document the checkout would print, as PNG.
func (s *Server) handlePreview(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "kind is required"})
		return
	}

	doc, err := s.buildDocument(req)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	data, err := s.preview.PNG(doc)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.Data(200, "image/png", data)
}

func printErrorStatus(err error) int {
	switch {
	case errors.Is(err, printer.ErrPrintInFlight):
		return 409
	case errors.Is(err, printer.ErrNotConnected):
		return 503
	default:
		return 502
	}
}

func (s *Server) handleConnect(c *gin.Context) {
	if err := s.printer.Connect(c.Request.Context()); err != nil {
		c.JSON(502, gin.H{"error": err.Error(), "state": s.printer.State().String()})
		return
	}
	if name := s.printer.DeviceName(); name != "" {
		if err := s.settings.RememberPrinter(s.settings.Get().PrinterTarget, name); err != nil {
			s.log.Warn().Err(err).Msg("failed to remember printer")
		}
	}
	c.JSON(200, s.printerStatusJSON())
}

func (s *Server) handleRestore(c *gin.Context) {
	if err := s.printer.Restore(c.Request.Context()); err != nil {
		c.JSON(502, gin.H{"error": err.Error(), "state": s.printer.State().String()})
		return
	}
	c.JSON(200, s.printerStatusJSON())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.printer.Disconnect()
	c.JSON(200, s.printerStatusJSON())
}

func (s *Server) handlePrinterStatus(c *gin.Context) {
	c.JSON(200, s.printerStatusJSON())
}

func (s *Server) printerStatusJSON() gin.H {
	return gin.H{
		"state":  s.printer.State().String(),
		"device": s.printer.DeviceName(),
	}
}
