// Package api handles HTTP and WebSocket API endpoints for the till
// front-end.
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/redteltel/regi/internal/cart"
	"github.com/redteltel/regi/internal/catalog"
	"github.com/redteltel/regi/internal/document"
	"github.com/redteltel/regi/internal/ocr"
	"github.com/redteltel/regi/internal/preview"
	"github.com/redteltel/regi/internal/printer"
	"github.com/redteltel/regi/internal/settings"
)

// Server is the API server
type Server struct {
	router   *gin.Engine
	cart     *cart.Cart
	catalog  *catalog.Store
	ocr      *ocr.Client
	printer  *printer.Manager
	settings *settings.Store
	preview  *preview.Renderer
	upgrader websocket.Upgrader
	log      zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[*wsClient]bool
}

// Deps carries everything the server wires together.
type Deps struct {
	Cart     *cart.Cart
	Catalog  *catalog.Store
	OCR      *ocr.Client
	Printer  *printer.Manager
	Settings *settings.Store
	Preview  *preview.Renderer
	Logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	// Set Gin to release mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		router:   router,
		cart:     deps.Cart,
		catalog:  deps.Catalog,
		ocr:      deps.OCR,
		printer:  deps.Printer,
		settings: deps.Settings,
		preview:  deps.Preview,
		log:      deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		clients: make(map[*wsClient]bool),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	// Cart
	s.router.GET("/cart", s.handleGetCart)
	s.router.POST("/cart/items", s.handleAddItem)
	s.router.PATCH("/cart/items/:id", s.handleUpdateItem)
	s.router.DELETE("/cart/items/:id", s.handleRemoveItem)
	s.router.DELETE("/cart", s.handleClearCart)

	// Part number resolution
	s.router.POST("/scan", s.handleScan)
	s.router.GET("/catalog/search", s.handleCatalogSearch)

	// Checkout and preview
	s.router.POST("/checkout", s.handleCheckout)
	s.router.POST("/preview", s.handlePreview)

	// Printer lifecycle
	s.router.POST("/printer/connect", s.handleConnect)
	s.router.POST("/printer/restore", s.handleRestore)
	s.router.POST("/printer/disconnect", s.handleDisconnect)
	s.router.GET("/printer/status", s.handlePrinterStatus)

	// Settings
	s.router.GET("/settings", s.handleGetSettings)
	s.router.PUT("/settings", s.handlePutSettings)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func itemJSON(it cart.Item) gin.H {
	return gin.H{
		"id":          it.ID,
		"part_number": it.PartNumber,
		"name":        it.Name,
		"price":       it.Price,
		"quantity":    it.Quantity,
	}
}

func (s *Server) cartJSON() gin.H {
	items := s.cart.Items()
	out := make([]gin.H, len(items))
	for i, it := range items {
		out[i] = itemJSON(it)
	}
	totals := document.ComputeTotals(items, 0)
	return gin.H{
		"items":    out,
		"subtotal": totals.Subtotal,
		"tax":      totals.Tax,
		"total":    totals.Total,
	}
}

func (s *Server) handleGetCart(c *gin.Context) {
	c.JSON(200, s.cartJSON())
}

func (s *Server) handleAddItem(c *gin.Context) {
	var req struct {
		PartNumber string `json:"part_number"`
		Name       string `json:"name" binding:"required"`
		Price      *int64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "name and price are required"})
		return
	}

	item, err := s.cart.Add(req.PartNumber, req.Name, *req.Price)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	s.broadcastCart()
	c.JSON(200, gin.H{"item": itemJSON(*item), "cart": s.cartJSON()})
}

func (s *Server) handleUpdateItem(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		QuantityDelta *int    `json:"quantity_delta"`
		Name          *string `json:"name"`
		Price         *int64  `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case req.QuantityDelta != nil:
		err = s.cart.AdjustQuantity(id, *req.QuantityDelta)
	case req.Name != nil:
		err = s.cart.SetName(id, *req.Name)
	case req.Price != nil:
		err = s.cart.SetPrice(id, *req.Price)
	default:
		c.JSON(400, gin.H{"error": "nothing to update"})
		return
	}
	if err != nil {
		c.JSON(cartErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	s.broadcastCart()
	c.JSON(200, s.cartJSON())
}

func (s *Server) handleRemoveItem(c *gin.Context) {
	if err := s.cart.Remove(c.Param("id")); err != nil {
		c.JSON(cartErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.broadcastCart()
	c.JSON(200, s.cartJSON())
}

func (s *Server) handleClearCart(c *gin.Context) {
	s.cart.Clear()
	s.broadcastCart()
	c.JSON(200, s.cartJSON())
}

func (s *Server) handleCatalogSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(400, gin.H{"error": "q is required"})
		return
	}

	candidates, err := s.catalog.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(502, gin.H{"error": err.Error()})
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
	c.JSON(200, gin.H{"candidates": out})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(200, s.settings.Get())
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req settings.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if err := s.settings.Put(req); err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, s.settings.Get())
}

func cartErrorStatus(err error) int {
	if errors.Is(err, cart.ErrItemNotFound) {
		return 404
	}
	return 400
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
