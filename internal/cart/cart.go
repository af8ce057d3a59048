// Package cart holds the active till session: the scanned items, their
// quantities, and inline price/name edits. Nothing here is persisted; a cart
// lives exactly as long as the session that created it.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPrice    = errors.New("price must not be negative")
)

// Item is a single cart line. Price is in the smallest currency unit (yen).
type Item struct {
	ID         string `json:"id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

// Cart is the mutable session state. Safe for concurrent use; HTTP handlers
// and the print path may touch it from different goroutines.
type Cart struct {
	mu    sync.Mutex
	items []*Item
}

// New creates an empty cart.
func New() *Cart {
	return &Cart{}
}

// Add appends a line for the given product. A line with the same non-empty
// part number already in the cart is merged by incrementing its quantity, so
// scanning the same label twice behaves like quantity +1. Manual rows (empty
// part number) always get their own line.
func (c *Cart) Add(partNumber, name string, price int64) (*Item, error) {
	if price < 0 {
		return nil, ErrInvalidPrice
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if partNumber != "" {
		for _, it := range c.items {
			if it.PartNumber == partNumber && it.Price == price {
				it.Quantity++
				cp := *it
				return &cp, nil
			}
		}
	}

	item := &Item{
		ID:         uuid.New().String(),
		PartNumber: partNumber,
		Name:       name,
		Price:      price,
		Quantity:   1,
	}
	c.items = append(c.items, item)

	cp := *item
	return &cp, nil
}

// AdjustQuantity changes a line's quantity by delta. A line reaching zero is
// removed from the cart.
func (c *Cart) AdjustQuantity(id string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, it := range c.items {
		if it.ID != id {
			continue
		}
		next := it.Quantity + delta
		if next < 0 {
			next = 0
		}
		if next == 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
		it.Quantity = next
		return nil
	}
	return ErrItemNotFound
}

// SetName edits a line's display name in place.
func (c *Cart) SetName(id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range c.items {
		if it.ID == id {
			it.Name = name
			return nil
		}
	}
	return ErrItemNotFound
}

// SetPrice edits a line's unit price in place.
func (c *Cart) SetPrice(id string, price int64) error {
	if price < 0 {
		return ErrInvalidPrice
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range c.items {
		if it.ID == id {
			it.Price = price
			return nil
		}
	}
	return ErrItemNotFound
}

// Remove deletes a line regardless of quantity.
func (c *Cart) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
}

// Items returns a snapshot copy of the cart lines.
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item, len(c.items))
	for i, it := range c.items {
		items[i] = *it
	}
	return items
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Subtotal returns the sum of price times quantity over all lines.
func (c *Cart) Subtotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for _, it := range c.items {
		sum += it.Price * int64(it.Quantity)
	}
	return sum
}

// String implements fmt.Stringer for log output.
func (c *Cart) String() string {
	return fmt.Sprintf("cart(%d lines, subtotal %d)", c.Len(), c.Subtotal())
}
