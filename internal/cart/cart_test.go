package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSubtotal(t *testing.T) {
	c := New()

	_, err := c.Add("A-100", "ブレーキパッド", 1000)
	require.NoError(t, err)
	_, err = c.Add("B-200", "ワイパー", 500)
	require.NoError(t, err)

	item, err := c.Add("A-100", "ブレーキパッド", 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity, "same part number should merge")

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(2500), c.Subtotal())
}

func TestAddManualRowsNeverMerge(t *testing.T) {
	c := New()

	_, err := c.Add("", "工賃", 3000)
	require.NoError(t, err)
	_, err = c.Add("", "工賃", 3000)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
}

func TestAddRejectsNegativePrice(t *testing.T) {
	c := New()

	_, err := c.Add("A-100", "x", -1)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 0, c.Len())
}

func TestAdjustQuantityRemovesAtZero(t *testing.T) {
	c := New()
	item, _ := c.Add("A-100", "x", 100)

	require.NoError(t, c.AdjustQuantity(item.ID, 2))
	require.NoError(t, c.AdjustQuantity(item.ID, -3))

	assert.Equal(t, 0, c.Len(), "line should be removed when quantity reaches zero")
}

func TestAdjustQuantityUnknownID(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.AdjustQuantity("nope", 1), ErrItemNotFound)
}

func TestInlineEdits(t *testing.T) {
	c := New()
	item, _ := c.Add("A-100", "original", 100)

	require.NoError(t, c.SetName(item.ID, "edited"))
	require.NoError(t, c.SetPrice(item.ID, 250))
	assert.ErrorIs(t, c.SetPrice(item.ID, -5), ErrInvalidPrice)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "edited", items[0].Name)
	assert.Equal(t, int64(250), items[0].Price)
}

func TestRemoveAndClear(t *testing.T) {
	c := New()
	item, _ := c.Add("A-100", "x", 100)
	c.Add("B-200", "y", 200)

	require.NoError(t, c.Remove(item.ID))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Subtotal())
}

func TestItemsReturnsCopies(t *testing.T) {
	c := New()
	c.Add("A-100", "x", 100)

	items := c.Items()
	items[0].Price = 999999

	assert.Equal(t, int64(100), c.Subtotal(), "mutating a snapshot must not affect the cart")
}

func TestZeroPriceItemAllowed(t *testing.T) {
	c := New()
	_, err := c.Add("FREE-1", "novelty", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Subtotal())
}
