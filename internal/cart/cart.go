package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrInsufficientStock = errors.New("insufficient stock for requested quantity")
	ErrQuantityBelowOne  = errors.New("quantity cannot go below 1")
	ErrLineNotFound      = errors.New("product is not in the cart")
	ErrInvalidProduct    = errors.New("invalid product")
)

// Line is one product staged for sale. QuantityAvailable is the stock
// snapshot taken when the product was first added.
type Line struct {
	ProductID         int64           `json:"product_id"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	QuantityAvailable int             `json:"quantity_available"`
	Quantity          int             `json:"quantity"`
	Subtotal          decimal.Decimal `json:"subtotal"`
}

func (l *Line) recompute() {
	l.Subtotal = domain.RoundMoney(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Cart is the in-memory staging list of a sale in progress. Lines keep
// insertion order and are unique per product. A Cart is not safe for
// concurrent use; callers serialize access per checkout session.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

func (c *Cart) indexOf(productID int64) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddLine stages one unit of product. Re-adding a product increments its
// existing line. Rejections leave the cart unchanged.
func (c *Cart) AddLine(p domain.Product) error {
	if p.ID <= 0 || p.UnitPrice.IsNegative() {
		return ErrInvalidProduct
	}

	if i := c.indexOf(p.ID); i >= 0 {
		line := &c.lines[i]
		if line.Quantity+1 > line.QuantityAvailable {
			return fmt.Errorf("%w: %s has %d available", ErrInsufficientStock, line.Name, line.QuantityAvailable)
		}
		line.Quantity++
		line.recompute()
		return nil
	}

	if p.Stock <= 0 {
		return fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}

	line := Line{
		ProductID:         p.ID,
		Name:              p.Name,
		UnitPrice:         p.UnitPrice,
		QuantityAvailable: p.Stock,
		Quantity:          1,
	}
	line.recompute()
	c.lines = append(c.lines, line)
	return nil
}

func (c *Cart) UpdateQuantity(productID int64, delta int) error {
	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}

	line := &c.lines[i]
	next := line.Quantity + delta
	if next < 1 {
		return ErrQuantityBelowOne
	}
	if next > line.QuantityAvailable {
		return fmt.Errorf("%w: %s has %d available", ErrInsufficientStock, line.Name, line.QuantityAvailable)
	}

	line.Quantity = next
	line.recompute()
	return nil
}

func (c *Cart) RemoveLine(productID int64) {
	if i := c.indexOf(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

func (c *Cart) Tax() domain.TaxBreakdown {
	return domain.SplitInclusiveTax(c.Total())
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Line(productID int64) (Line, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.lines[i], true
	}
	return Line{}, false
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Reset() {
	c.lines = nil
}

// SaleLines converts the staged lines into the drafts recorded at checkout.
func (c *Cart) SaleLines() []domain.SaleLineDraft {
	out := make([]domain.SaleLineDraft, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, domain.SaleLineDraft{
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out
}

type cartJSON struct {
	Lines []Line `json:"lines"`
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	lines := c.lines
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(cartJSON{Lines: lines})
}

func (c *Cart) UnmarshalJSON(data []byte) error {
	var raw cartJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.lines = c.lines[:0]
	for _, l := range raw.Lines {
		if l.ProductID <= 0 || l.Quantity < 1 {
			return fmt.Errorf("invalid cart line for product %d", l.ProductID)
		}
		l.recompute()
		c.lines = append(c.lines, l)
	}
	return nil
}
