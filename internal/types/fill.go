package types

import "time"

// Fill is the execution of all or part of an order at a determined price.
// Fills are immutable events; order status and ledger state derive from them.
type Fill struct {
	OrderID    string    `yaml:"order_id" json:"order_id" csv:"order_id"`
	Symbol     string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side       Side      `yaml:"side" json:"side" csv:"side"`
	Time       time.Time `yaml:"time" json:"time" csv:"time"`
	Price      float64   `yaml:"price" json:"price" csv:"price"`
	Quantity   float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	Commission float64   `yaml:"commission" json:"commission" csv:"commission"`
	// Partial marks fills produced by a volume-limited policy that left
	// remaining quantity pending.
	Partial bool `yaml:"partial" json:"partial" csv:"partial"`
}

// SignedQuantity returns the quantity with buy positive and sell negative.
func (f Fill) SignedQuantity() float64 {
	if f.Side == SideSell {
		return -f.Quantity
	}

	return f.Quantity
}
