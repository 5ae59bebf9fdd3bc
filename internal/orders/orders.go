// Package orders is the record-lookup boundary: an opaque order-number to
// order-document lookup with an explicit not-found outcome. The pipeline
// core never sees raw storage errors; the knowledge injector absorbs them.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no order exists for the requested number.
var ErrNotFound = errors.New("orders: not found")

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Item is one line of an order, joined with its product name and SKU.
type Item struct {
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   float64
}

// Order is the record returned by a lookup.
type Order struct {
	ID          int
	CustomerID  int
	OrderDate   time.Time
	TotalAmount float64
	Status      Status
	Items       []Item
}

// Store resolves an order number to its record.
type Store interface {
	Lookup(ctx context.Context, id int) (*Order, error)
}

// FormatDetails renders an order as the plain-text block embedded in the
// system note fed to the language model.
func FormatDetails(o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d Details:\n", o.ID)
	fmt.Fprintf(&b, "- Order Date: %s\n", o.OrderDate.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- Status: %s\n", o.Status)
	fmt.Fprintf(&b, "- Total Amount: $%.2f\n", o.TotalAmount)
	b.WriteString("\nItems:\n")

	if len(o.Items) == 0 {
		b.WriteString("  No items recorded for this order.\n")
		return strings.TrimRight(b.String(), "\n")
	}
	for _, item := range o.Items {
		fmt.Fprintf(&b, "  - %s\n", item.ProductName)
		fmt.Fprintf(&b, "    Quantity: %d\n", item.Quantity)
		fmt.Fprintf(&b, "    Price: $%.2f each\n", item.UnitPrice)
		fmt.Fprintf(&b, "    Subtotal: $%.2f\n", item.UnitPrice*float64(item.Quantity))
	}
	return strings.TrimRight(b.String(), "\n")
}

// statusSummaries give the model a tone hint per fulfillment state.
var statusSummaries = map[Status]string{
	StatusPending:    "is pending and awaiting processing. Let the customer know we'll update them once it starts moving.",
	StatusProcessing: "is being prepared right now. Share a reassuring update and let them know we'll notify them once it ships.",
	StatusShipped:    "has shipped. Review the provided delivery estimate and repeat it back accurately.",
	StatusDelivered:  "has already been delivered. Confirm the delivery date and offer follow-up help if needed.",
	StatusCancelled:  "was cancelled. Clarify the cancellation and offer to help place a new order if appropriate.",
}

// StatusSummary returns the tone hint for an order's status.
func StatusSummary(o *Order) string {
	if s, ok := statusSummaries[o.Status]; ok {
		return fmt.Sprintf("Order %d %s", o.ID, s)
	}
	return fmt.Sprintf("Order %d has status %s.", o.ID, o.Status)
}
