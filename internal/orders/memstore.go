package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// storeFile is the JSON document format consumed by LoadFile and cmd/seed.
type storeFile struct {
	Products []struct {
		ID    int     `json:"id"`
		Name  string  `json:"name"`
		Price float64 `json:"price"`
		SKU   string  `json:"sku"`
	} `json:"products"`
	Orders []struct {
		ID          int     `json:"id"`
		CustomerID  int     `json:"customer_id"`
		OrderDate   string  `json:"order_date"`
		TotalAmount float64 `json:"total_amount"`
		Status      string  `json:"status"`
	} `json:"orders"`
	OrderItems []struct {
		OrderID   int     `json:"order_id"`
		ProductID int     `json:"product_id"`
		Quantity  int     `json:"quantity"`
		UnitPrice float64 `json:"unit_price"`
	} `json:"order_items"`
}

// SeedProduct is one product row from the seed document.
type SeedProduct struct {
	ID    int
	Name  string
	SKU   string
	Price float64
}

// SeedData is the parsed seed document with line items still keyed by
// order, before the product join.
type SeedData struct {
	Products []SeedProduct
	Orders   []*Order
	Items    map[int][]SeedItem
}

// ParseSeed decodes a store seed document.
func ParseSeed(data []byte) (*SeedData, error) {
	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("orders: parse store file: %w", err)
	}

	sd := &SeedData{Items: make(map[int][]SeedItem)}
	for _, p := range sf.Products {
		sd.Products = append(sd.Products, SeedProduct{ID: p.ID, Name: p.Name, SKU: p.SKU, Price: p.Price})
	}

	for _, o := range sf.Orders {
		date, err := time.Parse(time.RFC3339, o.OrderDate)
		if err != nil {
			// The original dataset uses bare ISO timestamps without zone.
			date, err = time.Parse("2006-01-02T15:04:05", o.OrderDate)
		}
		if err != nil {
			return nil, fmt.Errorf("orders: order %d date %q: %w", o.ID, o.OrderDate, err)
		}
		sd.Orders = append(sd.Orders, &Order{
			ID:          o.ID,
			CustomerID:  o.CustomerID,
			OrderDate:   date,
			TotalAmount: o.TotalAmount,
			Status:      Status(o.Status),
		})
	}

	for _, item := range sf.OrderItems {
		sd.Items[item.OrderID] = append(sd.Items[item.OrderID], SeedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	return sd, nil
}

// MemStore serves lookups from a static JSON dataset held in memory.
// It is read-only after construction and safe for concurrent use.
type MemStore struct {
	orders map[int]*Order
}

// LoadFile reads a store JSON file into a MemStore.
func LoadFile(path string) (*MemStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orders: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a MemStore from store JSON bytes, resolving line items
// against the product list.
func Parse(data []byte) (*MemStore, error) {
	sd, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}

	products := make(map[int]SeedProduct, len(sd.Products))
	for _, p := range sd.Products {
		products[p.ID] = p
	}

	byID := make(map[int]*Order, len(sd.Orders))
	for _, o := range sd.Orders {
		byID[o.ID] = o
	}

	for orderID, items := range sd.Items {
		order, ok := byID[orderID]
		if !ok {
			continue
		}
		for _, item := range items {
			product, ok := products[item.ProductID]
			if !ok {
				continue
			}
			order.Items = append(order.Items, Item{
				ProductName: product.Name,
				SKU:         product.SKU,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
		}
	}

	return &MemStore{orders: byID}, nil
}

// NewMemStore wraps pre-built orders, keyed by ID.
func NewMemStore(list []*Order) *MemStore {
	byID := make(map[int]*Order, len(list))
	for _, o := range list {
		byID[o.ID] = o
	}
	return &MemStore{orders: byID}
}

// Lookup implements Store.
func (s *MemStore) Lookup(_ context.Context, id int) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

// Len returns the number of orders loaded.
func (s *MemStore) Len() int { return len(s.orders) }
