package domain

import "time"

// Status is the soft-delete flag shared by catalog records
type Status string

const (
	StatusActive  Status = "0"
	StatusDeleted Status = "1"
)

// ProductType groups products in the catalog
type ProductType struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`
}

// Product is a catalog entry. Stock is the amount on hand before any order is taken.
type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TypeID      int64  `json:"type_id"`
	TypeName    string `json:"type_name,omitempty"`
	Stock       int64  `json:"stock"`
	HasImage    bool   `json:"has_image"`
	Status      Status `json:"status"`
}

// Active reports whether the product is visible in the catalog
func (p Product) Active() bool { return p.Status != StatusDeleted }

// ProductSummary is one row of a catalog search
type ProductSummary struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Description  string `json:"description" db:"description"`
	TypeID       int64  `json:"type_id" db:"type_id"`
	TypeName     string `json:"type_name" db:"type_name"`
	HasImage     bool   `json:"has_image" db:"has_image"`
	ImageURL     string `json:"image_url,omitempty" db:"-"`
	TotalOrdered int64  `json:"total_ordered" db:"total_ordered"`
}

// SearchResult is one page of catalog search results
type SearchResult struct {
	Products    []ProductSummary `json:"products"`
	Page        int              `json:"page"`
	TotalPages  int              `json:"total_pages"`
	Total       int64            `json:"total"`
	HasNext     bool             `json:"has_next"`
	HasPrevious bool             `json:"has_previous"`
	Keyword     string           `json:"keyword,omitempty"`
	TypeID      *int64           `json:"type_id,omitempty"`
}

// OrderLine is a ledger row: one product within one order.
// (OrderID, CustomerName, ProductID) identifies the row.
type OrderLine struct {
	OrderID         int64     `json:"order_id" db:"order_id"`
	CustomerName    string    `json:"customer_name" db:"customer_name"`
	ProductID       int64     `json:"product_id" db:"product_id"`
	Amount          int64     `json:"amount" db:"amount"`
	DeliveryAddress string    `json:"delivery_address" db:"delivery_address"`
	DeliveryDate    string    `json:"delivery_date" db:"delivery_date"`
	OrderedAt       time.Time `json:"ordered_at" db:"ordered_at"`
}

// Role of an authenticated user
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is an account allowed to log in
type User struct {
	ID           int64  `json:"id" db:"id"`
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"role" db:"role"`
	Enabled      bool   `json:"enabled" db:"enabled"`
}
