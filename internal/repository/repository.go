package repository

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"shopsys/internal/domain"
)

// ErrNotFound is returned when an entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key is already taken
var ErrDuplicate = errors.New("already exists")

// MaxKeywordLength bounds catalog search keywords
const MaxKeywordLength = 400

// ProductQuery filters a catalog search. A zero TypeID matches every type.
type ProductQuery struct {
	Keyword string
	TypeID  int64
	Offset  int
	Limit   int
}

// ProductRepository stores catalog products
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	SetStatus(ctx context.Context, id int64, status domain.Status) error
	Search(ctx context.Context, q ProductQuery) ([]domain.ProductSummary, int64, error)
	Image(ctx context.Context, id int64) ([]byte, error)
	SetImage(ctx context.Context, id int64, image []byte) error
}

// ProductTypeRepository stores product types
type ProductTypeRepository interface {
	CreateType(ctx context.Context, t *domain.ProductType) error
	ListActiveTypes(ctx context.Context) ([]domain.ProductType, error)
}

// Catalog is the full catalog store
type Catalog interface {
	ProductRepository
	ProductTypeRepository
}

// OrderRepository is the append-only order ledger
type OrderRepository interface {
	// SumOrdered totals the ordered amount of a product over every order, 0 when none
	SumOrdered(ctx context.Context, productID int64) (int64, error)
	// MaxOrderID is the highest order id in the ledger, 0 when empty
	MaxOrderID(ctx context.Context) (int64, error)
	Insert(ctx context.Context, line *domain.OrderLine) error
	ByOrderID(ctx context.Context, orderID int64) ([]domain.OrderLine, error)
	// Lock serializes order submissions until the surrounding transaction ends
	Lock(ctx context.Context) error
}

// UserRepository stores login accounts
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// TxManager runs fn inside a transaction. Returning an error from fn rolls it back.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// TruncateKeyword cuts a search keyword to MaxKeywordLength characters
func TruncateKeyword(k string) string {
	r := []rune(k)
	if len(r) > MaxKeywordLength {
		return string(r[:MaxKeywordLength])
	}
	return k
}
