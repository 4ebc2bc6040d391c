package service

import (
	"context"

	"github.com/pkg/errors"

	"shopsys/internal/domain"
	"shopsys/internal/repository"
)

// AvailabilityService derives how much of a product can still be ordered
type AvailabilityService struct {
	products repository.ProductRepository
	orders   repository.OrderRepository
}

func NewAvailabilityService(products repository.ProductRepository, orders repository.OrderRepository) *AvailabilityService {
	return &AvailabilityService{products: products, orders: orders}
}

// Available is the stock on hand minus everything ever ordered. An unknown
// product has no stock. The result is negative when the product is oversold.
func (s *AvailabilityService) Available(ctx context.Context, productID int64) (int64, error) {
	avail, _, err := s.lookup(ctx, productID)
	return avail, err
}

// PreviewAvailability computes Available for each id
func (s *AvailabilityService) PreviewAvailability(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(productIDs))
	for _, id := range productIDs {
		if _, ok := out[id]; ok {
			continue
		}
		avail, err := s.Available(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = avail
	}
	return out, nil
}

// lookup returns the availability together with the product, nil when it does not exist
func (s *AvailabilityService) lookup(ctx context.Context, productID int64) (int64, *domain.Product, error) {
	var stock int64
	p, err := s.products.GetByID(ctx, productID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		p = nil
	case err != nil:
		return 0, nil, errors.Wrapf(err, "find product %d", productID)
	default:
		stock = p.Stock
	}

	ordered, err := s.orders.SumOrdered(ctx, productID)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "ordered amount of product %d", productID)
	}
	return stock - ordered, p, nil
}
