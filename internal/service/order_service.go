package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopsys/internal/domain"
	"shopsys/internal/repository"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("not enough stock")
)

// ProcessingFailed is the message shown when an order could not be stored
const ProcessingFailed = "processing failed"

// EventDispatcher delivers domain events to whoever listens
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.Event) error
}

// OrderService places orders against the ledger
type OrderService struct {
	orders       repository.OrderRepository
	tx           repository.TxManager
	availability *AvailabilityService
	validator    *OrderValidator
	events       EventDispatcher
	serialize    bool
	now          func() time.Time
	loc          *time.Location
}

// OrderOption customizes an OrderService
type OrderOption func(*OrderService)

// WithClock replaces time.Now, used for "today" and order timestamps
func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

// WithLocation sets the time zone delivery dates are read in
func WithLocation(loc *time.Location) OrderOption {
	return func(s *OrderService) { s.loc = loc }
}

// WithSerializedOrders toggles the order lock taken before validation
func WithSerializedOrders(on bool) OrderOption {
	return func(s *OrderService) { s.serialize = on }
}

// WithEvents publishes OrderPlaced after each committed order
func WithEvents(d EventDispatcher) OrderOption {
	return func(s *OrderService) { s.events = d }
}

func NewOrderService(products repository.ProductRepository, orders repository.OrderRepository, tx repository.TxManager, opts ...OrderOption) *OrderService {
	s := &OrderService{
		orders:    orders,
		tx:        tx,
		serialize: true,
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.availability = NewAvailabilityService(products, orders)
	s.validator = NewOrderValidator(s.availability, s.now, s.loc)
	return s
}

// Submit validates the order and stores one ledger row per ordered line in a
// single transaction. Rejections and storage failures come back in
// Result.Failure; the error is only set when ctx ended first.
func (s *OrderService) Submit(ctx context.Context, req domain.OrderRequest, placedBy string) (domain.Result, error) {
	var res domain.Result
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if s.serialize {
			if err := s.orders.Lock(ctx); err != nil {
				return err
			}
		}

		failure, err := s.validator.Validate(ctx, req)
		if err != nil {
			return err
		}
		if failure != nil {
			return failure
		}

		maxID, err := s.orders.MaxOrderID(ctx)
		if err != nil {
			return err
		}
		orderID := maxID + 1
		orderedAt := s.now()
		customer := strings.TrimSpace(req.CustomerName)
		address := strings.TrimSpace(req.DeliveryAddress)
		date := storedDeliveryDate(req.DeliveryDate)

		ordered := req.OrderedLines()
		lines := make([]domain.OrderLine, 0, len(ordered))
		for _, l := range ordered {
			line := domain.OrderLine{
				OrderID:         orderID,
				CustomerName:    customer,
				ProductID:       l.ProductID,
				Amount:          l.Quantity,
				DeliveryAddress: address,
				DeliveryDate:    date,
				OrderedAt:       orderedAt,
			}
			if err := s.orders.Insert(ctx, &line); err != nil {
				return errors.Wrapf(err, "line %d", l.Index)
			}
			lines = append(lines, line)
		}
		res = domain.Result{OrderID: orderID, Lines: lines}
		return nil
	})

	var failure *domain.Failure
	switch {
	case err == nil:
	case errors.As(err, &failure):
		log.WithFields(log.Fields{"field": failure.Field, "user": placedBy}).
			Debugf("order rejected: %s", failure.Message)
		return domain.Result{Failure: failure}, nil
	case ctx.Err() != nil:
		return domain.Result{}, ctx.Err()
	default:
		log.WithError(err).WithField("user", placedBy).Error("order submission failed")
		return domain.Result{Failure: &domain.Failure{Kind: domain.FailurePersistence, Message: ProcessingFailed}}, nil
	}

	log.WithFields(log.Fields{"order_id": res.OrderID, "lines": len(res.Lines), "user": placedBy}).Info("order placed")
	s.publish(ctx, res, placedBy)
	return res, nil
}

func (s *OrderService) publish(ctx context.Context, res domain.Result, placedBy string) {
	if s.events == nil {
		return
	}
	event := domain.OrderPlaced{
		EventID:      uuid.NewString(),
		OrderID:      res.OrderID,
		CustomerName: res.Lines[0].CustomerName,
		PlacedBy:     placedBy,
		Lines:        res.Lines,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.events.Dispatch(ctx, event); err != nil {
		log.WithError(err).WithField("order_id", res.OrderID).Warn("dispatch OrderPlaced")
	}
}

// Confirm prepares the confirmation screen for the selected lines.
// Lines without a positive quantity are left out.
func (s *OrderService) Confirm(ctx context.Context, lines []domain.LineRequest) ([]domain.ConfirmationLine, error) {
	out := make([]domain.ConfirmationLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		avail, p, err := s.availability.lookup(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errors.Wrapf(ErrProductNotFound, "product %d", l.ProductID)
		}
		if avail < l.Quantity {
			return nil, errors.Wrapf(ErrInsufficientStock, "%s has %d in stock", p.Name, avail)
		}
		out = append(out, domain.ConfirmationLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Description: p.Description,
			TypeName:    p.TypeName,
			Quantity:    l.Quantity,
			Available:   avail,
		})
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "no product selected")
	}
	return out, nil
}

// CheckStock tells whether quantity units of the product can be ordered now
func (s *OrderService) CheckStock(ctx context.Context, productID, quantity int64) (*domain.StockCheck, error) {
	avail, p, err := s.availability.lookup(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &domain.StockCheck{Valid: false, Message: ErrProductNotFound.Error()}, nil
	}
	check := &domain.StockCheck{Available: avail, ProductName: p.Name}
	switch {
	case quantity <= 0:
		check.Message = "quantity must be positive"
	case avail < quantity:
		check.Message = fmt.Sprintf("only %d in stock", avail)
	default:
		check.Valid = true
		check.Message = "ok"
	}
	return check, nil
}

// PreviewAvailability reports the current availability of each product
func (s *OrderService) PreviewAvailability(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	return s.availability.PreviewAvailability(ctx, productIDs)
}

// Order returns the ledger rows of one order
func (s *OrderService) Order(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	if orderID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.orders.ByOrderID(ctx, orderID)
}
