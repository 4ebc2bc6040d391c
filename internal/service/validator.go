package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"shopsys/internal/domain"
)

const (
	deliveryDateLayout = "2006/01/02"
	maxTextLength      = 400
)

var deliveryDatePattern = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`)

// OrderValidator checks an order form rule by rule and reports the first
// rule that fails. Stock shortages are collected over every line.
type OrderValidator struct {
	availability *AvailabilityService
	now          func() time.Time
	loc          *time.Location
}

func NewOrderValidator(availability *AvailabilityService, now func() time.Time, loc *time.Location) *OrderValidator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &OrderValidator{availability: availability, now: now, loc: loc}
}

// Validate returns nil when the order may be placed. The error is only set
// when availability could not be read.
func (v *OrderValidator) Validate(ctx context.Context, req domain.OrderRequest) (*domain.Failure, error) {
	if f := v.checkForm(req); f != nil {
		return f, nil
	}

	lines := req.OrderedLines()
	if len(lines) == 0 {
		return domain.Invalid(domain.FieldCustomerName, "please enter a quantity for at least one product"), nil
	}

	var shortages []domain.StockShortage
	for _, l := range lines {
		avail, p, err := v.availability.lookup(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		if avail >= l.Quantity {
			continue
		}
		name := l.ProductName
		if p != nil {
			name = p.Name
		}
		shortages = append(shortages, domain.StockShortage{
			Index:       l.Index,
			ProductID:   l.ProductID,
			ProductName: name,
			Available:   avail,
		})
	}
	if len(shortages) > 0 {
		return domain.ShortageFailure(shortages), nil
	}
	return nil, nil
}

func (v *OrderValidator) checkForm(req domain.OrderRequest) *domain.Failure {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return domain.Invalid(domain.FieldCustomerName, "customer name required")
	}
	if utf8.RuneCountInString(name) > maxTextLength {
		return domain.Invalid(domain.FieldCustomerName, "customer name must be at most %d characters", maxTextLength)
	}

	address := strings.TrimSpace(req.DeliveryAddress)
	if address == "" {
		return domain.Invalid(domain.FieldDeliveryAddress, "delivery address required")
	}
	if utf8.RuneCountInString(address) > maxTextLength {
		return domain.Invalid(domain.FieldDeliveryAddress, "delivery address must be at most %d characters", maxTextLength)
	}

	date := strings.TrimSpace(req.DeliveryDate)
	if date == "" {
		return domain.Invalid(domain.FieldDeliveryDate, "delivery date required")
	}
	if !deliveryDatePattern.MatchString(date) {
		return domain.Invalid(domain.FieldDeliveryDate, "invalid format")
	}
	day, err := time.ParseInLocation(deliveryDateLayout, date, v.loc)
	if err != nil {
		return domain.Invalid(domain.FieldDeliveryDate, "invalid date")
	}
	if day.Before(v.today()) {
		return domain.Invalid(domain.FieldDeliveryDate, "delivery date must not be in the past")
	}
	return nil
}

func (v *OrderValidator) today() time.Time {
	now := v.now().In(v.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, v.loc)
}

// storedDeliveryDate turns a validated YYYY/MM/DD date into YYYYMMDD
func storedDeliveryDate(date string) string {
	return strings.ReplaceAll(strings.TrimSpace(date), "/", "")
}
