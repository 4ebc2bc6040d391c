package domain

import (
	"fmt"
	"strings"
)

// LineRequest is one product row of an order form
type LineRequest struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int64  `json:"quantity"`
}

// OrderRequest is the order form as submitted by the customer.
// DeliveryDate is expected as YYYY/MM/DD.
type OrderRequest struct {
	CustomerName    string        `json:"customer_name"`
	DeliveryAddress string        `json:"delivery_address"`
	DeliveryDate    string        `json:"delivery_date"`
	Lines           []LineRequest `json:"items"`
}

// OrderedLines returns the lines with a positive quantity, keeping their form index
func (r OrderRequest) OrderedLines() []IndexedLine {
	out := make([]IndexedLine, 0, len(r.Lines))
	for i, l := range r.Lines {
		if l.Quantity > 0 {
			out = append(out, IndexedLine{Index: i, LineRequest: l})
		}
	}
	return out
}

// IndexedLine keeps the position of a line in the submitted form
type IndexedLine struct {
	Index int
	LineRequest
}

// Field names the form input a failure refers to
type Field string

const (
	FieldNone            Field = ""
	FieldCustomerName    Field = "customerName"
	FieldDeliveryAddress Field = "deliveryAddress"
	FieldDeliveryDate    Field = "deliveryDate"
)

// QuantityField is the quantity input of the i-th form line
func QuantityField(i int) Field {
	return Field(fmt.Sprintf("quantity_%d", i))
}

// FailureKind tells user errors apart from infrastructure errors
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailurePersistence FailureKind = "persistence"
)

// Failure is a rejected order: what went wrong and which input to focus
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Field   Field       `json:"field,omitempty"`
}

func (f *Failure) Error() string {
	if f.Field == FieldNone {
		return f.Message
	}
	return f.Message + " (" + string(f.Field) + ")"
}

// Invalid builds a validation failure
func Invalid(field Field, format string, args ...any) *Failure {
	return &Failure{Kind: FailureValidation, Message: fmt.Sprintf(format, args...), Field: field}
}

// Result of an order submission. Failure is nil on success.
type Result struct {
	OrderID int64       `json:"order_id,omitempty"`
	Lines   []OrderLine `json:"lines,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// OK reports whether the order was committed
func (r Result) OK() bool { return r.Failure == nil }

// StockShortage is one line whose quantity exceeds what is available
type StockShortage struct {
	Index       int
	ProductID   int64
	ProductName string
	Available   int64
}

// ShortageFailure folds stock shortages into a single failure focused on the first one
func ShortageFailure(shortages []StockShortage) *Failure {
	first := shortages[0]
	if len(shortages) == 1 {
		return Invalid(QuantityField(first.Index),
			"not enough stock for product %s: please enter a quantity <= %d",
			first.label(), first.Available)
	}
	var b strings.Builder
	b.WriteString("the following products are ordered in larger quantities than in stock, please re-enter the quantities:")
	for _, s := range shortages {
		fmt.Fprintf(&b, "\nproduct %s has %d in stock", s.label(), s.Available)
	}
	return Invalid(QuantityField(first.Index), "%s", b.String())
}

func (s StockShortage) label() string {
	if s.ProductName == "" {
		return fmt.Sprintf("#%d", s.ProductID)
	}
	return fmt.Sprintf("%s (#%d)", s.ProductName, s.ProductID)
}

// ConfirmationLine is one line of the order confirmation screen
type ConfirmationLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	TypeName    string `json:"type_name"`
	Quantity    int64  `json:"quantity"`
	Available   int64  `json:"available"`
}

// StockCheck answers whether a quantity of a product can be ordered
type StockCheck struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message"`
	Available   int64  `json:"available"`
	ProductName string `json:"product_name,omitempty"`
}
