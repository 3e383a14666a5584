package orders

import "time"

// Status is the fulfilment state of an order. Any status may follow any other.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
)

var Statuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// PaymentStatus is informational; nothing settles payments.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var PaymentStatuses = []PaymentStatus{PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded}

func (s PaymentStatus) Valid() bool {
	for _, v := range PaymentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// LineItem is the snapshot of a product taken when the order was placed.
// It is never refreshed from the catalog.
type LineItem struct {
	ProductID string  `json:"productId" dynamodbav:"product_id"`
	Name      string  `json:"name" dynamodbav:"name"`
	Price     float64 `json:"price" dynamodbav:"price"`
	Quantity  int     `json:"quantity" dynamodbav:"quantity"`
	Subtotal  float64 `json:"subtotal" dynamodbav:"subtotal"`
}

// Order represents the item stored in the orders table.
type Order struct {
	ID            string        `json:"id" dynamodbav:"order_id"` // PK
	OrderNumber   string        `json:"orderNumber" dynamodbav:"order_number"`
	CustomerName  string        `json:"customerName" dynamodbav:"customer_name"`
	Phone         string        `json:"phone" dynamodbav:"phone"`
	Address       string        `json:"address" dynamodbav:"address"`
	UserID        string        `json:"userId,omitempty" dynamodbav:"user_id,omitempty"`
	LineItems     []LineItem    `json:"lineItems" dynamodbav:"line_items"`
	TotalAmount   float64       `json:"totalAmount" dynamodbav:"total_amount"`
	Status        Status        `json:"status" dynamodbav:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus" dynamodbav:"payment_status"`
	CreatedAt     time.Time     `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt     time.Time     `json:"updatedAt" dynamodbav:"updated_at"`
}

// LineRequest is one requested product and quantity.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// PlaceInput is a checkout request. TotalAmount is only honoured when the
// service is configured to trust client totals.
type PlaceInput struct {
	CustomerName string
	Phone        string
	Address      string
	UserID       string
	LineItems    []LineRequest
	TotalAmount  *float64
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)
