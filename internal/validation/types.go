package validation

import (
	"strings"

	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/orders"
)

// CreateProductRequest is the payload for POST /products.
type CreateProductRequest struct {
	Name           string   `json:"name" validate:"required"`
	Description    string   `json:"description" validate:"required"`
	Price          *float64 `json:"price" validate:"required,gte=0"` // pointer so 0 is a valid price
	CompareAtPrice *float64 `json:"compareAtPrice,omitempty" validate:"omitempty,gte=0"`
	Category       string   `json:"category" validate:"required,category"`
	Stock          int      `json:"stock" validate:"gte=0"`
	Featured       bool     `json:"featured"`
	Rating         *float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Reviews        int      `json:"reviews" validate:"gte=0"`
	Image          string   `json:"image" validate:"required"`
	Images         []string `json:"images,omitempty" validate:"omitempty,dive,required"`
	Weight         string   `json:"weight,omitempty"`
	Origin         string   `json:"origin,omitempty"`
}

func (r CreateProductRequest) NewProduct() catalog.NewProduct {
	return catalog.NewProduct{
		Name:           strings.TrimSpace(r.Name),
		Description:    r.Description,
		Price:          r.Price,
		CompareAtPrice: r.CompareAtPrice,
		Category:       catalog.Category(r.Category),
		Stock:          r.Stock,
		Featured:       r.Featured,
		Rating:         r.Rating,
		Reviews:        r.Reviews,
		Image:          r.Image,
		Images:         r.Images,
		Weight:         r.Weight,
		Origin:         r.Origin,
	}
}

// UpdateProductRequest is the payload for PUT /products/:id. Every field is
// optional; a field present in the body is applied even when it is zero.
type UpdateProductRequest struct {
	Name           *string   `json:"name" validate:"omitempty,min=1"`
	Description    *string   `json:"description"`
	Price          *float64  `json:"price" validate:"omitempty,gte=0"`
	CompareAtPrice *float64  `json:"compareAtPrice" validate:"omitempty,gte=0"`
	Category       *string   `json:"category" validate:"omitempty,category"`
	Stock          *int      `json:"stock" validate:"omitempty,gte=0"`
	Featured       *bool     `json:"featured"`
	Rating         *float64  `json:"rating" validate:"omitempty,gte=0,lte=5"`
	Reviews        *int      `json:"reviews" validate:"omitempty,gte=0"`
	Image          *string   `json:"image"`
	Images         *[]string `json:"images"`
	Weight         *string   `json:"weight"`
	Origin         *string   `json:"origin"`
}

func (r UpdateProductRequest) Patch() catalog.Patch {
	p := catalog.Patch{
		Name:           r.Name,
		Description:    r.Description,
		Price:          r.Price,
		CompareAtPrice: r.CompareAtPrice,
		Stock:          r.Stock,
		Featured:       r.Featured,
		Rating:         r.Rating,
		Reviews:        r.Reviews,
		Image:          r.Image,
		Images:         r.Images,
		Weight:         r.Weight,
		Origin:         r.Origin,
	}
	if r.Category != nil {
		c := catalog.Category(*r.Category)
		p.Category = &c
	}
	return p
}

// LineItemRequest is a single order line.
type LineItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10000"` // orders.MaxLineQuantity
}

// PlaceOrderRequest is the payload for POST /orders.
type PlaceOrderRequest struct {
	CustomerName string            `json:"customerName" validate:"required"`
	Phone        string            `json:"phone" validate:"required"`
	Address      string            `json:"address" validate:"required"`
	LineItems    []LineItemRequest `json:"lineItems" validate:"required,min=1,dive"` // at least one item
	TotalAmount  *float64          `json:"totalAmount,omitempty" validate:"omitempty,gte=0"`
}

// PlaceInput converts the request; userID is empty for guest checkout.
func (r PlaceOrderRequest) PlaceInput(userID string) orders.PlaceInput {
	lines := make([]orders.LineRequest, len(r.LineItems))
	for i, l := range r.LineItems {
		lines[i] = orders.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return orders.PlaceInput{
		CustomerName: r.CustomerName,
		Phone:        r.Phone,
		Address:      r.Address,
		UserID:       userID,
		LineItems:    lines,
		TotalAmount:  r.TotalAmount,
	}
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name"`
}

// LoginRequest checks presence only, so a malformed address fails like any other bad login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// GoogleAuthRequest carries the profile the frontend received from Google.
type GoogleAuthRequest struct {
	GoogleID string `json:"googleId" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Image    string `json:"image"`
}
