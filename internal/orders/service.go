package orders

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/catalog"
)

// Catalog is what checkout needs from the product store.
type Catalog interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (*catalog.Product, error)
}

// Recorder receives business events. Implementations must not block.
type Recorder interface {
	OrderPlaced(ctx context.Context, o Order)
	OrderRejected(ctx context.Context, reason string)
}

type nopRecorder struct{}

func (nopRecorder) OrderPlaced(context.Context, Order)      {}
func (nopRecorder) OrderRejected(context.Context, string) {}

// Options select between the enforced and the lax checkout behaviour.
type Options struct {
	// EnforceStock decrements stock atomically per line and rejects the order when any line cannot be covered.
	EnforceStock bool
	// TrustClientTotal stores a supplied totalAmount as given instead of the computed one.
	TrustClientTotal bool
}

// Service implements order placement and administration.
type Service struct {
	store     *Store
	catalog   Catalog
	opts      Options
	log       logrus.FieldLogger
	recorder  Recorder
	nowFunc   func() time.Time
	newID     func() string
	newNumber func(time.Time) string
}

// NewService wires the order service.
func NewService(store *Store, cat Catalog, opts Options, log logrus.FieldLogger) *Service {
	return &Service{
		store:     store,
		catalog:   cat,
		opts:      opts,
		log:       log,
		recorder:  nopRecorder{},
		nowFunc:   time.Now,
		newID:     uuid.NewString,
		newNumber: OrderNumber,
	}
}

// WithRecorder attaches a business metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	if r != nil {
		s.recorder = r
	}
	return s
}

var numberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OrderNumber returns a human-readable number such as ORD-20250301-K3J9QX2M.
func OrderNumber(at time.Time) string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return "ORD-" + at.UTC().Format("20060102") + "-" + numberEncoding.EncodeToString(b[:])
}

func validateInput(in PlaceInput) error {
	var missing []string
	if strings.TrimSpace(in.CustomerName) == "" {
		missing = append(missing, "customerName")
	}
	if strings.TrimSpace(in.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(in.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: " + strings.Join(missing, ", "))
	}
	if len(in.LineItems) == 0 {
		return apperr.Validation("Order must contain at least one line item")
	}
	for i, li := range in.LineItems {
		if strings.TrimSpace(li.ProductID) == "" {
			return apperr.Newf(apperr.KindValidation, "lineItems[%d]: productId is required", i)
		}
		if li.Quantity < 1 {
			return apperr.Newf(apperr.KindValidation, "lineItems[%d]: quantity must be at least 1", i)
		}
		if li.Quantity > MaxLineQuantity {
			return apperr.Newf(apperr.KindValidation, "lineItems[%d]: quantity must not be greater than %d", i, MaxLineQuantity)
		}
	}
	if in.TotalAmount != nil && *in.TotalAmount < 0 {
		return apperr.Validation("totalAmount must not be negative")
	}
	return nil
}

// MaxLineQuantity caps the units of one product in an order, after merging.
const MaxLineQuantity = 10000

// mergeLines folds repeated product ids into one line, keeping first-seen order.
// Inputs are already bounded by MaxLineQuantity, so the running sum cannot overflow.
func mergeLines(lines []LineRequest) ([]LineRequest, error) {
	idx := make(map[string]int, len(lines))
	out := make([]LineRequest, 0, len(lines))
	for _, li := range lines {
		id := strings.TrimSpace(li.ProductID)
		if i, ok := idx[id]; ok {
			out[i].Quantity += li.Quantity
			if out[i].Quantity > MaxLineQuantity {
				return nil, apperr.Newf(apperr.KindValidation, "quantity for product %s must not be greater than %d", id, MaxLineQuantity)
			}
			continue
		}
		idx[id] = len(out)
		out = append(out, LineRequest{ProductID: id, Quantity: li.Quantity})
	}
	return out, nil
}

// Place validates a checkout, snapshots product names and prices, reserves
// stock when enforcement is on and stores the order.
func (s *Service) Place(ctx context.Context, in PlaceInput) (*Order, error) {
	if err := validateInput(in); err != nil {
		s.recorder.OrderRejected(ctx, "validation")
		return nil, err
	}
	lines, err := mergeLines(in.LineItems)
	if err != nil {
		s.recorder.OrderRejected(ctx, "validation")
		return nil, err
	}

	items := make([]LineItem, 0, len(lines))
	total := decimal.Zero
	for _, li := range lines {
		p, err := s.catalog.Get(ctx, li.ProductID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				s.recorder.OrderRejected(ctx, "unknown_product")
				return nil, apperr.Newf(apperr.KindNotFound, "Product not found: %s", li.ProductID)
			}
			return nil, fmt.Errorf("resolve product %s: %w", li.ProductID, err)
		}
		subtotal := decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(int64(li.Quantity))).Round(2)
		total = total.Add(subtotal)
		items = append(items, LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  li.Quantity,
			Subtotal:  subtotal.InexactFloat64(),
		})
	}

	amount := total.Round(2).InexactFloat64()
	if s.opts.TrustClientTotal && in.TotalAmount != nil {
		amount = *in.TotalAmount
	}

	var reserved []LineItem
	if s.opts.EnforceStock {
		for _, li := range items {
			if _, err := s.catalog.AdjustStock(ctx, li.ProductID, -li.Quantity); err != nil {
				s.release(ctx, reserved)
				if errors.Is(err, apperr.ErrOutOfStock) {
					s.recorder.OrderRejected(ctx, "out_of_stock")
					return nil, err
				}
				if errors.Is(err, apperr.ErrNotFound) {
					s.recorder.OrderRejected(ctx, "unknown_product")
					return nil, apperr.Newf(apperr.KindNotFound, "Product not found: %s", li.ProductID)
				}
				return nil, fmt.Errorf("reserve stock for %s: %w", li.ProductID, err)
			}
			reserved = append(reserved, li)
		}
	}

	now := s.nowFunc().UTC()
	o := Order{
		ID:            s.newID(),
		OrderNumber:   s.newNumber(now),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		Phone:         strings.TrimSpace(in.Phone),
		Address:       strings.TrimSpace(in.Address),
		UserID:        in.UserID,
		LineItems:     items,
		TotalAmount:   amount,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		s.release(ctx, reserved)
		return nil, fmt.Errorf("insert order: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"total":        o.TotalAmount,
		"lines":        len(o.LineItems),
	}).Info("order placed")
	s.recorder.OrderPlaced(ctx, o)
	return &o, nil
}

// release gives back stock taken for a checkout that did not complete. It runs
// even when the request context is already cancelled.
func (s *Service) release(ctx context.Context, reserved []LineItem) {
	if len(reserved) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, li := range reserved {
		if _, err := s.catalog.AdjustStock(ctx, li.ProductID, li.Quantity); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"product_id": li.ProductID,
				"quantity":   li.Quantity,
			}).Error("failed to restore reserved stock")
		}
	}
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders newest first. A zero limit takes the default.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Order, error) {
	if status != "" && !status.Valid() {
		return nil, invalidStatus(status)
	}
	switch {
	case limit < 0:
		return nil, apperr.Validation("limit must be a positive integer")
	case limit == 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.List(ctx, status, limit)
}

// UpdateStatus sets the order status. Repeating the same status is a no-op success.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, invalidStatus(status)
	}
	return s.store.UpdateStatus(ctx, id, status)
}

// UpdatePaymentStatus sets the informational payment status.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	if !status.Valid() {
		names := make([]string, len(PaymentStatuses))
		for i, v := range PaymentStatuses {
			names[i] = string(v)
		}
		return nil, apperr.Newf(apperr.KindValidation, "Invalid payment status %q: must be one of %s", status, strings.Join(names, ", "))
	}
	return s.store.UpdatePaymentStatus(ctx, id, status)
}

// Delete removes an order. Stock is not restored.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func invalidStatus(status Status) error {
	names := make([]string, len(Statuses))
	for i, v := range Statuses {
		names[i] = string(v)
	}
	return apperr.Newf(apperr.KindValidation, "Invalid status %q: must be one of %s", status, strings.Join(names, ", "))
}
