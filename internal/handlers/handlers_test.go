package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/dynamotest"
	"github.com/shivam349/codex1/internal/idempotency"
	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/orders"
	"github.com/shivam349/codex1/internal/users"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-pass"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.VerificationMessage
}

func (n *captureNotifier) SendVerification(_ context.Context, msg notify.VerificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) last() notify.VerificationMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

type memoryImages struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryImages) Put(_ context.Context, key, contentType string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return "https://cdn.example.com/" + key, nil
}

type harness struct {
	t        *testing.T
	engine   *gin.Engine
	db       *dynamotest.Fake
	notifier *captureNotifier
	images   *memoryImages
	admin    string // admin bearer token
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	db := dynamotest.New().
		CreateTable("products", "product_id").
		CreateTable("orders", "order_id").
		CreateTable("users", "pk").
		CreateTable("idempotency", "idempotency_key")

	cat := catalog.NewStore(db, "products")
	orderSvc := orders.NewService(orders.NewStore(db, "orders"), cat, orders.Options{EnforceStock: true}, log)
	userStore := users.NewStore(db, "users")
	gate := identity.NewJWTGate("handler-test-secret-handler-test-secret", userStore)
	notifier := &captureNotifier{}
	ident := identity.NewService(userStore, gate, notifier, identity.Settings{
		TokenTTL:        time.Hour,
		VerificationTTL: 24 * time.Hour,
		FrontendURL:     "https://shop.example",
	}, log)
	images := &memoryImages{objects: map[string][]byte{}}

	deps := Deps{
		Catalog:     cat,
		Orders:      orderSvc,
		Identity:    ident,
		Gate:        gate,
		Idempotency: idempotency.NewStore(db, "idempotency", 48*time.Hour),
		Images:      images,
		Log:         log,
		Options: Options{
			AllowedOrigins:      []string{"https://shop.example"},
			MaxUploadBytes:      5 << 20,
			ProductsCacheMaxAge: time.Minute,
		},
	}
	for _, m := range mutate {
		m(&deps)
	}

	_, err := ident.CreateAdmin(context.Background(), adminEmail, adminPassword, false)
	require.NoError(t, err)

	h := &harness{t: t, engine: NewRouter(deps), db: db, notifier: notifier, images: images}
	w := h.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": adminEmail, "password": adminPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h.admin = h.data(w)["token"].(string)
	return h
}

func (h *harness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *harness) envelope(w *httptest.ResponseRecorder) map[string]any {
	h.t.Helper()
	var out map[string]any
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) data(w *httptest.ResponseRecorder) map[string]any {
	h.t.Helper()
	d, ok := h.envelope(w)["data"].(map[string]any)
	require.True(h.t, ok, "no data object in %s", w.Body.String())
	return d
}

func (h *harness) createProduct(name string, price float64, stock int) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/products", h.admin, map[string]any{
		"name":        name,
		"price":       price,
		"stock":       stock,
		"category":    "standard",
		"description": "Roasted fox nuts",
		"image":       "http://x/y.jpg",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return h.data(w)["id"].(string)
}

func (h *harness) customerToken(email string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": email, "password": "secret1", "name": "Asha"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	w = h.do(http.MethodPost, "/api/auth/user-login", "", map[string]any{"email": email, "password": "secret1"})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return h.data(w)["token"].(string)
}

func orderBody(productID string, qty int) map[string]any {
	return map[string]any{
		"customerName": "A",
		"phone":        "123",
		"address":      "X",
		"lineItems":    []map[string]any{{"productId": productID, "quantity": qty}},
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, h.envelope(w)["success"])

	w = h.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"success": false, "message": "Route not found"}, h.envelope(w))
}

func TestCheckoutScenario(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 10)

	w := h.do(http.MethodGet, "/api/products/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.Equal(t, float64(10), h.data(w)["stock"])
	assert.Equal(t, true, h.data(w)["inStock"])

	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 3))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := h.data(w)
	assert.Equal(t, float64(1497), order["totalAmount"])
	assert.Equal(t, "pending", order["status"])
	assert.Regexp(t, `^ORD-\d{8}-[A-Z2-7]{8}$`, order["orderNumber"])
	assert.NotContains(t, order, "userId")

	w = h.do(http.MethodGet, "/api/products/"+id, "", nil)
	assert.Equal(t, float64(7), h.data(w)["stock"])

	w = h.do(http.MethodGet, "/api/orders/"+order["id"].(string), h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order["orderNumber"], h.data(w)["orderNumber"])
}

func TestProducts_AdminGuard(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"name": "x"}

	w := h.do(http.MethodPost, "/api/products", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authorized, no token", h.envelope(w)["message"])

	w = h.do(http.MethodPost, "/api/products", "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	customer := h.customerToken("buyer@example.com")
	w = h.do(http.MethodPost, "/api/products", customer, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Not authorized as admin", h.envelope(w)["message"])
}

func TestProducts_UpdateZeroPriceAndDelete(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 10)

	w := h.do(http.MethodPut, "/api/products/"+id, h.admin, map[string]any{"price": 0, "featured": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(0), h.data(w)["price"])
	assert.Equal(t, true, h.data(w)["featured"])
	assert.Equal(t, "Classic Makhana", h.data(w)["name"])

	w = h.do(http.MethodPut, "/api/products/"+id, h.admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No fields to update", h.envelope(w)["message"])

	w = h.do(http.MethodPut, "/api/products/"+id, h.admin, map[string]any{"category": "spicy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodDelete, "/api/products/"+id, h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Product deleted successfully", h.envelope(w)["message"])

	w = h.do(http.MethodGet, "/api/products/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Product not found", h.envelope(w)["message"])

	w = h.do(http.MethodDelete, "/api/products/"+id, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProducts_CreateValidation(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/products", h.admin, map[string]any{
		"name": "No price", "description": "d", "category": "standard", "image": "i",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"success": false, "message": "price is required"}, h.envelope(w))
}

func TestProducts_ListPagination(t *testing.T) {
	h := newHarness(t)
	for _, n := range []string{"a", "b", "c"} {
		h.createProduct(n, 100, 1)
	}

	w := h.do(http.MethodGet, "/api/products?page=2&limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := h.envelope(w)
	assert.Equal(t, float64(1), env["count"])
	assert.Equal(t, float64(3), env["total"])
	assert.Equal(t, float64(2), env["page"])
	assert.Equal(t, float64(2), env["pages"])

	w = h.do(http.MethodGet, "/api/products?page=9", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, h.envelope(w)["data"])
	assert.Equal(t, float64(3), h.envelope(w)["total"])

	for _, q := range []string{"page=0", "limit=-1", "page=x", "featured=maybe", "category=spicy"} {
		w = h.do(http.MethodGet, "/api/products?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = h.do(http.MethodGet, "/api/products?category=premium&inStock=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), h.envelope(w)["total"])
}

func TestOrders_Rejections(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 1)

	w := h.do(http.MethodPost, "/api/orders", "", orderBody("missing", 1))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Product not found: missing", h.envelope(w)["message"])

	empty := orderBody(id, 1)
	empty["lineItems"] = []any{}
	w = h.do(http.MethodPost, "/api/orders", "", empty)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 2))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, h.envelope(w)["message"], "Insufficient stock")

	assert.Equal(t, 0, h.db.Len("orders"))
}

func TestOrders_AttachesCustomer(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 5)
	customer := h.customerToken("buyer@example.com")

	w := h.do(http.MethodPost, "/api/orders", customer, orderBody(id, 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, h.data(w)["userId"])

	// an invalid token on the guest route is ignored
	w = h.do(http.MethodPost, "/api/orders", "garbage", orderBody(id, 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, h.data(w), "userId")
}

func TestOrders_AdminLifecycle(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 5)
	w := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 1))
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := h.data(w)["id"].(string)

	w = h.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for i := 0; i < 2; i++ {
		w = h.do(http.MethodPut, "/api/orders/"+orderID+"/status", h.admin, map[string]any{"status": "shipped"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "shipped", h.data(w)["status"])
	}
	w = h.do(http.MethodPut, "/api/orders/"+orderID+"/status", h.admin, map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPut, "/api/orders/"+orderID+"/payment-status", h.admin, map[string]any{"paymentStatus": "paid"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "paid", h.data(w)["paymentStatus"])

	w = h.do(http.MethodGet, "/api/orders?status=shipped", h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), h.envelope(w)["count"])

	w = h.do(http.MethodGet, "/api/orders?status=bogus", h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodDelete, "/api/orders/"+orderID, h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, "/api/orders/"+orderID, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Order not found", h.envelope(w)["message"])
}

func TestOrders_IdempotencyKey(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 10)

	first := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 2), IdempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 2), IdempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, h.db.Len("orders"))

	w := h.do(http.MethodGet, "/api/products/"+id, "", nil)
	assert.Equal(t, float64(8), h.data(w)["stock"])

	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 5), IdempotencyHeader, "checkout-1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrders_IdempotencyRetriesFailedAttempt(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 1)

	w := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 2), IdempotencyHeader, "retry-me")
	require.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPut, "/api/products/"+id, h.admin, map[string]any{"stock": 5})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 2), IdempotencyHeader, "retry-me")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAuth_LoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)
	h.customerToken("buyer@example.com")

	for _, path := range []string{"/api/auth/login", "/api/auth/user-login"} {
		wrong := h.do(http.MethodPost, path, "", map[string]any{"email": adminEmail, "password": "nope-nope"})
		ghost := h.do(http.MethodPost, path, "", map[string]any{"email": "ghost@example.com", "password": "nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, wrong.Code, path)
		assert.Equal(t, wrong.Code, ghost.Code, path)
		assert.Equal(t, wrong.Body.Bytes(), ghost.Body.Bytes(), path)
		assert.Equal(t, "Invalid email or password", h.envelope(wrong)["message"])
	}

	w := h.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "buyer@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_RegisterVerifyMe(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "New@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "new@example.com", h.data(w)["email"])
	assert.Equal(t, "new", h.data(w)["name"])

	w = h.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "new@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Email already registered", h.envelope(w)["message"])

	token := h.notifier.last().Token
	w = h.do(http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, h.data(w)["emailVerified"])
	session := h.data(w)["token"].(string)

	w = h.do(http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": token})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired verification token", h.envelope(w)["message"])

	w = h.do(http.MethodPost, "/api/auth/resend-verification", "", map[string]any{"email": "new@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email already verified", h.envelope(w)["message"])

	w = h.do(http.MethodGet, "/api/auth/me", session, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new@example.com", h.data(w)["email"])
	assert.NotContains(t, h.data(w), "passwordHash")

	w = h.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_Google(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"googleId": "g-1", "email": "g@example.com", "name": "Gita", "image": "http://img/a.png"}

	w := h.do(http.MethodPost, "/api/auth/google", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := h.data(w)
	assert.Equal(t, true, first["emailVerified"])
	assert.Equal(t, "http://img/a.png", first["image"])

	body["name"] = "Changed"
	w = h.do(http.MethodPost, "/api/auth/google", "", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first["id"], h.data(w)["id"])
	assert.Equal(t, "Gita", h.data(w)["name"])

	w = h.do(http.MethodPost, "/api/auth/google", "", map[string]any{"email": "g@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInternalErrorsHiddenInProduction(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Options.Production = true })
	h.db.FailNext("Scan", errors.New("dynamodb: table scan exploded"))

	w := h.do(http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]any{"success": false, "message": "Server error"}, h.envelope(w))
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func multipartImage(t *testing.T, field string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "photo.bin")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (h *harness) upload(token, field string, content []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	body, ct := multipartImage(h.t, field, content)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/image", body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func TestUploadImage(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Options.MaxUploadBytes = 1 << 20 })

	w := h.upload(h.admin, "image", pngHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	url := h.data(w)["url"].(string)
	key := h.data(w)["key"].(string)
	assert.Regexp(t, `^products/[0-9a-f-]{36}\.png$`, key)
	assert.Equal(t, "https://cdn.example.com/"+key, url)
	assert.Equal(t, pngHeader, h.images.objects[key])

	w = h.upload(h.admin, "image", []byte("just some text, not a picture"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Only image files are allowed", h.envelope(w)["message"])

	w = h.upload(h.admin, "file", pngHeader)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Image file is required", h.envelope(w)["message"])

	big := append(append([]byte{}, pngHeader...), make([]byte, 2<<20)...)
	w = h.upload(h.admin, "image", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = h.upload("", "image", pngHeader)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProducts_HugePageIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.createProduct("a", 100, 1)

	w := h.do(http.MethodGet, "/api/products?page=288230376151711745", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := h.envelope(w)
	assert.Equal(t, []any{}, env["data"])
	assert.Equal(t, float64(1), env["total"])
}

func TestOrders_OversizedQuantityLeavesStockIntact(t *testing.T) {
	h := newHarness(t)
	id := h.createProduct("Classic Makhana", 499, 10)

	body := orderBody(id, 1)
	body["lineItems"] = []map[string]any{
		{"productId": id, "quantity": math.MaxInt64},
		{"productId": id, "quantity": 1},
	}
	w := h.do(http.MethodPost, "/api/orders", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// each line is in range but the merged quantity is not
	body["lineItems"] = []map[string]any{
		{"productId": id, "quantity": orders.MaxLineQuantity},
		{"productId": id, "quantity": 1},
	}
	w = h.do(http.MethodPost, "/api/orders", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/api/products/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(10), h.data(w)["stock"])
	assert.Equal(t, 0, h.db.Len("orders"))
}

// cancelAwareDB fails updates issued on a cancelled context, as the real
// client does.
type cancelAwareDB struct {
	*dynamotest.Fake
}

func (d cancelAwareDB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Fake.UpdateItem(ctx, in, optFns...)
}

func TestOrders_IdempotencyRecordedAfterClientDisconnect(t *testing.T) {
	idem := dynamotest.New().CreateTable("idempotency", "idempotency_key")
	h := newHarness(t, func(d *Deps) {
		d.Idempotency = idempotency.NewStore(cancelAwareDB{idem}, "idempotency", 48*time.Hour)
	})
	id := h.createProduct("Classic Makhana", 499, 10)

	// same encoding as h.do, so the retry carries an identical body
	var raw bytes.Buffer
	require.NoError(t, json.NewEncoder(&raw).Encode(orderBody(id, 1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", &raw).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, "gone-away")
	first := httptest.NewRecorder()
	h.engine.ServeHTTP(first, req)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	location := first.Header().Get("Location")
	require.NotEmpty(t, location)

	replay := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 1), IdempotencyHeader, "gone-away")
	require.Equal(t, http.StatusCreated, replay.Code, replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, location, replay.Header().Get("Location"))
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, h.db.Len("orders"))
}

func TestOrders_UnfinishedIdempotencyClaimBlocksUntilLease(t *testing.T) {
	idem := dynamotest.New().CreateTable("idempotency", "idempotency_key")
	store := idempotency.NewStore(idem, "idempotency", 48*time.Hour).WithLease(time.Hour)
	h := newHarness(t, func(d *Deps) { d.Idempotency = store })
	id := h.createProduct("Classic Makhana", 499, 10)

	idem.FailNext("UpdateItem", errors.New("throttled"))
	w := h.do(http.MethodPost, "/api/orders", "", orderBody(id, 1), IdempotencyHeader, "stuck")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 1), IdempotencyHeader, "stuck")
	assert.Equal(t, http.StatusConflict, w.Code)

	// once the lease is over the key is usable again
	store.WithLease(time.Nanosecond)
	w = h.do(http.MethodPost, "/api/orders", "", orderBody(id, 1), IdempotencyHeader, "stuck")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
