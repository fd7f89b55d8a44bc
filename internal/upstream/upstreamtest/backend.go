// Package upstreamtest provides an in-memory stand-in for the REST backend.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Token is the API token the fake backend accepts.
const Token = "test-token"

// Backend serves products, parties and invoices from memory.
type Backend struct {
	*httptest.Server

	mu        sync.Mutex
	products  []map[string]any
	customers []map[string]any
	suppliers []map[string]any
	invoices  map[string]map[int64]map[string]any
	created   []map[string]any
	nextID    int64
	failGet   bool
	createErr string
	delay     time.Duration
}

// New starts a backend seeded with two products, one customer and one
// supplier. It is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		products: []map[string]any{
			{"id": 1, "name": "قميص", "selling_price": 1000.0, "purchase_price": 700.0, "unit": "قطعة", "stock_quantity": 10},
			{"id": 2, "name": "وشاح", "selling_price": 500.0, "purchase_price": 300.0, "unit": "قطعة", "stock_quantity": 4},
		},
		customers: []map[string]any{{"id": 3, "name": "شركة النور", "phone": "07700000000", "balance": 0}},
		suppliers: []map[string]any{{"id": 4, "name": "مورد الشمال", "phone": nil, "balance": 0}},
		invoices:  map[string]map[int64]map[string]any{"sales": {}, "purchases": {}},
		nextID:    100,
	}

	r := chi.NewRouter()
	r.Post("/auth/login", b.login)
	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)
		r.Get("/auth/profile", b.profile)
		r.Get("/products", b.list("products"))
		r.Get("/customers", b.list("customers"))
		r.Get("/suppliers", b.list("suppliers"))
		r.Post("/{kind}/invoices", b.create)
		r.Get("/{kind}/invoices/{id}", b.get)
	})
	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// Seed stores a persisted invoice. kind is "sales" or "purchases".
func (b *Backend) Seed(kind string, id int64, record map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record["id"] = id
	b.invoices[kind][id] = record
}

// Created returns the create payloads received so far.
func (b *Backend) Created() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.created))
	copy(out, b.created)
	return out
}

// FailInvoiceReads makes every invoice fetch fail with a server error.
func (b *Backend) FailInvoiceReads() {
	b.mu.Lock()
	b.failGet = true
	b.mu.Unlock()
}

// RejectCreates makes invoice creation fail with a 400 carrying msg.
func (b *Backend) RejectCreates(msg string) {
	b.mu.Lock()
	b.createErr = msg
	b.mu.Unlock()
}

// SlowCreates delays invoice creation by d.
func (b *Backend) SlowCreates(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Token has expired"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Username != "admin" || req.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "اسم المستخدم أو كلمة المرور غير صحيحة"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": Token, "user": account()})
}

func (b *Backend) profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": account()})
}

func account() map[string]any {
	return map[string]any{"id": 1, "username": "admin", "full_name": "مدير النظام", "role": "admin"}
}

func (b *Backend) list(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var rows []map[string]any
		switch name {
		case "products":
			rows = b.products
		case "customers":
			rows = b.customers
		case "suppliers":
			rows = b.suppliers
		}
		writeJSON(w, http.StatusOK, map[string]any{name: rows})
	}
}

func (b *Backend) create(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "بيانات غير صالحة"})
		return
	}

	b.mu.Lock()
	delay, rejection := b.delay, b.createErr
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if rejection != "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": rejection})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.invoices[kind]
	if !ok {
		http.NotFound(w, r)
		return
	}
	b.nextID++
	id := b.nextID
	prefix := "S"
	partyKey := "customer"
	if kind == "purchases" {
		prefix = "P"
		partyKey = "supplier"
	}
	number := fmt.Sprintf("%s%06d", prefix, id)
	b.created = append(b.created, payload)
	bucket[id] = b.persist(payload, id, number, partyKey)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "ok", "invoice_id": id, "invoice_number": number})
}

// persist derives the stored record the way the backend would.
func (b *Backend) persist(payload map[string]any, id int64, number, partyKey string) map[string]any {
	subtotal := 0.0
	var items []map[string]any
	rawItems, _ := payload["items"].([]any)
	for i, raw := range rawItems {
		line, _ := raw.(map[string]any)
		qty, _ := line["quantity"].(float64)
		price, _ := line["unit_price"].(float64)
		pid, _ := line["product_id"].(float64)
		total := qty * price
		subtotal += total
		items = append(items, map[string]any{
			"id":          i + 1,
			"product":     map[string]any{"id": pid, "name": b.productName(int64(pid))},
			"color":       line["color"],
			"quantity":    qty,
			"unit_price":  price,
			"total_price": total,
		})
	}
	pct, _ := payload["discount_percentage"].(float64)
	discount, _ := payload["discount"].(float64)
	if pct > 0 {
		discount = subtotal * pct / 100
	}
	tax, _ := payload["tax"].(float64)
	final := subtotal - discount + tax
	if final < 0 {
		final = 0
	}

	var party any
	for _, key := range []string{"customer_id", "supplier_id"} {
		if v, ok := payload[key].(float64); ok {
			party = b.partyByID(int64(v))
		}
	}

	return map[string]any{
		"id":                  id,
		"invoice_number":      number,
		partyKey:              party,
		"payment_type":        payload["payment_type"],
		"status":              "completed",
		"total_amount":        subtotal,
		"discount_percentage": pct,
		"discount":            discount,
		"final_amount":        final,
		"notes":               payload["notes"],
		"created_at":          "2025-03-14T16:05:09",
		"items":               items,
	}
}

func (b *Backend) productName(id int64) string {
	for _, p := range b.products {
		if toInt(p["id"]) == id {
			name, _ := p["name"].(string)
			return name
		}
	}
	return ""
}

func (b *Backend) partyByID(id int64) any {
	for _, p := range append(append([]map[string]any{}, b.customers...), b.suppliers...) {
		if toInt(p["id"]) == id {
			return map[string]any{"id": id, "name": p["name"], "phone": p["phone"]}
		}
	}
	return nil
}

func (b *Backend) get(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failGet {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	record, ok := b.invoices[kind][id]
	if !ok {
		msg := "الفاتورة غير موجودة"
		if strings.HasPrefix(kind, "purchase") {
			msg = "فاتورة الشراء غير موجودة"
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": msg})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
