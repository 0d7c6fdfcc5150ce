package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/resto-orders/internal/auth"
	"github.com/ariefcatur/resto-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type fakeValidator struct {
	calls int
	err   error
}

func (f *fakeValidator) Validate(_ context.Context, req orders.CreateRequest) (orders.ValidOrder, error) {
	f.calls++
	if f.err != nil {
		return orders.ValidOrder{}, f.err
	}
	out := orders.ValidOrder{UserID: req.UserID, SpecialRequests: req.SpecialRequests}
	for _, it := range req.Items {
		out.Items = append(out.Items, orders.ValidItem{DishID: it.DishID, Quantity: it.Quantity, Price: decimal.RequireFromString("9.99")})
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	orders  map[int64]*orders.Order
	nextID  int64
	err     error
	updated []orders.Status
}

func newFakeStore() *fakeStore { return &fakeStore{orders: map[int64]*orders.Order{}, nextID: 10} }

func (f *fakeStore) Create(_ context.Context, v orders.ValidOrder) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return orders.Order{}, f.err
	}
	o := orders.Order{ID: f.nextID, UserID: v.UserID, Status: orders.StatusPending, SpecialRequests: v.SpecialRequests}
	for _, it := range v.Items {
		o.Items = append(o.Items, orders.LineItem{OrderID: o.ID, DishID: it.DishID, Quantity: it.Quantity, Price: it.Price})
	}
	f.orders[o.ID] = &o
	f.nextID++
	return o, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, to orders.Status) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !to.Valid() {
		return orders.Order{}, &orders.ValidationError{Kind: orders.ErrMalformed, Reason: "unknown status"}
	}
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if !orders.CanTransition(o.Status, to) {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	f.updated = append(f.updated, to)
	return *o, nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID int64) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []orders.Order{}
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakeMenu struct{ dishes []orders.Dish }

func (f *fakeMenu) ListAvailable(context.Context) ([]orders.Dish, error) { return f.dishes, nil }

func (f *fakeMenu) AddDish(_ context.Context, d orders.NewDish) (orders.Dish, error) {
	out := orders.Dish{ID: int64(len(f.dishes) + 1), Name: d.Name, Price: d.Price, Quantity: d.Quantity}
	f.dishes = append(f.dishes, out)
	return out, nil
}

func (f *fakeMenu) Restock(_ context.Context, id int64, delta int) (orders.Dish, error) {
	for i := range f.dishes {
		if f.dishes[i].ID == id {
			f.dishes[i].Quantity += delta
			return f.dishes[i], nil
		}
	}
	return orders.Dish{}, orders.ErrDishNotFound
}

type fakeIdem struct{ keys map[string]int64 }

func (f *fakeIdem) Lookup(_ context.Context, key string) (int64, bool, error) {
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdem) Remember(_ context.Context, key string, id int64) error {
	f.keys[key] = id
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

type fakeAuth struct {
	users    map[string]auth.User
	sessions map[string]int64
	expired  map[string]bool
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users: map[string]auth.User{
			"cust@example.com": {ID: 5, Username: "cust", Email: "cust@example.com", Role: auth.RoleCustomer},
			"chef@example.com": {ID: 6, Username: "chef", Email: "chef@example.com", Role: auth.RoleChef},
			"boss@example.com": {ID: 7, Username: "boss", Email: "boss@example.com", Role: auth.RoleManager},
		},
		sessions: map[string]int64{"cust-token": 5, "chef-token": 6, "boss-token": 7},
		expired:  map[string]bool{"old-token": true},
	}
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (auth.User, error) {
	if f.expired[token] {
		return auth.User{}, auth.ErrSessionExpired
	}
	id, ok := f.sessions[token]
	if !ok {
		return auth.User{}, auth.ErrUnauthorized
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUnauthorized
}

func (f *fakeAuth) Register(_ context.Context, actor *auth.User, in auth.RegisterInput) (auth.User, error) {
	if in.Password == "" {
		return auth.User{}, &auth.InputError{Fields: []string{"password (required)"}}
	}
	if _, ok := f.users[in.Email]; ok {
		return auth.User{}, auth.ErrUserExists
	}
	u := auth.User{ID: int64(len(f.users) + 10), Username: in.Username, Email: in.Email, Role: auth.GrantableRole(actor, in.Role), PasswordHash: "secret-hash"}
	f.users[in.Email] = u
	return u, nil
}

func (f *fakeAuth) Login(_ context.Context, in auth.LoginInput) (auth.Session, error) {
	u, ok := f.users[in.Email]
	if !ok || in.Password != "pelmeni" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	tok := "tok-" + u.Username
	f.sessions[tok] = u.ID
	return auth.Session{UserID: u.ID, Token: tok, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

type harness struct {
	router    *chi.Mux
	validator *fakeValidator
	store     *fakeStore
	menu      *fakeMenu
	idem      *fakeIdem
	created   *fakePublisher
	status    *fakePublisher
	auth      *fakeAuth
}

func newHarness() *harness {
	h := &harness{
		validator: &fakeValidator{},
		store:     newFakeStore(),
		menu:      &fakeMenu{dishes: []orders.Dish{{ID: 1, Name: "Borscht", Price: decimal.RequireFromString("9.99"), Quantity: 2}}},
		idem:      &fakeIdem{keys: map[string]int64{}},
		created:   &fakePublisher{},
		status:    &fakePublisher{},
		auth:      newFakeAuth(),
	}
	h.router = NewRouter(time.Second)
	session := RequireSession(h.auth)
	(&OrdersHandler{
		Validator: h.validator,
		Store:     h.store,
		Reader:    h.store,
		Menu:      h.menu,
		Idem:      h.idem,
		Created:   h.created,
		Status:    h.status,
		Service:   "order-api",
	}).Register(h.router, session)
	(&AuthHandler{Auth: h.auth, Orders: h.store}).Register(h.router, session)
	return h
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const orderBody = `{"user_id":5,"dishes":[{"dish_id":1,"quantity":2}]}`

func TestCreateOrder(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodPost, "/orders", orderBody, "X-Request-Id", "req-42")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[CreateOrderResp](t, rec)
	if resp.OrderID != 10 || resp.Status != orders.StatusPending {
		t.Fatalf("resp = %+v", resp)
	}

	if len(h.created.msgs) != 1 {
		t.Fatalf("events published = %d, want 1", len(h.created.msgs))
	}
	m := h.created.msgs[0]
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		t.Fatal(err)
	}
	if string(m.Key) != "10" || env.EventType != orders.EventOrderCreated || env.CorrelationID != "10" || env.TraceID != "req-42" {
		t.Fatalf("event = key %s %+v", m.Key, env)
	}
	var p orders.OrderCreatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Total.Equal(decimal.RequireFromString("19.98")) || len(p.Items) != 1 {
		t.Fatalf("payload = %+v", p)
	}

	get := h.do(http.MethodGet, "/orders/10", "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}
	o := decodeBody[orders.Order](t, get)
	if len(o.Items) != 1 || o.Items[0].DishID != 1 || o.Items[0].Quantity != 2 || !o.Items[0].Price.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("round trip items = %+v", o.Items)
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		valErr    error
		storeErr  error
		wantCode  int
		wantInMsg string
	}{
		{"bad json", `{"user_id":`, nil, nil, http.StatusBadRequest, "invalid json"},
		{"malformed", orderBody, &orders.ValidationError{Kind: orders.ErrMalformed, Reason: "order has no dishes"}, nil, http.StatusBadRequest, "order has no dishes"},
		{"unavailable", orderBody, &orders.ValidationError{Kind: orders.ErrDishUnavailable, Shortfalls: []orders.Shortfall{{DishID: 1, Requested: 3, Available: 2}}}, nil, http.StatusBadRequest, `"unavailable":[{"dish_id":1,"requested":3,"available":2}]`},
		{"sold out under lock", orderBody, nil, &orders.ValidationError{Kind: orders.ErrDishUnavailable, Shortfalls: []orders.Shortfall{{DishID: 1, Requested: 2}}}, http.StatusBadRequest, "unavailable dishes"},
		{"storage failure", orderBody, nil, &orders.StoreError{Op: "commit", Err: errors.New("pq: conn reset")}, http.StatusInternalServerError, "failed to create order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.validator.err = tt.valErr
			h.store.err = tt.storeErr

			rec := h.do(http.MethodPost, "/orders", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.wantInMsg) {
				t.Fatalf("body %s does not contain %s", rec.Body, tt.wantInMsg)
			}
			if strings.Contains(rec.Body.String(), "conn reset") {
				t.Fatalf("internal error leaked: %s", rec.Body)
			}
			if len(h.created.msgs) != 0 {
				t.Fatal("event published for rejected order")
			}
		})
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	h := newHarness()
	first := h.do(http.MethodPost, "/orders", orderBody, "Idempotency-Key", "abc")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := h.do(http.MethodPost, "/orders", orderBody, "Idempotency-Key", "abc")
	if second.Code != http.StatusOK {
		t.Fatalf("replay status = %d", second.Code)
	}
	if resp := decodeBody[CreateOrderResp](t, second); resp.OrderID != 10 {
		t.Fatalf("replay order = %d", resp.OrderID)
	}
	if h.validator.calls != 1 || len(h.created.msgs) != 1 || len(h.store.orders) != 1 {
		t.Fatalf("replay reprocessed: validations=%d events=%d orders=%d", h.validator.calls, len(h.created.msgs), len(h.store.orders))
	}
}

func TestGetOrder(t *testing.T) {
	h := newHarness()
	tests := []struct {
		path string
		want int
	}{
		{"/orders/abc", http.StatusBadRequest},
		{"/orders/0", http.StatusBadRequest},
		{"/orders/999", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := h.do(http.MethodGet, tt.path, ""); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness()
	if rec := h.do(http.MethodPost, "/orders", orderBody); rec.Code != http.StatusCreated {
		t.Fatalf("seed order: %d", rec.Code)
	}

	tests := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{"no session", "", `{"status":"fulfilled"}`, http.StatusUnauthorized},
		{"expired session", "old-token", `{"status":"fulfilled"}`, http.StatusUnauthorized},
		{"customer", "cust-token", `{"status":"fulfilled"}`, http.StatusForbidden},
		{"unknown status", "chef-token", `{"status":"cooking"}`, http.StatusBadRequest},
		{"chef fulfils", "Bearer chef-token", `{"status":"fulfilled"}`, http.StatusOK},
		{"terminal", "boss-token", `{"status":"cancelled"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPut, "/orders/10/status", tt.body, "Authorization", tt.token)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	if len(h.status.msgs) != 1 {
		t.Fatalf("status events = %d, want 1", len(h.status.msgs))
	}
	var env orders.Envelope
	_ = json.Unmarshal(h.status.msgs[0].Value, &env)
	var p orders.OrderStatusChangedPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Status != orders.StatusFulfilled || p.ChangedBy != 6 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMenu(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodGet, "/menu", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ds := decodeBody[[]orders.Dish](t, rec); len(ds) != 1 || ds[0].Name != "Borscht" {
		t.Fatalf("menu = %+v", ds)
	}

	if rec := h.do(http.MethodPost, "/menu", `{"name":"Kvass","price":"2.50","quantity":5}`, "Authorization", "chef-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("chef add dish = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/menu", `{"price":"2.50"}`, "Authorization", "boss-token"); rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless dish = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/menu", `{"name":"Kvass","price":"2.50","quantity":5}`, "Authorization", "boss-token"); rec.Code != http.StatusCreated {
		t.Fatalf("add dish = %d (%s)", rec.Code, rec.Body)
	}
	rec = h.do(http.MethodPut, "/menu/1/stock", `{"delta":3}`, "Authorization", "boss-token")
	if rec.Code != http.StatusOK || decodeBody[orders.Dish](t, rec).Quantity != 5 {
		t.Fatalf("restock = %d (%s)", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodPut, "/menu/99/stock", `{"delta":3}`, "Authorization", "boss-token"); rec.Code != http.StatusNotFound {
		t.Fatalf("restock unknown = %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	h := newHarness()

	if rec := h.do(http.MethodPost, "/api/register", `{"username":"new","email":"new@example.com","password":"pelmeni"}`); rec.Code != http.StatusCreated {
		t.Fatalf("register = %d", rec.Code)
	} else if strings.Contains(rec.Body.String(), "secret-hash") {
		t.Fatalf("password hash serialized: %s", rec.Body)
	}
	if rec := h.do(http.MethodPost, "/api/register", `{"username":"new","email":"new@example.com","password":"pelmeni"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/register", `{"username":"x","email":"x@example.com"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid register = %d", rec.Code)
	}

	if rec := h.do(http.MethodPost, "/api/login", `{"email":"new@example.com","password":"nope"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d", rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/login", `{"email":"new@example.com","password":"pelmeni"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d", rec.Code)
	}
	tok := decodeBody[loginResp](t, rec).Token

	for _, header := range []string{tok, "Bearer " + tok} {
		rec := h.do(http.MethodGet, "/api/user", "", "Authorization", header)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /api/user with %q = %d", header, rec.Code)
		}
		if u := decodeBody[auth.User](t, rec); u.Email != "new@example.com" {
			t.Fatalf("user = %+v", u)
		}
	}

	if rec := h.do(http.MethodGet, "/api/user", "", "Authorization", "old-token"); rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "session expired") {
		t.Fatalf("expired = %d %s", rec.Code, rec.Body)
	}

	if rec := h.do(http.MethodPost, "/api/logout", "", "Authorization", tok); rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/api/user", "", "Authorization", tok); rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout = %d", rec.Code)
	}
}

func TestRegister_SelfSignupCannotGrantStaffRole(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/api/register", `{"username":"sneaky","email":"sneaky@example.com","password":"pelmeni","role":"manager"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d (%s)", rec.Code, rec.Body)
	}
	if u := decodeBody[auth.User](t, rec); u.Role != auth.RoleCustomer {
		t.Fatalf("self sign-up role = %q, want customer", u.Role)
	}

	rec = h.do(http.MethodPost, "/api/login", `{"email":"sneaky@example.com","password":"pelmeni"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d", rec.Code)
	}
	tok := decodeBody[loginResp](t, rec).Token

	if rec := h.do(http.MethodPost, "/menu", `{"name":"Kvass","price":"2.50","quantity":5}`, "Authorization", tok); rec.Code != http.StatusForbidden {
		t.Fatalf("POST /menu as self-registered manager = %d, want 403", rec.Code)
	}
	if rec := h.do(http.MethodPut, "/menu/1/stock", `{"delta":3}`, "Authorization", tok); rec.Code != http.StatusForbidden {
		t.Fatalf("PUT stock as self-registered manager = %d, want 403", rec.Code)
	}
}

func TestRegister_ManagerCreatesStaff(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/api/register", `{"username":"cook","email":"cook@example.com","password":"pelmeni","role":"chef"}`, "Authorization", "Bearer boss-token")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d (%s)", rec.Code, rec.Body)
	}
	if u := decodeBody[auth.User](t, rec); u.Role != auth.RoleChef {
		t.Fatalf("role = %q, want chef", u.Role)
	}

	rec = h.do(http.MethodPost, "/api/register", `{"username":"cook2","email":"cook2@example.com","password":"pelmeni","role":"chef"}`, "Authorization", "old-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("register with expired session = %d, want 401", rec.Code)
	}
}

func TestMyOrders(t *testing.T) {
	h := newHarness()
	h.do(http.MethodPost, "/orders", orderBody)
	h.do(http.MethodPost, "/orders", `{"user_id":6,"dishes":[{"dish_id":1,"quantity":1}]}`)

	rec := h.do(http.MethodGet, "/api/user/orders", "", "Authorization", "cust-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if list := decodeBody[[]orders.Order](t, rec); len(list) != 1 || list[0].UserID != 5 {
		t.Fatalf("orders = %+v", list)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness()
	if rec := h.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body)
	}
}
