package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sufrahq/sufra/internal/activitylog"
	"github.com/sufrahq/sufra/internal/catalog"
	"github.com/sufrahq/sufra/internal/clock"
	"github.com/sufrahq/sufra/internal/config"
	"github.com/sufrahq/sufra/internal/delivery"
	"github.com/sufrahq/sufra/internal/fulfillment"
	"github.com/sufrahq/sufra/internal/ksatime"
	ledgerservice "github.com/sufrahq/sufra/internal/ledger/service"
	"github.com/sufrahq/sufra/internal/metrics"
	"github.com/sufrahq/sufra/internal/notify"
	"github.com/sufrahq/sufra/internal/order"
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	paymentrepo "github.com/sufrahq/sufra/internal/payment/repository"
	paymentservice "github.com/sufrahq/sufra/internal/payment/service"
	"github.com/sufrahq/sufra/internal/salad"
	"github.com/sufrahq/sufra/internal/settings"
	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
	subrepository "github.com/sufrahq/sufra/internal/subscription/repository"
	subservice "github.com/sufrahq/sufra/internal/subscription/service"
	"github.com/sufrahq/sufra/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tomorrow relative to the fixed clock is 2026-03-11; the fixture's 22:00
// cutoff keeps it editable at 09:00.
var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, ksatime.Location)

type fixture struct {
	db     *gorm.DB
	engine *gin.Engine
	repo   subdomain.Repository
	node   *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	fixed := clock.Fixed(testNow)
	cfg := config.Config{
		Environment:          "test",
		MoyasarWebhookSecret: "whsec_test",
		AppURL:               "https://app.test",
	}

	repo := subrepository.Provide()
	cat := catalog.Provide()
	set := settings.NewService(settings.Params{DB: db, Log: log})
	ledger := ledgerservice.NewService(ledgerservice.Params{Log: log})
	salads := salad.NewBuilder(salad.Params{Catalog: cat, Settings: set})
	met := metrics.NewWith(prometheus.NewRegistry())
	dispatcher := notify.NewDispatcher(notify.Params{DB: db, Node: node, Log: log})
	activity := activitylog.NewService(activitylog.Params{DB: db, Node: node, Log: log})
	orders := order.Provide()
	moyasarClient := moyasar.NewClient(moyasar.Params{Cfg: cfg, Log: log})

	subs := subservice.NewService(subservice.Params{
		DB: db, Repo: repo, Ledger: ledger, Settings: set,
		Catalog: cat, Salads: salads, Node: node, Clock: fixed, Log: log,
	})
	fulfill := fulfillment.NewService(fulfillment.Params{
		DB: db, Repo: repo, Subs: subs, Ledger: ledger,
		Deliveries: delivery.Provide(), Catalog: cat, Notifier: dispatcher,
		Metrics: met, Node: node, Clock: fixed, Log: log,
	})
	payments := paymentservice.NewService(paymentservice.Params{
		DB: db, Log: log, Node: node, Repo: paymentrepo.Provide(),
		Ledger: ledger, Subs: subs, Orders: orders,
		Moyasar: moyasarClient, Activity: activity, Metrics: met, Clock: fixed,
	})

	srv := NewServer(Params{
		Cfg: cfg, DB: db, Log: log,
		Subs: subs, Fulfill: fulfill, Payments: payments,
		Moyasar: moyasarClient, Orders: orders, Deliveries: delivery.Provide(),
		Settings: set, Catalog: cat, Activity: activity, Node: node, Clock: fixed,
		Limiter: NewLimiter(cfg, log),
	})
	engine := gin.New()
	srv.RegisterRoutes(engine)

	if err := set.Set(context.Background(), settings.KeyCutoffTime, "22:00"); err != nil {
		t.Fatalf("set cutoff: %v", err)
	}
	return &fixture{db: db, engine: engine, repo: repo, node: node}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRole, RoleAdmin)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func tptr(t time.Time) *time.Time { return &t }

func (f *fixture) seedActiveSub(t *testing.T) *subdomain.Subscription {
	t.Helper()
	plan := &subdomain.Plan{
		ID:            f.node.Generate(),
		Name:          "Lite 5",
		DaysCount:     5,
		MealsPerDay:   2,
		Price:         45000,
		SkipAllowance: 3,
		IsActive:      true,
	}
	if err := f.db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	sub := &subdomain.Subscription{
		ID:             f.node.Generate(),
		UserID:         f.node.Generate(),
		PlanID:         plan.ID,
		Status:         subdomain.SubscriptionStatusActive,
		StartDate:      tptr(time.Date(2026, 3, 9, 0, 0, 0, 0, ksatime.Location)),
		EndDate:        tptr(time.Date(2026, 3, 13, 0, 0, 0, 0, ksatime.Location)),
		TotalMeals:     10,
		RemainingMeals: 10,
		DeliveryMode:   subdomain.DeliveryModeDelivery,
		DeliveryWindow: "08:00-11:00",
	}
	if err := f.db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func (f *fixture) seedDay(t *testing.T, sub *subdomain.Subscription, date string, status subdomain.DayStatus) *subdomain.SubscriptionDay {
	t.Helper()
	day := &subdomain.SubscriptionDay{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Date:           date,
		Status:         status,
	}
	if err := f.db.Create(day).Error; err != nil {
		t.Fatalf("seed day: %v", err)
	}
	return day
}

func TestSkipDayOverHTTP(t *testing.T) {
	f := newFixture(t)
	sub := f.seedActiveSub(t)
	f.seedDay(t, sub, "2026-03-11", subdomain.DayStatusOpen)

	rec := f.request(t, http.MethodPost, "/api/subscriptions/"+sub.ID.String()+"/days/2026-03-11/skip", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	if data["outcome"] != "skipped" {
		t.Errorf("outcome = %v, want skipped", data["outcome"])
	}
}

func TestSkipBehindEditHorizonConflicts(t *testing.T) {
	f := newFixture(t)
	sub := f.seedActiveSub(t)
	f.seedDay(t, sub, "2026-03-10", subdomain.DayStatusOpen)

	rec := f.request(t, http.MethodPost, "/api/subscriptions/"+sub.ID.String()+"/days/2026-03-10/skip", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "cutoff_passed" {
		t.Errorf("error code = %q, want cutoff_passed", code)
	}
}

func TestUnknownSubscriptionIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/api/subscriptions/123456789", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "subscription_not_found" {
		t.Errorf("error code = %q", code)
	}
}

func TestUpdateSelectionsOverHTTP(t *testing.T) {
	f := newFixture(t)
	sub := f.seedActiveSub(t)
	f.seedDay(t, sub, "2026-03-11", subdomain.DayStatusOpen)
	meal := &catalog.Meal{ID: f.node.Generate(), Name: "grilled chicken", Type: catalog.MealTypeRegular, IsActive: true}
	if err := f.db.Create(meal).Error; err != nil {
		t.Fatalf("seed meal: %v", err)
	}

	rec := f.request(t, http.MethodPut,
		"/api/subscriptions/"+sub.ID.String()+"/days/2026-03-11/selections",
		gin.H{"selections": []string{meal.ID.String()}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	selections, _ := data["selections"].([]any)
	if len(selections) != 1 || selections[0] != meal.ID.String() {
		t.Errorf("selections = %v, want [%s]", selections, meal.ID.String())
	}
}

func TestWebhookBadSecretUnauthorized(t *testing.T) {
	f := newFixture(t)
	payload := gin.H{
		"id":           "evt_1",
		"type":         "invoice_paid",
		"secret_token": "wrong",
		"data":         gin.H{"id": "inv_1", "status": "paid", "amount": 45000},
	}
	rec := f.request(t, http.MethodPost, "/webhooks/moyasar", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "invalid_signature" {
		t.Errorf("error code = %q", code)
	}
}

func TestKitchenBoardFiltersByDate(t *testing.T) {
	f := newFixture(t)
	sub := f.seedActiveSub(t)
	f.seedDay(t, sub, "2026-03-11", subdomain.DayStatusLocked)
	f.seedDay(t, sub, "2026-03-12", subdomain.DayStatusOpen)

	rec := f.request(t, http.MethodGet, "/kitchen/board?date=2026-03-11", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("board entries = %d, want 1", len(data))
	}
	entry, _ := data[0].(map[string]any)
	if entry["date"] != "2026-03-11" || entry["status"] != "locked" {
		t.Errorf("entry = %v", entry)
	}
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPut, "/admin/settings/cutoff_time", gin.H{"value": "21:30"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.request(t, http.MethodGet, "/admin/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	data, _ := body["data"].(map[string]any)
	if data["cutoff_time"] != "21:30" {
		t.Errorf("cutoff_time = %v, want 21:30", data["cutoff_time"])
	}

	rec = f.request(t, http.MethodPut, "/admin/settings/cutoff_time", gin.H{"value": "25:99"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad cutoff status = %d, want 422", rec.Code)
	}

	rec = f.request(t, http.MethodPut, "/admin/settings/cutoff_last_run", gin.H{"value": "2026-03-10"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("checkpoint update status = %d, want 400", rec.Code)
	}
}

func TestStaffRoutesRejectMissingRole(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/kitchen/board", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRateLimitFailsClosedAtLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{}
	s := &Server{log: zap.NewNop(), limiter: NewLimiter(cfg, zap.NewNop())}

	engine := gin.New()
	engine.GET("/limited", s.RateLimit("test", 2), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": "ok"})
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
}
