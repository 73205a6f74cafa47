package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/app/harvester"
	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
	"github.com/lenderfeed/rate-harvester/internal/pkg/store"
)

type stubLock struct{ held bool }

func (l *stubLock) Acquire(context.Context) (string, error) {
	if l.held {
		return "", model.ErrRunInProgress
	}
	l.held = true
	return "token", nil
}

func (l *stubLock) Release(context.Context, string) error {
	l.held = false
	return nil
}

func newTestApp(t *testing.T) (*fiber.App, *store.Memory, *stubLock) {
	t.Helper()
	mem := store.NewMemory()
	lock := &stubLock{}

	registry := harvester.NewRegistry() // no brands registered
	engine := harvester.NewEngine(mem, zap.NewNop())
	svc := harvester.NewService(mem, registry, engine, lock, harvester.ServiceConfig{
		Workers: 1, Staleness: time.Hour, RunDeadline: time.Minute,
	}, zap.NewNop())

	app := fiber.New()
	RegisterRoutes(app, NewHandler(svc, mem, zap.NewNop()))
	return app, mem, lock
}

func seedLiveRate(t *testing.T, mem *store.Memory) model.Product {
	t.Helper()
	brand, err := mem.EnsureBrand(context.Background(), "testbank", "Test Bank")
	require.NoError(t, err)
	p, err := mem.FindOrCreateProduct(context.Background(), brand.ID, "loan-1", model.ProductAttrs{
		Name: "Test Loan", Channel: model.ChannelRetail, Purpose: model.PurposeAny,
	})
	require.NoError(t, err)

	lvr := decimal.RequireFromString("0.8")
	require.NoError(t, mem.ApplyReconciliation(context.Background(), p.ID, time.Now(), nil,
		[]model.TierCandidate{{RateType: model.RateTypeVariable, AnnualRate: decimal.RequireFromString("5.89"), LVRMax: &lvr}}))
	return p
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestTriggerHarvest(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/harvest", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(0), body["products_processed"])
}

func TestTriggerHarvestWhileRunning(t *testing.T) {
	app, mem, lock := newTestApp(t)
	seedLiveRate(t, mem)
	lock.held = true

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/harvest", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "run already in progress", body["error"])
}

func TestListProducts(t *testing.T) {
	app, mem, _ := newTestApp(t)
	seedLiveRate(t, mem)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/products?top=5", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
	products := body["products"].([]any)
	product := products[0].(map[string]any)
	assert.Equal(t, "Test Loan", product["name"])
	rates := product["rates"].([]any)
	require.Len(t, rates, 1)
	assert.Equal(t, "5.89", rates[0].(map[string]any)["annual_rate"])
}

func TestListLiveRates(t *testing.T) {
	app, mem, _ := newTestApp(t)
	seedLiveRate(t, mem)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["count"])
	row := body["rates"].([]any)[0].(map[string]any)
	assert.Equal(t, "testbank", row["brand_code"])
	assert.Equal(t, "5.89", row["annual_rate"])
}

func TestGetRawSnapshot(t *testing.T) {
	app, mem, _ := newTestApp(t)
	p := seedLiveRate(t, mem)
	require.NoError(t, mem.UpsertRawProduct(context.Background(), p.ID, []byte(`{"raw":true}`), time.Now()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/products/1/raw", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, `{"raw":true}`, body["payload"])
}

func TestGetRawSnapshotNotFound(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/products/99/raw", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
