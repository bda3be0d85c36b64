package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/avelios/anchor/internal/modules/positions"
	"github.com/avelios/anchor/internal/modules/simulation"
	"github.com/avelios/anchor/internal/modules/trading"
	apptesting "github.com/avelios/anchor/internal/testing"
)

type fixedMarket struct {
	price float64
}

func (m *fixedMarket) GetPrice(symbol string) (*domain.PriceQuote, error) {
	return &domain.PriceQuote{
		Symbol:        symbol,
		Price:         m.price,
		Timestamp:     time.Now().UTC(),
		IsMarketHours: true,
	}, nil
}

func (m *fixedMarket) GetHistorical(symbol string, start, end time.Time, resolution domain.Resolution) ([]domain.PriceSample, error) {
	samples := make([]domain.PriceSample, 0, 4)
	for i, close := range []float64{100, 96, 95, 99} {
		samples = append(samples, domain.PriceSample{
			Symbol:     symbol,
			Timestamp:  start.AddDate(0, 0, i),
			Open:       close,
			High:       close,
			Low:        close,
			Close:      close,
		})
	}
	return samples, nil
}

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	ledgerDB, cleanupLedger := apptesting.NewTestDB(t, "ledger")
	historyDB, cleanupHistory := apptesting.NewTestDB(t, "history")
	cacheDB, cleanupCache := apptesting.NewTestDB(t, "cache")

	log := zerolog.Nop()
	eventRepo := events.NewRepository(ledgerDB.Conn(), log)
	eventManager := events.NewManager(eventRepo, log)

	positionRepo := positions.NewRepository(ledgerDB.Conn(), log)
	positionService := positions.NewService(positionRepo, eventManager, log)

	ledgerStore := trading.NewSQLStore(ledgerDB.Conn(), log)
	ledger := trading.NewLedgerService(ledgerStore, positionRepo, eventManager, domain.SystemClock{}, log)
	cycle := engine.NewCycle(positionRepo, ledger, eventManager, domain.SystemClock{}, log)

	processor := dividends.NewProcessor(dividends.NewSQLStore(ledgerDB.Conn(), log), positionRepo, eventManager, domain.SystemClock{}, cycle.Locks(), log)

	market := &fixedMarket{price: 97}
	runs := simulation.NewRunRepository(cacheDB.Conn(), log)
	orchestrator := simulation.NewOrchestrator(market, runs, eventManager, log)

	srv := New(Config{
		Log:          log,
		Port:         0,
		DataDir:      t.TempDir(),
		LedgerDB:     ledgerDB,
		HistoryDB:    historyDB,
		CacheDB:      cacheDB,
		Positions:    positionService,
		PositionRepo: positionRepo,
		Cycle:        cycle,
		Ledger:       ledger,
		Dividends:    processor,
		Simulations:  orchestrator,
		Runs:         runs,
		EventRepo:    eventRepo,
		Market:       market,
	})

	return srv, func() {
		cleanupLedger()
		cleanupHistory()
		cleanupCache()
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createActivePosition(t *testing.T, handler http.Handler) int64 {
	t.Helper()

	anchor := 100.0
	params := positions.CreateParams{
		Symbol:      "AAPL",
		Quantity:    100,
		Cash:        10000,
		AnchorPrice: &anchor,
		AvgCost:     100,
		Config:      apptesting.NewConfigFixture(),
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/positions", params)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/positions/%d/start", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return created.ID
}

func TestServer_Health(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_PositionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := createActivePosition(t, srv.Router())

	rec := doJSON(t, srv.Router(), http.MethodGet, fmt.Sprintf("/api/positions/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var position domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	assert.Equal(t, domain.StatusActive, position.Status)

	rec = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/pause", id), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/positions/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/positions", map[string]interface{}{
		"symbol": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_EvaluateExecutesAndAudits(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := createActivePosition(t, srv.Router())

	// 10% drop from the anchor trips the down trigger.
	rec := doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/evaluate", id), map[string]interface{}{
		"price":           90.0,
		"idempotency_key": "test-key-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome engine.EvaluationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, engine.OutcomeExecuted, outcome.Outcome)
	assert.Equal(t, domain.SideBuy, outcome.Side)
	assert.NotEmpty(t, outcome.TraceID)

	// Same key replays the stored outcome instead of re-trading.
	rec = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/evaluate", id), map[string]interface{}{
		"price":           90.0,
		"idempotency_key": "test-key-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var replay engine.EvaluationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.Equal(t, engine.OutcomeDuplicate, replay.Outcome)

	rec = doJSON(t, srv.Router(), http.MethodGet, fmt.Sprintf("/api/positions/%d/orders", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []trading.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)

	rec = doJSON(t, srv.Router(), http.MethodGet, fmt.Sprintf("/api/positions/%d/trades", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []trading.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)

	// Every event of the cycle shares the outcome's trace id.
	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/events/trace/"+outcome.TraceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var traced []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &traced))
	assert.NotEmpty(t, traced)
}

func TestServer_EvaluateFetchesQuoteWhenNoPrice(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := createActivePosition(t, srv.Router())

	// Quote of 97 sits inside the ±10% band, so the cycle holds.
	rec := doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/evaluate", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome engine.EvaluationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, engine.OutcomeHold, outcome.Outcome)
	assert.InDelta(t, 97, outcome.Price, 1e-9)
}

func TestServer_DividendFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := createActivePosition(t, srv.Router())

	rec := doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/dividends", id), map[string]interface{}{
		"ex_date":            "2026-03-10",
		"pay_date":           "2026-03-24",
		"dividend_per_share": 2.0,
		"tax_rate":           0.25,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var receivable dividends.Receivable
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receivable))
	assert.InDelta(t, 150, receivable.NetAmount, 1e-9)

	// Reprocessing the same ex-date conflicts.
	rec = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/positions/%d/dividends", id), map[string]interface{}{
		"ex_date":            "2026-03-10",
		"dividend_per_share": 2.0,
		"tax_rate":           0.25,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/dividends/%d/pay", receivable.ID), map[string]interface{}{
		"pay_date": "2026-03-24",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Paying twice conflicts.
	rec = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/dividends/%d/pay", receivable.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodGet, fmt.Sprintf("/api/positions/%d/dividends", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []dividends.Receivable
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, dividends.ReceivablePaid, list[0].Status)
}

func TestServer_SimulationRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	cfg := simulation.Config{
		Ticker:      "AAPL",
		Start:       time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
		Resolution:  domain.ResolutionDaily,
		InitialQty:  10,
		InitialCash: 10000,
		Engine:      apptesting.NewConfigFixture(),
	}

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/simulations", cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run simulation.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, 4, run.SampleCount)

	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/simulations/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/simulations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []simulation.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)

	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/simulations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SystemStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])

	databases, ok := status["databases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", databases["ledger"])

	// No backup service configured in tests.
	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/system/backup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
