package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPositionStore struct {
	active []domain.Position
	err    error
}

func (s *stubPositionStore) Get(id int64) (*domain.Position, error) {
	for i := range s.active {
		if s.active[i].ID == id {
			return &s.active[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubPositionStore) GetActive() ([]domain.Position, error) { return s.active, s.err }
func (s *stubPositionStore) Create(p *domain.Position) error       { return nil }
func (s *stubPositionStore) Update(p *domain.Position) error       { return nil }

type stubMarket struct {
	quotes map[string]*domain.PriceQuote
}

func (s *stubMarket) GetPrice(symbol string) (*domain.PriceQuote, error) {
	quote, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return quote, nil
}

func (s *stubMarket) GetHistorical(symbol string, start, end time.Time, resolution domain.Resolution) ([]domain.PriceSample, error) {
	return nil, nil
}

type evalCall struct {
	positionID int64
	price      float64
	key        string
}

type stubEvaluator struct {
	calls []evalCall
	errs  map[int64]error
}

func (s *stubEvaluator) Evaluate(positionID int64, price float64, idempotencyKey string) (*engine.EvaluationOutcome, error) {
	s.calls = append(s.calls, evalCall{positionID, price, idempotencyKey})
	if err, ok := s.errs[positionID]; ok {
		return nil, err
	}
	return &engine.EvaluationOutcome{PositionID: positionID, Outcome: engine.OutcomeHold}, nil
}

type stubSettler struct {
	pending    []dividends.Receivable
	paidIDs    []int64
	pendingErr error
	paymentErr error
}

func (s *stubSettler) Pending() ([]dividends.Receivable, error) {
	return s.pending, s.pendingErr
}

func (s *stubSettler) ProcessPayment(receivableID int64, payDate string) (*dividends.Receivable, error) {
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	s.paidIDs = append(s.paidIDs, receivableID)
	return &dividends.Receivable{ID: receivableID, Status: dividends.ReceivablePaid}, nil
}

func marketOpenQuote(symbol string, price float64) *domain.PriceQuote {
	return &domain.PriceQuote{
		Symbol:        symbol,
		Price:         price,
		Timestamp:     time.Now().UTC(),
		IsMarketHours: true,
	}
}

func TestEvaluatePositionsJob_EvaluatesActivePositions(t *testing.T) {
	positions := &stubPositionStore{active: []domain.Position{
		{ID: 1, Symbol: "AAPL", Status: domain.StatusActive},
		{ID: 2, Symbol: "MSFT", Status: domain.StatusActive},
	}}
	market := &stubMarket{quotes: map[string]*domain.PriceQuote{
		"AAPL": marketOpenQuote("AAPL", 97.0),
		"MSFT": marketOpenQuote("MSFT", 410.0),
	}}
	evaluator := &stubEvaluator{}
	clock := &domain.FixedClock{Current: time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)}

	job := NewEvaluatePositionsJob(positions, market, evaluator, &stubSettler{}, clock)

	require.NoError(t, job.Run())

	require.Len(t, evaluator.calls, 2)
	assert.Equal(t, int64(1), evaluator.calls[0].positionID)
	assert.InDelta(t, 97.0, evaluator.calls[0].price, 1e-9)
	assert.Equal(t, fmt.Sprintf("eval-1-%d", clock.Current.Unix()), evaluator.calls[0].key)
	assert.Equal(t, fmt.Sprintf("eval-2-%d", clock.Current.Unix()), evaluator.calls[1].key)
}

func TestEvaluatePositionsJob_SettlesMatureReceivablesFirst(t *testing.T) {
	settler := &stubSettler{pending: []dividends.Receivable{
		{ID: 10, PositionID: 1, PayDate: "2026-03-01", NetAmount: 150},
		{ID: 11, PositionID: 1, PayDate: "2026-03-02", NetAmount: 75},
		{ID: 12, PositionID: 2, PayDate: "2026-04-15", NetAmount: 30},
		{ID: 13, PositionID: 2, PayDate: "", NetAmount: 10},
	}}
	clock := &domain.FixedClock{Current: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	job := NewEvaluatePositionsJob(&stubPositionStore{}, &stubMarket{}, &stubEvaluator{}, settler, clock)

	require.NoError(t, job.Run())

	// Only receivables at or past their pay date settle; undated ones wait.
	assert.Equal(t, []int64{10, 11}, settler.paidIDs)
}

func TestEvaluatePositionsJob_SkipsClosedMarketAndBusy(t *testing.T) {
	positions := &stubPositionStore{active: []domain.Position{
		{ID: 1, Symbol: "AAPL", Status: domain.StatusActive},
		{ID: 2, Symbol: "MSFT", Status: domain.StatusActive},
		{ID: 3, Symbol: "GOOG", Status: domain.StatusActive},
	}}
	closedQuote := marketOpenQuote("MSFT", 410.0)
	closedQuote.IsMarketHours = false
	market := &stubMarket{quotes: map[string]*domain.PriceQuote{
		"AAPL": marketOpenQuote("AAPL", 97.0),
		"MSFT": closedQuote,
		"GOOG": marketOpenQuote("GOOG", 170.0),
	}}
	evaluator := &stubEvaluator{errs: map[int64]error{
		3: fmt.Errorf("position 3: %w", domain.ErrBusy),
	}}

	job := NewEvaluatePositionsJob(positions, market, evaluator, &stubSettler{}, domain.SystemClock{})

	// Busy positions and closed markets are skipped, never fatal.
	require.NoError(t, job.Run())

	require.Len(t, evaluator.calls, 2)
	assert.Equal(t, int64(1), evaluator.calls[0].positionID)
	assert.Equal(t, int64(3), evaluator.calls[1].positionID)
}

func TestEvaluatePositionsJob_SettlementFailureIsFatal(t *testing.T) {
	settler := &stubSettler{pendingErr: errors.New("db locked")}

	job := NewEvaluatePositionsJob(&stubPositionStore{}, &stubMarket{}, &stubEvaluator{}, settler, domain.SystemClock{})

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settle receivables")
}

func TestPayReceivablesJob_ToleratesAlreadyPaid(t *testing.T) {
	settler := &stubSettler{
		pending:    []dividends.Receivable{{ID: 10, PositionID: 1, PayDate: "2026-03-01"}},
		paymentErr: fmt.Errorf("receivable 10: %w", domain.ErrAlreadyPaid),
	}
	clock := &domain.FixedClock{Current: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}

	job := NewPayReceivablesJob(settler, clock)

	require.NoError(t, job.Run())
	assert.Empty(t, settler.paidIDs)
}

func TestJobNames(t *testing.T) {
	assert.Equal(t, "evaluate_positions", (&EvaluatePositionsJob{}).Name())
	assert.Equal(t, "pay_receivables", (&PayReceivablesJob{}).Name())
	assert.Equal(t, "ledger_backup", (&LedgerBackupJob{}).Name())
	assert.Equal(t, "wal_checkpoint", (&WALCheckpointJob{}).Name())
}
