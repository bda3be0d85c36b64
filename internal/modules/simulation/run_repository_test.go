package simulation

import (
	"testing"
	"time"

	"github.com/avelios/anchor/internal/domain"
	apptesting "github.com/avelios/anchor/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRepository_SaveGetList(t *testing.T) {
	db, cleanup := apptesting.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRunRepository(db.Conn(), zerolog.Nop())

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	source := &stubSource{samples: dailySeries("AAPL", start, 100, 96, 95, 99)}
	orch := NewOrchestrator(source, repo, nil, zerolog.Nop())

	run, err := orch.Run(simConfig(start, start.AddDate(0, 0, 10)))
	require.NoError(t, err)

	t.Run("round trip preserves the full run", func(t *testing.T) {
		got, err := repo.Get(run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "AAPL", got.Config.Ticker)
		assert.Equal(t, domain.ResolutionDaily, got.Config.Resolution)
		require.Len(t, got.Trades, len(run.Trades))
		assert.Equal(t, run.Trades[0].Side, got.Trades[0].Side)
		assert.InDelta(t, run.Trades[0].Price, got.Trades[0].Price, 1e-12)
		assert.InDelta(t, run.Metrics.TotalReturnPct, got.Metrics.TotalReturnPct, 1e-12)
		assert.Len(t, got.Outcomes, run.SampleCount)
		assert.NotEmpty(t, got.Events)
	})

	t.Run("list summaries", func(t *testing.T) {
		summaries, err := repo.List(10)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, run.ID, summaries[0].ID)
		assert.Equal(t, "AAPL", summaries[0].Ticker)
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := repo.Get("nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
