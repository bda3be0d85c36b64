package history

import (
	"testing"
	"time"

	"github.com/avelios/anchor/internal/domain"
	apptesting "github.com/avelios/anchor/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_UpsertAndRange(t *testing.T) {
	db, cleanup := apptesting.NewTestDB(t, "history")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var samples []domain.PriceSample
	for i := 0; i < 5; i++ {
		price := 100.0 + float64(i)
		samples = append(samples, domain.PriceSample{
			Symbol:    "AAPL",
			Timestamp: start.AddDate(0, 0, i),
			Open:      price, High: price + 1, Low: price - 1, Close: price,
			Volume: 1000,
		})
	}
	require.NoError(t, repo.Upsert(domain.ResolutionDaily, samples))

	t.Run("ordered range", func(t *testing.T) {
		got, err := repo.GetRange("AAPL", start, start.AddDate(0, 0, 2), domain.ResolutionDaily)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.InDelta(t, 100, got[0].Close, 1e-9)
		assert.InDelta(t, 102, got[2].Close, 1e-9)
		assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	})

	t.Run("upsert replaces same timestamp", func(t *testing.T) {
		updated := samples[0]
		updated.Close = 99
		require.NoError(t, repo.Upsert(domain.ResolutionDaily, []domain.PriceSample{updated}))

		count, err := repo.Count("AAPL", domain.ResolutionDaily)
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		got, err := repo.GetRange("AAPL", start, start, domain.ResolutionDaily)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 99, got[0].Close, 1e-9)
	})

	t.Run("resolutions are isolated", func(t *testing.T) {
		count, err := repo.Count("AAPL", domain.ResolutionHourly)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
