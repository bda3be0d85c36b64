package positions

import (
	"testing"

	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/events"
	apptesting "github.com/avelios/anchor/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, func()) {
	t.Helper()
	db, cleanup := apptesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())
	manager := events.NewManager(events.NewRepository(db.Conn(), zerolog.Nop()), zerolog.Nop())
	return NewService(repo, manager, zerolog.Nop()), cleanup
}

func validParams() CreateParams {
	anchor := 100.0
	return CreateParams{
		Symbol:      "AAPL",
		Cash:        10000,
		AnchorPrice: &anchor,
		Config:      apptesting.NewConfigFixture(),
	}
}

func TestService_CreateStartsPaused(t *testing.T) {
	service, cleanup := newTestService(t)
	defer cleanup()

	position, err := service.Create(validParams())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, position.Status)
	assert.NotZero(t, position.ID)
}

func TestService_CreateValidation(t *testing.T) {
	service, cleanup := newTestService(t)
	defer cleanup()

	t.Run("missing symbol", func(t *testing.T) {
		params := validParams()
		params.Symbol = ""
		_, err := service.Create(params)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("negative cash", func(t *testing.T) {
		params := validParams()
		params.Cash = -1
		_, err := service.Create(params)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("bad config rejected before any state change", func(t *testing.T) {
		params := validParams()
		params.Config.MinStockPct = 80
		params.Config.MaxStockPct = 20
		_, err := service.Create(params)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestService_Lifecycle(t *testing.T) {
	service, cleanup := newTestService(t)
	defer cleanup()

	position, err := service.Create(validParams())
	require.NoError(t, err)

	started, err := service.Start(position.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, started.Status)

	paused, err := service.Pause(position.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	archived, err := service.Archive(position.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, archived.Status)

	_, err = service.Start(position.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "archived position cannot restart")
}

func TestService_StartPreconditions(t *testing.T) {
	service, cleanup := newTestService(t)
	defer cleanup()

	t.Run("unset anchor blocks start", func(t *testing.T) {
		params := validParams()
		params.AnchorPrice = nil
		position, err := service.Create(params)
		require.NoError(t, err)

		_, err = service.Start(position.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("no cash and no shares blocks start", func(t *testing.T) {
		params := validParams()
		params.Cash = 0
		params.Quantity = 0
		position, err := service.Create(params)
		require.NoError(t, err)

		_, err = service.Start(position.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestService_UpdateConfig(t *testing.T) {
	service, cleanup := newTestService(t)
	defer cleanup()

	position, err := service.Create(validParams())
	require.NoError(t, err)

	cfg := apptesting.NewConfigFixture()
	cfg.TriggerUpPct = 0.05
	updated, err := service.UpdateConfig(position.ID, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, updated.Config.TriggerUpPct, 1e-9)

	cfg.RebalanceRatio = -1
	_, err = service.UpdateConfig(position.ID, cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
