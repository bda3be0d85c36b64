package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelios/anchor/internal/clients/marketdata"
	"github.com/avelios/anchor/internal/config"
	"github.com/avelios/anchor/internal/database"
	"github.com/avelios/anchor/internal/domain"
	"github.com/avelios/anchor/internal/engine"
	"github.com/avelios/anchor/internal/events"
	"github.com/avelios/anchor/internal/modules/dividends"
	"github.com/avelios/anchor/internal/modules/history"
	"github.com/avelios/anchor/internal/modules/positions"
	"github.com/avelios/anchor/internal/modules/simulation"
	"github.com/avelios/anchor/internal/modules/trading"
	"github.com/avelios/anchor/internal/reliability"
	"github.com/avelios/anchor/internal/scheduler"
	"github.com/avelios/anchor/internal/server"
	"github.com/avelios/anchor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config failed before the real logger exists; use a bare one.
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
		File:   cfg.LogFile,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting anchor")

	ledgerDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	historyDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	cacheDB := mustOpenDB(log, database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})

	// Close order matters for WAL checkpointing on exit.
	defer ledgerDB.Close()
	defer historyDB.Close()
	defer cacheDB.Close()

	clock := domain.SystemClock{}

	eventRepo := events.NewRepository(ledgerDB.Conn(), log)
	eventManager := events.NewManager(eventRepo, log)

	positionRepo := positions.NewRepository(ledgerDB.Conn(), log)
	positionService := positions.NewService(positionRepo, eventManager, log)

	ledgerStore := trading.NewSQLStore(ledgerDB.Conn(), log)
	ledgerService := trading.NewLedgerService(ledgerStore, positionRepo, eventManager, clock, log)

	cycle := engine.NewCycle(positionRepo, ledgerService, eventManager, clock, log)

	dividendStore := dividends.NewSQLStore(ledgerDB.Conn(), log)
	dividendProcessor := dividends.NewProcessor(dividendStore, positionRepo, eventManager, clock, cycle.Locks(), log)

	historyRepo := history.NewRepository(historyDB.Conn(), log)

	// Simulations replay through the upstream candle API when one is
	// configured, otherwise through locally recorded samples.
	var market domain.MarketData
	var marketClient *marketdata.Client
	if cfg.MarketDataURL != "" {
		marketClient = marketdata.NewClient(cfg.MarketDataURL, cfg.MarketDataAPIKey, log)
		market = marketClient
	} else {
		log.Warn().Msg("No market data provider configured; live evaluation sweeps disabled")
		market = history.NewSampleSource(historyRepo)
	}

	runRepo := simulation.NewRunRepository(cacheDB.Conn(), log)
	orchestrator := simulation.NewOrchestrator(market, runRepo, eventManager, log)

	databases := map[string]*database.DB{
		"ledger":  ledgerDB,
		"history": historyDB,
		"cache":   cacheDB,
	}

	var remote *reliability.S3Client
	if cfg.Backup.RemoteEnabled() {
		remote, err = reliability.NewS3Client(
			cfg.Backup.S3Endpoint,
			cfg.Backup.S3Region,
			cfg.Backup.S3AccessKeyID,
			cfg.Backup.S3SecretKey,
			cfg.Backup.S3Bucket,
			log,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize S3 client; backups stay local only")
			remote = nil
		}
	}
	backups := reliability.NewBackupService(
		databases,
		filepath.Join(cfg.DataDir, "backups"),
		remote,
		eventManager,
		cfg.Backup.RetentionDays,
		log,
	)

	sched := scheduler.New(log)

	if marketClient != nil {
		evalJob := scheduler.NewEvaluatePositionsJob(positionRepo, marketClient, cycle, dividendProcessor, clock)
		evalJob.SetLogger(log)
		mustAddJob(log, sched, cfg.EvaluateSchedule, evalJob)
	}

	payJob := scheduler.NewPayReceivablesJob(dividendProcessor, clock)
	payJob.SetLogger(log)
	mustAddJob(log, sched, cfg.PayoutSchedule, payJob)

	backupJob := scheduler.NewLedgerBackupJob(backups)
	backupJob.SetLogger(log)
	mustAddJob(log, sched, cfg.BackupSchedule, backupJob)

	walJob := scheduler.NewWALCheckpointJob(ledgerDB, historyDB, cacheDB)
	walJob.SetLogger(log)
	mustAddJob(log, sched, cfg.MaintenanceSchedule, walJob)

	sched.Start()
	log.Info().Msg("Scheduler started")

	// The tick stream records live ticks as minute samples so the history
	// database accumulates replayable data while the engine runs.
	var stream *marketdata.TickStream
	if cfg.MarketDataWSURL != "" {
		symbols := activeSymbols(positionRepo, log)
		stream = marketdata.NewTickStream(cfg.MarketDataWSURL, symbols, func(quote domain.PriceQuote) {
			sample := domain.PriceSample{
				Symbol:    quote.Symbol,
				Timestamp: quote.Timestamp.Truncate(time.Minute),
				Open:      quote.Price,
				High:      quote.Price,
				Low:       quote.Price,
				Close:     quote.Price,
			}
			if err := historyRepo.Upsert(domain.ResolutionMinute, []domain.PriceSample{sample}); err != nil {
				log.Error().Err(err).Str("symbol", quote.Symbol).Msg("Failed to record tick")
			}
		}, log)
		stream.Start()
		log.Info().Strs("symbols", symbols).Msg("Tick stream started")
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		LedgerDB:  ledgerDB,
		HistoryDB: historyDB,
		CacheDB:   cacheDB,

		Positions:    positionService,
		PositionRepo: positionRepo,
		Cycle:        cycle,
		Ledger:       ledgerService,
		Dividends:    dividendProcessor,
		Simulations:  orchestrator,
		Runs:         runRepo,
		EventRepo:    eventRepo,
		Market:       market,
		Backups:      backups,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()
	if stream != nil {
		stream.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func mustOpenDB(log zerolog.Logger, cfg database.Config) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.Name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("db", cfg.Name).Msg("Failed to migrate database")
	}
	return db
}

func mustAddJob(log zerolog.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Str("schedule", schedule).Msg("Failed to schedule job")
	}
}

// activeSymbols collects the distinct symbols of active positions for the
// tick stream subscription. Positions created after startup pick up live
// data on the next restart.
func activeSymbols(repo *positions.Repository, log zerolog.Logger) []string {
	active, err := repo.GetActive()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active positions for tick stream")
		return nil
	}
	seen := make(map[string]struct{}, len(active))
	var symbols []string
	for _, p := range active {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}
