package scheduler

import (
	"fmt"

	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
)

// PayReceivablesJob settles mature dividend receivables once a day. The
// evaluation sweep also settles before each tick; this job is the catch-up
// path for days with no market data, so a receivable never stays pending
// past its pay date.
type PayReceivablesJob struct {
	log       zerolog.Logger
	dividends ReceivableSettler
	clock     domain.Clock
}

// NewPayReceivablesJob creates a new PayReceivablesJob
func NewPayReceivablesJob(settler ReceivableSettler, clock domain.Clock) *PayReceivablesJob {
	return &PayReceivablesJob{
		log:       zerolog.Nop(),
		dividends: settler,
		clock:     clock,
	}
}

// SetLogger sets the logger for the job
func (j *PayReceivablesJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *PayReceivablesJob) Name() string {
	return "pay_receivables"
}

// Run executes the pay receivables job
func (j *PayReceivablesJob) Run() error {
	today := j.clock.Now().UTC().Format("2006-01-02")

	paid, err := settleMature(j.dividends, today, j.log)
	if err != nil {
		return fmt.Errorf("failed to settle receivables: %w", err)
	}

	j.log.Info().
		Int("receivables_paid", paid).
		Msg("Receivable settlement completed")

	return nil
}
