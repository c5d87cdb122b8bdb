package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ResultHold           = "hold"
	ResultMarketClosed   = "market_closed"
	ResultCadenceWait    = "cadence_wait"
	ResultDriftBelow     = "drift_below_threshold"
	ResultSkipped        = "skipped"
	ResultRejected       = "rejected"
	ResultDryRun         = "dry_run"
	ResultOrderSubmitted = "order_submitted"
	ResultOrderFailed    = "order_failed"
	ResultAllocateFailed = "allocate_failed"
	ResultNoChange       = "no_change"
	ResultLiquidated     = "liquidated"
)

type Decision struct {
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	Strategy      string    `json:"strategy"`
	Reason        string    `json:"reason,omitempty"`
	Result        string    `json:"result"`
	Symbol        string    `json:"symbol,omitempty"`
	Side          string    `json:"side,omitempty"`
	Qty           string    `json:"qty,omitempty"`
	Price         string    `json:"price,omitempty"`
	Value         string    `json:"value,omitempty"`
	Weight        string    `json:"weight,omitempty"`
	Drift         string    `json:"drift,omitempty"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// DecisionLogger appends one JSON object per line.
type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	log    zerolog.Logger
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string, log zerolog.Logger) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
		log:    log.With().Str("component", "decisions").Logger(),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	decision.RunID = d.runID
	payload, err := json.Marshal(decision)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal decision")
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		d.log.Error().Err(err).Msg("failed to write decision")
		return
	}
	if err := d.writer.Flush(); err != nil {
		d.log.Error().Err(err).Msg("failed to flush decision log")
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
