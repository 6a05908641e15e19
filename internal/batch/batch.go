// Package batch processes line-delimited JSON specification records one at
// a time, writing each completed record with its results attached.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/pbt"
	"github.com/pbt-oracle/internal/telemetry"
	"github.com/pbt-oracle/internal/types"
)

// Mode selects what is computed for each record
type Mode string

const (
	// ModePBT runs property-based tests and attaches pbt_results
	ModePBT Mode = "pbt"
	// ModeTests generates examples and attaches tests
	ModeTests Mode = "tests"
	// ModeVerify classifies stored tests and attaches test_results and status
	ModeVerify Mode = "verify"
	// ModeExamples runs the candidate against stored tests and attaches example_results
	ModeExamples Mode = "examples"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePBT, ModeTests, ModeVerify, ModeExamples:
		return m, nil
	}
	return "", errors.NewInvalidRecordError("mode", fmt.Sprintf("unknown mode %q", s))
}

// ErrPaceDeadline is returned when the next paced slot lies past the
// context deadline
var ErrPaceDeadline = stderrors.New("next record slot is past the deadline")

// maxRecordBytes bounds a single input line
const maxRecordBytes = 16 * 1024 * 1024

// ExampleRunner runs a candidate against a record's stored tests
type ExampleRunner interface {
	Run(ctx context.Context, implementation string, spec *types.Spec) (types.ExampleResult, error)
}

// RunStore persists runs and completed records
type RunStore interface {
	CreateRun(ctx context.Context, run *types.RunSummary) error
	SaveRecord(ctx context.Context, rec *types.RunRecord) error
	FinishRun(ctx context.Context, runID string, processed, dropped int) error
}

// Driver sequences records through the tester. Records are processed
// strictly one after another, paced by a limiter, whether they arrive from
// a batch run or from concurrent API requests.
type Driver struct {
	tester   *pbt.Tester
	examples ExampleRunner
	store    RunStore
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	slot     chan struct{}
}

// NewDriver creates a driver. examples and store may be nil.
func NewDriver(tester *pbt.Tester, examples ExampleRunner, store RunStore, cfg config.BatchConfig, m *metrics.Metrics) *Driver {
	limit := rate.Inf
	if cfg.PaceInterval > 0 {
		limit = rate.Every(cfg.PaceInterval)
	}
	return &Driver{
		tester:   tester,
		examples: examples,
		store:    store,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  m,
		slot:     make(chan struct{}, 1),
	}
}

// Record is one input record: the raw fields, preserved on output, and
// the decoded specification
type Record struct {
	Fields map[string]json.RawMessage
	Spec   types.Spec
}

// DecodeRecord parses one JSON record. A "statement" field takes the place
// of the description.
func DecodeRecord(line []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(line, &rec.Fields); err != nil {
		return nil, errors.NewInvalidRecordError("record", err.Error())
	}
	if rec.Fields == nil {
		return nil, errors.NewInvalidRecordError("record", "record must be a JSON object")
	}
	if err := json.Unmarshal(line, &rec.Spec); err != nil {
		return nil, errors.NewInvalidRecordError("record", err.Error())
	}
	if raw, ok := rec.Fields["statement"]; ok {
		var statement string
		if err := json.Unmarshal(raw, &statement); err == nil {
			rec.Spec.Description = statement
			rec.Fields["description"] = raw
		}
	}
	return rec, nil
}

// Set attaches a result field to the record
func (r *Record) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	r.Fields[key] = data
	return nil
}

// Process computes mode's results for rec and attaches them. It returns
// the record's roll-up status. Calls are serialized and paced; a caller
// waiting its turn gives up when ctx is done.
func (d *Driver) Process(ctx context.Context, mode Mode, rec *Record) (types.Status, error) {
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-d.slot }()

	if err := d.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrPaceDeadline, err)
	}
	return d.process(ctx, mode, rec)
}

func (d *Driver) process(ctx context.Context, mode Mode, rec *Record) (types.Status, error) {
	spec := &rec.Spec
	switch mode {
	case ModePBT:
		res, err := d.tester.Run(ctx, spec, 0)
		if err != nil {
			return "", err
		}
		if err := rec.Set("pbt_results", res.Value()); err != nil {
			return "", err
		}
		if res.Report != nil {
			return res.Status(), rec.Set("status", res.Status())
		}
		return res.Status(), nil

	case ModeTests:
		tests, err := d.tester.MakeTests(ctx, spec, 0)
		if err != nil {
			return "", err
		}
		return types.StatusUnknown, rec.Set("tests", tests)

	case ModeVerify:
		res, err := d.tester.VerifyTests(ctx, spec)
		if err != nil {
			return "", err
		}
		if err := rec.Set("test_results", res.Results); err != nil {
			return "", err
		}
		return res.Status, rec.Set("status", res.Status)

	case ModeExamples:
		if d.examples == nil {
			return "", errors.NewConfigError("examples", "no example runner configured")
		}
		res, err := d.examples.Run(ctx, spec.CodeSolution, spec)
		if err != nil {
			return "", err
		}
		status := types.StatusFail
		if res.Success && res.Total > 0 && res.Passed == res.Total {
			status = types.StatusPass
		}
		return status, rec.Set("example_results", res)
	}
	return "", errors.NewInvalidRecordError("mode", fmt.Sprintf("unknown mode %q", mode))
}

// Run reads records from r and writes every completed record to w. A record
// that cannot be decoded or processed is logged and dropped; the run
// continues. Run stops early only when ctx is cancelled or r or w fail.
func (d *Driver) Run(ctx context.Context, mode Mode, r io.Reader, w io.Writer) (*types.RunSummary, error) {
	summary := &types.RunSummary{
		ID:        uuid.NewString(),
		Mode:      string(mode),
		StartedAt: time.Now().UTC(),
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"run_id": summary.ID,
		"mode":   string(mode),
	})
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("batch run started")

	if d.store != nil {
		if err := d.store.CreateRun(ctx, summary); err != nil {
			logger.WithError(err).Warn("failed to record run start")
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var runErr error
	index := -1
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		index++

		rec, status, err := d.processLine(ctx, summary.ID, index, mode, line)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, ErrPaceDeadline) {
				runErr = err
				if ctx.Err() != nil {
					runErr = ctx.Err()
				}
				break
			}
			summary.Dropped++
			d.metrics.ObserveRecord(string(mode), "dropped")
			continue
		}

		if err := enc.Encode(rec.Fields); err != nil {
			runErr = fmt.Errorf("failed to write record %d: %w", index, err)
			break
		}
		summary.Processed++
		d.metrics.ObserveRecord(string(mode), string(status))
		d.save(ctx, summary.ID, index, status, rec)
	}
	if runErr == nil {
		if err := scanner.Err(); err != nil {
			runErr = fmt.Errorf("failed to read records: %w", err)
		}
	}

	finished := time.Now().UTC()
	summary.FinishedAt = &finished
	if d.store != nil {
		if err := d.store.FinishRun(context.WithoutCancel(ctx), summary.ID, summary.Processed, summary.Dropped); err != nil {
			logger.WithError(err).Warn("failed to record run completion")
		}
	}

	logger.WithFields(map[string]interface{}{
		"processed": summary.Processed,
		"dropped":   summary.Dropped,
	}).Info("batch run finished")

	return summary, runErr
}

// processLine decodes and processes one record, converting a panic into an
// error so a single bad record never aborts the run
func (d *Driver) processLine(ctx context.Context, runID string, index int, mode Mode, line []byte) (rec *Record, status types.Status, err error) {
	ctx, span := telemetry.StartSpan(ctx, "batch.record",
		telemetry.AttrRunID.String(runID),
		telemetry.AttrRecordIndex.Int(index),
	)
	defer span.End()

	logger := logging.FromContext(ctx).WithField("record", index)
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		if p := recover(); p != nil {
			err = errors.NewInternalError(fmt.Sprintf("panic processing record: %v", p), nil)
			logger.WithField("stack", string(debug.Stack())).WithError(err).Error("record dropped")
			telemetry.RecordError(span, err)
		}
	}()

	rec, err = DecodeRecord(line)
	if err != nil {
		logger.WithError(err).Error("record dropped: invalid JSON")
		return nil, "", err
	}

	status, err = d.Process(ctx, mode, rec)
	if err != nil {
		telemetry.RecordError(span, err)
		if ctx.Err() == nil && !stderrors.Is(err, ErrPaceDeadline) {
			logger.WithError(err).Error("record dropped")
		}
		return nil, "", err
	}

	logger.WithField("status", string(status)).Info("record completed")
	return rec, status, nil
}

func (d *Driver) save(ctx context.Context, runID string, index int, status types.Status, rec *Record) {
	if d.store == nil {
		return
	}
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return
	}
	err = d.store.SaveRecord(ctx, &types.RunRecord{
		RunID:   runID,
		Index:   index,
		Status:  status,
		Payload: payload,
	})
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("record", index).Warn("failed to persist record")
	}
}
