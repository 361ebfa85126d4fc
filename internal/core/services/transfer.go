package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
	"github.com/custodia-labs/subanon/internal/logger"
)

// Ensure TransferOrchestrator implements the interface.
var _ driving.TransferService = (*TransferOrchestrator)(nil)

// TransferOrchestrator coordinates one anonymised transfer run:
// listing, identity mapping, fetching, anonymising and uploading.
type TransferOrchestrator struct {
	platform   driven.Platform
	sanitisers driven.SanitiserRegistry
	store      driven.BatchStore
	settings   driving.SettingsService
	opener     driven.DestinationOpener

	now   func() time.Time
	newID func() string
}

// NewTransferOrchestrator creates a new transfer orchestrator.
// The opener is only used for local-only runs and may be nil otherwise.
func NewTransferOrchestrator(
	platform driven.Platform,
	sanitisers driven.SanitiserRegistry,
	store driven.BatchStore,
	settings driving.SettingsService,
	opener driven.DestinationOpener,
) *TransferOrchestrator {
	return &TransferOrchestrator{
		platform:   platform,
		sanitisers: sanitisers,
		store:      store,
		settings:   settings,
		opener:     opener,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// run holds the per-run collaborators shared by the dispatcher and workers.
type run struct {
	batch      *domain.TransferBatch
	record     domain.BatchRecord
	mapper     *IdentityMapper
	fetcher    *SubmissionFetcher
	anonymiser *Anonymiser
	uploader   *Uploader
	prefix     string
	progress   driving.ProgressFunc
}

// Run transfers every submission of req.Source.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (o *TransferOrchestrator) Run(ctx context.Context, req driving.TransferRequest, progress driving.ProgressFunc) (*driving.TransferReport, error) {
	// 1. Validate the request against current settings
	settings, err := o.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	ts := settings.Transfer
	if req.Concurrency > 0 {
		ts.Concurrency = req.Concurrency
	}
	if err := o.validate(req, ts); err != nil {
		return nil, err
	}

	// 2. Seed the identity mapper, from a previous batch when resuming
	salt := req.Salt
	if salt == "" {
		salt = settings.Anonymise.Salt
	}
	var preload []domain.IdentityMapping
	var placed []domain.UploadResult
	if req.ResumeBatchID != "" {
		prev, err := o.store.GetBatch(ctx, req.ResumeBatchID)
		if err != nil {
			return nil, fmt.Errorf("get resumed batch: %w", err)
		}
		if req.Salt != "" && req.Salt != prev.Salt {
			return nil, fmt.Errorf("%w: salt differs from resumed batch %s", domain.ErrInvalidInput, prev.ID)
		}
		salt = prev.Salt
		if preload, err = o.store.GetMappings(ctx, prev.ID); err != nil {
			return nil, fmt.Errorf("get resumed mappings: %w", err)
		}
		target := req.Destination
		if req.LocalDir != "" {
			target = req.Source
		}
		if prev.Destination == target && prev.LocalDir == req.LocalDir {
			if placed, err = o.store.GetResults(ctx, prev.ID); err != nil {
				return nil, fmt.Errorf("get resumed results: %w", err)
			}
		}
	}
	if salt == "" {
		salt = o.newID()
	}
	mapper := NewIdentityMapper(salt)
	if err := mapper.Preload(preload); err != nil {
		return nil, fmt.Errorf("preload mappings: %w", err)
	}

	// 3. Persist the batch header before touching the platform
	record := domain.BatchRecord{
		ID:          o.newID(),
		Source:      req.Source,
		Destination: req.Destination,
		Salt:        salt,
		TokenPrefix: settings.Anonymise.TokenPrefix,
		LocalDir:    req.LocalDir,
		CreatedAt:   o.now(),
	}
	if req.LocalDir != "" {
		record.Destination = req.Source
	}
	if err := o.store.SaveBatch(ctx, record); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}
	batch := domain.NewTransferBatch(record.ID, record.Source, record.Destination, salt, record.CreatedAt)
	exporter := NewRosterExporter(record.TokenPrefix)

	logger.Section("Transfer " + record.ID)
	logger.Info("Transferring %s -> %s with %d workers", record.Source, record.Destination, ts.Concurrency)

	// 4. Open the platform session
	session, err := o.platform.Authenticate(ctx, req.Credentials)
	if err != nil {
		logger.Warn("Authentication failed: %v", err)
		batch.Abort(err)
		return o.finish(ctx, batch, record, mapper, exporter)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("Failed to close session: %v", cerr)
		}
	}()

	var dest driven.SubmissionDestination = session
	if req.LocalDir != "" {
		if dest, err = o.opener.Open(req.LocalDir); err != nil {
			batch.Abort(fmt.Errorf("open local directory: %w", err))
			return o.finish(ctx, batch, record, mapper, exporter)
		}
	}

	// 5. Build the per-run pipeline around one shared throttle
	throttle := NewThrottle(ts.RequestsPerSecond, ts.Cooldown)
	r := newRetrier(RetryPolicyFromSettings(ts), throttle, ts.InFlightTimeout)
	rn := &run{
		batch:      batch,
		record:     record,
		mapper:     mapper,
		fetcher:    NewSubmissionFetcher(session, r),
		anonymiser: NewAnonymiser(o.sanitisers),
		uploader:   NewUploader(dest, record.Destination, r),
		prefix:     record.TokenPrefix,
		progress:   progress,
	}
	for _, res := range placed {
		if res.Status == domain.StatusSucceeded {
			rn.uploader.claim(res.DestinationSubmissionID, res.SubmissionID)
		}
	}

	// 6. Dispatch submissions to a bounded worker pool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ts.Concurrency)
	listErr := o.dispatch(gctx, g, rn)
	workErr := g.Wait()

	// 7. Classify how the pool stopped
	switch {
	case workErr != nil && domain.IsBatchFatal(workErr):
		batch.Abort(workErr)
	case listErr != nil && domain.IsBatchFatal(listErr):
		batch.Abort(listErr)
	case ctx.Err() != nil:
		batch.Abort(domain.ErrCancelled)
	case listErr != nil:
		batch.Abort(listErr)
	case workErr != nil:
		batch.Abort(workErr)
	}
	if throttle.Trips() > 0 {
		logger.Info("Platform rate limited the run %d times", throttle.Trips())
	}

	return o.finish(ctx, batch, record, mapper, exporter)
}

func (o *TransferOrchestrator) validate(req driving.TransferRequest, ts domain.TransferSettings) error {
	if err := req.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if req.LocalDir == "" {
		if err := req.Destination.Validate(); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		if req.Destination == req.Source {
			return fmt.Errorf("%w: source and destination are the same assignment", domain.ErrInvalidInput)
		}
	} else if o.opener == nil {
		return fmt.Errorf("%w: local directory output is not available", domain.ErrInvalidInput)
	}
	if err := req.Credentials.Validate(); err != nil {
		return err
	}
	return ts.Validate()
}

// dispatch lists the source assignment, resolves each owner in listing
// order and hands the submission to the pool. It returns the listing error,
// if any.
func (o *TransferOrchestrator) dispatch(ctx context.Context, g *errgroup.Group, rn *run) error {
	for ref, err := range rn.fetcher.List(ctx, rn.record.Source) {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := rn.batch.Discover(ref.ID); err != nil {
			logger.Warn("Ignoring listing entry %s: %v", ref.ID, err)
			continue
		}
		rn.emit(driving.ProgressEvent{SubmissionID: ref.ID, State: domain.StateDiscovered})

		token, err := rn.mapper.Resolve(ref.Owner)
		if err != nil {
			o.record(ctx, rn, domain.Skipped(ref.ID, "", err))
			continue
		}
		rn.batch.RegisterToken(token)

		g.Go(func() error {
			return o.process(ctx, rn, ref, token)
		})
	}
	return nil
}

// process carries one submission from Discovered to a terminal state.
// A returned error stops the pool; per-submission failures are recorded
// instead. Submissions interrupted by cancellation stay pending.
func (o *TransferOrchestrator) process(ctx context.Context, rn *run, ref domain.SubmissionRef, token domain.Token) error {
	id := ref.ID

	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	sub, err := rn.fetcher.Fetch(ctx, rn.record.Source, ref)
	if err != nil {
		if domain.IsBatchFatal(err) || errors.Is(err, domain.ErrCancelled) {
			return err
		}
		o.record(ctx, rn, domain.Skipped(id, token, err))
		return nil
	}
	if err := o.advance(rn, id, token, domain.StateFetched); err != nil {
		return err
	}

	// Re-resolution is idempotent and confirms the mapping for the fetched owner.
	if _, err := rn.mapper.Resolve(sub.Owner); err != nil {
		o.record(ctx, rn, domain.Skipped(id, token, err))
		return nil
	}
	if err := o.advance(rn, id, token, domain.StateMapped); err != nil {
		return err
	}

	anon, err := rn.anonymiser.Anonymise(sub, domain.Pseudonym{Token: token, Prefix: rn.prefix})
	if err != nil {
		o.record(ctx, rn, domain.Failed(id, token, err))
		return nil
	}
	if err := o.advance(rn, id, token, domain.StateAnonymized); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	if err := o.advance(rn, id, token, domain.StateUploadAttempted); err != nil {
		return err
	}
	result, err := rn.uploader.Upload(ctx, anon)
	if err != nil {
		return err
	}
	o.record(ctx, rn, result)
	return nil
}

func (o *TransferOrchestrator) advance(rn *run, id string, token domain.Token, state domain.SubmissionState) error {
	if err := rn.batch.Advance(id, state); err != nil {
		return fmt.Errorf("advance %s: %w", id, err)
	}
	rn.emit(driving.ProgressEvent{SubmissionID: id, Token: token, State: state})
	return nil
}

// record stores a terminal result in the batch and the ledger.
func (o *TransferOrchestrator) record(ctx context.Context, rn *run, result domain.UploadResult) {
	if err := rn.batch.Record(result); err != nil {
		logger.Warn("Could not record result for %s: %v", result.SubmissionID, err)
		return
	}
	if err := o.store.SaveResult(context.WithoutCancel(ctx), rn.record.ID, result); err != nil {
		logger.Warn("Could not persist result for %s: %v", result.SubmissionID, err)
	}

	ev := driving.ProgressEvent{SubmissionID: result.SubmissionID, Token: result.Token, State: result.Status.State()}
	if result.Reason != "" {
		ev.Err = errors.New(result.Reason)
	}
	logger.Debug("Submission %s %s", result.SubmissionID, result.Status)
	rn.emit(ev)
}

// finish finalizes the batch, persists the mapping table and outcome, and
// renders the roster and key. The report is returned even when persistence fails.
func (o *TransferOrchestrator) finish(
	ctx context.Context,
	batch *domain.TransferBatch,
	record domain.BatchRecord,
	mapper *IdentityMapper,
	exporter *RosterExporter,
) (*driving.TransferReport, error) {
	persistCtx := context.WithoutCancel(ctx)
	mappings := mapper.Snapshot()

	var errs []error
	if err := batch.Finalize(mappings); err != nil {
		errs = append(errs, fmt.Errorf("finalize batch: %w", err))
	}
	if err := o.store.SaveMappings(persistCtx, record.ID, mappings); err != nil {
		errs = append(errs, fmt.Errorf("save mappings: %w", err))
	}

	summary := batch.Summary()
	record.Outcome = summary.Outcome
	record.AbortReason = summary.AbortReason
	record.FinishedAt = o.now()
	if err := o.store.SaveBatch(persistCtx, record); err != nil {
		errs = append(errs, fmt.Errorf("save batch: %w", err))
	}

	report := &driving.TransferReport{Batch: record, Summary: summary}
	var err error
	if report.Roster, err = exporter.Export(mappings); err != nil {
		errs = append(errs, err)
	}
	if report.Key, err = exporter.ExportKey(record.ID, record.Salt, mappings); err != nil {
		errs = append(errs, err)
	}

	logger.Info("Transfer %s finished: %s (%d succeeded, %d failed, %d skipped, %d pending)",
		record.ID, summary.Outcome, summary.Succeeded, len(summary.Failed), len(summary.Skipped), len(summary.Pending))
	return report, errors.Join(errs...)
}

func (rn *run) emit(ev driving.ProgressEvent) {
	if rn.progress != nil {
		rn.progress(ev)
	}
}
