package services

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/logger"
)

// SubmissionFetcher enumerates and downloads submissions from a source assignment.
type SubmissionFetcher struct {
	source  driven.SubmissionSource
	retrier *retrier
}

// NewSubmissionFetcher creates a fetcher over source.
func NewSubmissionFetcher(source driven.SubmissionSource, r *retrier) *SubmissionFetcher {
	return &SubmissionFetcher{source: source, retrier: r}
}

// List returns the assignment's submissions as a lazy sequence.
// Pages are fetched on demand and concatenated in platform order.
// Each iteration re-enumerates from the first page. On failure a single
// error is yielded and the sequence ends.
func (f *SubmissionFetcher) List(ctx context.Context, assignment domain.AssignmentRef) iter.Seq2[domain.SubmissionRef, error] {
	return func(yield func(domain.SubmissionRef, error) bool) {
		cursor := ""
		seen := make(map[string]bool)

		for pageNum := 1; ; pageNum++ {
			logger.Debug("Listing submissions page %d of %s", pageNum, assignment)
			page, err := retryCall(ctx, f.retrier, func(c context.Context) (*driven.SubmissionPage, error) {
				return f.source.ListSubmissions(c, assignment, cursor)
			})
			if err != nil {
				yield(domain.SubmissionRef{}, fmt.Errorf("list submissions page %d: %w", pageNum, err))
				return
			}

			for _, ref := range page.Submissions {
				if !yield(ref, nil) {
					return
				}
			}

			if page.Next == "" {
				return
			}
			if seen[page.Next] {
				yield(domain.SubmissionRef{}, fmt.Errorf("%w: listing cursor %q repeats", domain.ErrInvalidInput, page.Next))
				return
			}
			seen[page.Next] = true
			cursor = page.Next
		}
	}
}

// Fetch downloads one submission's artifacts and metadata.
// Transient failures are retried with backoff. Any failure other than a
// batch-fatal error or cancellation is reported as domain.ErrFetchFailed.
func (f *SubmissionFetcher) Fetch(ctx context.Context, assignment domain.AssignmentRef, ref domain.SubmissionRef) (*domain.SourceSubmission, error) {
	sub, err := retryCall(ctx, f.retrier, func(c context.Context) (*domain.SourceSubmission, error) {
		return f.source.FetchSubmission(c, assignment, ref)
	})
	if err != nil {
		if domain.IsBatchFatal(err) || errors.Is(err, domain.ErrCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}

	// The listing carries the roster-joined owner; keep it authoritative.
	sub.SubmissionRef = ref
	return sub, nil
}
