package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/logger"
)

// Uploader places anonymised submissions in the destination assignment.
// Creation is never retried blindly: before every retry the destination
// is searched for a submission already owned by the pseudonym.
//
// Resubmissions share a pseudonym, so every destination ID is claimed by
// the source submission that placed it and never adopted by another one.
// Uploads under the same pseudonym run one at a time, so an unclaimed
// destination submission of that owner can only come from the upload in
// progress.
type Uploader struct {
	dest       driven.SubmissionDestination
	assignment domain.AssignmentRef
	retrier    *retrier

	mu     sync.Mutex
	claims map[string]string // destination ID -> source submission ID
	owners map[string]*sync.Mutex
}

// NewUploader creates an uploader for the destination assignment.
func NewUploader(dest driven.SubmissionDestination, assignment domain.AssignmentRef, r *retrier) *Uploader {
	return &Uploader{
		dest:       dest,
		assignment: assignment,
		retrier:    r,
		claims:     make(map[string]string),
		owners:     make(map[string]*sync.Mutex),
	}
}

// claim records destID as placed by submissionID.
// It returns false if another submission already holds it.
func (u *Uploader) claim(destID, submissionID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if holder, ok := u.claims[destID]; ok && holder != submissionID {
		return false
	}
	u.claims[destID] = submissionID
	return true
}

// adopt claims the first candidate that is free or already held by submissionID.
func (u *Uploader) adopt(candidates []domain.RemoteSubmission, submissionID string) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range candidates {
		if u.claims[c.ID] == submissionID {
			return c.ID, true
		}
	}
	for _, c := range candidates {
		if _, held := u.claims[c.ID]; !held {
			u.claims[c.ID] = submissionID
			return c.ID, true
		}
	}
	return "", false
}

func (u *Uploader) ownerLock(name string) *sync.Mutex {
	key := strings.ToLower(strings.TrimSpace(name))
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.owners[key]
	if !ok {
		l = new(sync.Mutex)
		u.owners[key] = l
	}
	return l
}

// sameOwner compares owner names the way the platform matches roster members.
func sameOwner(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Upload creates and verifies the submission. The result is always terminal
// for the submission. The error is non-nil only for batch-fatal failures and
// cancellation, in which case the result is meaningless.
func (u *Uploader) Upload(ctx context.Context, anon *domain.AnonymizedSubmission) (domain.UploadResult, error) {
	owner := anon.Owner.Name
	lock := u.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error

	for attempt := 0; attempt < u.retrier.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := u.retrier.wait(ctx, attempt-1); err != nil {
				return domain.UploadResult{}, err
			}
		}

		destID, err := u.place(ctx, anon, attempt > 0)
		if err != nil {
			if !errors.Is(err, domain.ErrTransient) {
				return u.fail(anon, err)
			}
			lastErr = err
			continue
		}

		var remote *domain.RemoteSubmission
		err = u.retrier.do(ctx, func(c context.Context) error {
			var callErr error
			remote, callErr = u.dest.GetSubmission(c, u.assignment, destID)
			return callErr
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			logger.Debug("Submission %s not visible at destination yet", anon.SubmissionID)
			lastErr = fmt.Errorf("destination submission %s not found after upload", destID)
			continue
		case err != nil:
			if !errors.Is(err, domain.ErrTransient) {
				return u.fail(anon, err)
			}
			lastErr = err
			continue
		}

		if !sameOwner(remote.OwnerName, owner) {
			return withWarnings(domain.Failed(anon.SubmissionID, anon.Pseudonym.Token,
				fmt.Errorf("%w: destination shows owner %q", domain.ErrVerificationMismatch, remote.OwnerName)), anon), nil
		}
		return domain.Succeeded(anon.SubmissionID, remote.ID, anon.Pseudonym.Token, anon.Warnings), nil
	}

	return withWarnings(domain.Failed(anon.SubmissionID, anon.Pseudonym.Token,
		fmt.Errorf("%w: after %d attempts: %w", domain.ErrUploadFailed, u.retrier.policy.MaxAttempts, lastErr)), anon), nil
}

// withWarnings attaches the transform's warnings to a result that did not succeed.
func withWarnings(r domain.UploadResult, anon *domain.AnonymizedSubmission) domain.UploadResult {
	r.Warnings = anon.Warnings
	return r
}

// place returns the destination ID of this submission's upload, creating it
// unless a retry finds an earlier attempt already present. Uploads claimed
// by other submissions under the same pseudonym are never adopted.
func (u *Uploader) place(ctx context.Context, anon *domain.AnonymizedSubmission, retrying bool) (string, error) {
	if retrying {
		var existing []domain.RemoteSubmission
		err := u.retrier.do(ctx, func(c context.Context) error {
			var callErr error
			existing, callErr = u.dest.FindSubmissionsByOwner(c, u.assignment, anon.Owner.Name)
			return callErr
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		if id, ok := u.adopt(existing, anon.SubmissionID); ok {
			logger.Debug("Found earlier upload of %s as %s", anon.SubmissionID, id)
			return id, nil
		}
	}

	var destID string
	err := u.retrier.do(ctx, func(c context.Context) error {
		var callErr error
		destID, callErr = u.dest.CreateSubmission(c, u.assignment, anon.Owner, anon.Artifacts)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if !u.claim(destID, anon.SubmissionID) {
		return "", fmt.Errorf("%w: destination reused submission %s", domain.ErrVerificationMismatch, destID)
	}
	return destID, nil
}

// fail turns a stopping error into a Failed result, or passes batch-fatal
// errors and cancellation up to the caller.
func (u *Uploader) fail(anon *domain.AnonymizedSubmission, err error) (domain.UploadResult, error) {
	if domain.IsBatchFatal(err) || errors.Is(err, domain.ErrCancelled) {
		return domain.UploadResult{}, err
	}
	return withWarnings(domain.Failed(anon.SubmissionID, anon.Pseudonym.Token, fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)), anon), nil
}
