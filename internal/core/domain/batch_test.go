package domain

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch() *TransferBatch {
	return NewTransferBatch(
		"batch-1",
		AssignmentRef{CourseID: "1", AssignmentID: "10"},
		AssignmentRef{CourseID: "2", AssignmentID: "20"},
		"salt",
		time.Unix(0, 0),
	)
}

// advanceTo walks a submission through every state up to target.
func advanceTo(t *testing.T, b *TransferBatch, id string, target SubmissionState) {
	t.Helper()
	for s := StateFetched; s <= target; s++ {
		require.NoError(t, b.Advance(id, s))
	}
}

func TestSubmissionState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SubmissionState
		want     bool
	}{
		{StateDiscovered, StateFetched, true},
		{StateFetched, StateMapped, true},
		{StateMapped, StateAnonymized, true},
		{StateAnonymized, StateUploadAttempted, true},
		{StateUploadAttempted, StateSucceeded, true},
		{StateDiscovered, StateMapped, false},
		{StateFetched, StateDiscovered, false},
		{StateAnonymized, StateSucceeded, false},
		{StateDiscovered, StateSkipped, true},
		{StateMapped, StateFailed, true},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateSkipped, false},
		{StateSkipped, StateSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTransferBatch_HappyPath(t *testing.T) {
	b := newTestBatch()
	require.NoError(t, b.Discover("s1"))
	b.RegisterToken("tok1")

	advanceTo(t, b, "s1", StateUploadAttempted)
	require.NoError(t, b.Record(Succeeded("s1", "d1", "tok1", nil)))

	state, ok := b.State("s1")
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, state)

	require.NoError(t, b.Finalize([]IdentityMapping{{Token: "tok1", Identity: Identity{StudentID: "S1"}}}))
	assert.True(t, b.IsFinalized())

	sum := b.Summary()
	assert.Equal(t, OutcomeAllSucceeded, sum.Outcome)
	assert.Equal(t, 1, sum.Succeeded)
}

func TestTransferBatch_Record(t *testing.T) {
	t.Run("rejects duplicate results", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		require.NoError(t, b.Record(Skipped("s1", "", ErrInvalidIdentity)))

		err := b.Record(Skipped("s1", "", ErrInvalidIdentity))
		assert.True(t, errors.Is(err, ErrDuplicateResult))
	})

	t.Run("rejects unknown submission", func(t *testing.T) {
		b := newTestBatch()
		err := b.Record(Skipped("ghost", "", ErrFetchFailed))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Empty(t, b.Results())
	})

	t.Run("rejects token not issued in this batch", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		err := b.Record(Skipped("s1", "nope", ErrFetchFailed))
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("rejects success before upload attempt", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		b.RegisterToken("tok")
		advanceTo(t, b, "s1", StateAnonymized)
		err := b.Record(Succeeded("s1", "d1", "tok", nil))
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("rejects writes after finalize", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		require.NoError(t, b.Finalize(nil))
		assert.True(t, errors.Is(b.Record(Skipped("s1", "", ErrFetchFailed)), ErrBatchFinalized))
		assert.True(t, errors.Is(b.Discover("s2"), ErrBatchFinalized))
		assert.True(t, errors.Is(b.Finalize(nil), ErrBatchFinalized))
	})

	t.Run("terminal states cannot be reached through Advance", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		assert.True(t, errors.Is(b.Advance("s1", StateSkipped), ErrInvalidTransition))
	})
}

func TestTransferBatch_ResultsNeverExceedSubmissions(t *testing.T) {
	b := newTestBatch()
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Discover(fmt.Sprintf("s%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < n*2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Record(Skipped(fmt.Sprintf("s%d", i%n), "", ErrFetchFailed))
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.Results(), n)
	assert.LessOrEqual(t, len(b.Results()), len(b.Submissions()))
}

func TestTransferBatch_Finalize_UnknownToken(t *testing.T) {
	b := newTestBatch()
	require.NoError(t, b.Discover("s1"))
	b.RegisterToken("tok1")
	require.NoError(t, b.Record(Skipped("s1", "tok1", ErrFetchFailed)))

	err := b.Finalize([]IdentityMapping{{Token: "other"}})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, b.IsFinalized())
}

func TestTransferBatch_Summary(t *testing.T) {
	t.Run("partial failure lists failed and skipped", func(t *testing.T) {
		b := newTestBatch()
		for _, id := range []string{"s1", "s2", "s3"} {
			require.NoError(t, b.Discover(id))
		}
		b.RegisterToken("t1")
		b.RegisterToken("t2")
		advanceTo(t, b, "s1", StateUploadAttempted)
		require.NoError(t, b.Record(Succeeded("s1", "d1", "t1", []Warning{{Code: WarnContentMayLeakIdentity, Message: "x"}})))
		require.NoError(t, b.Record(Skipped("s2", "t2", fmt.Errorf("%w: timeout", ErrFetchFailed))))
		advanceTo(t, b, "s3", StateUploadAttempted)
		require.NoError(t, b.Record(Failed("s3", "t1", ErrVerificationMismatch)))

		sum := b.Summary()
		assert.Equal(t, OutcomePartialFailure, sum.Outcome)
		assert.Equal(t, 1, sum.Succeeded)
		require.Len(t, sum.Failed, 1)
		assert.Equal(t, "s3", sum.Failed[0].SubmissionID)
		require.Len(t, sum.Skipped, 1)
		assert.Contains(t, sum.Skipped[0].Reason, "fetch failed")
		require.Len(t, sum.Warnings, 1)
		assert.Equal(t, "s1", sum.Warnings[0].SubmissionID)
		assert.Len(t, sum.NotSucceeded(), 2)
	})

	t.Run("abort reports pending submissions", func(t *testing.T) {
		b := newTestBatch()
		require.NoError(t, b.Discover("s1"))
		require.NoError(t, b.Discover("s2"))
		advanceTo(t, b, "s2", StateMapped)
		b.Abort(ErrCancelled)
		b.Abort(ErrAuthInvalid)

		sum := b.Summary()
		assert.Equal(t, OutcomeAborted, sum.Outcome)
		assert.Equal(t, "cancelled", sum.AbortReason)
		require.Len(t, sum.Pending, 2)
		assert.Equal(t, PendingRef{SubmissionID: "s2", State: StateMapped}, sum.Pending[1])
	})

	t.Run("empty batch is all succeeded", func(t *testing.T) {
		assert.Equal(t, OutcomeAllSucceeded, newTestBatch().Summary().Outcome)
	})
}
