package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// --- Mock implementations for transfer testing ---

// errLostResponse makes the mock destination store the submission but
// report a transient failure, as if the response was lost in transit.
var errLostResponse = fmt.Errorf("%w: connection reset after upload", domain.ErrTransient)

// rateLimitError is a rate limit signal with a Retry-After hint.
type rateLimitError struct {
	after time.Duration
}

func (e *rateLimitError) Error() string             { return "429 too many requests" }
func (e *rateLimitError) Unwrap() error             { return domain.ErrRateLimited }
func (e *rateLimitError) RetryAfter() time.Duration { return e.after }

// mockSession implements driven.Session over an in-memory course.
type mockSession struct {
	mu sync.Mutex

	// Source side.
	pageSize      int
	refs          []domain.SubmissionRef
	files         map[string][]domain.Artifact
	listErr       error
	fetchFailures map[string]int // remaining failures per submission, -1 for always
	fetchErr      error
	onFetch       func(id string)
	listCalls     int
	fetchCalls    map[string]int

	// Destination side.
	createErrs    []error // consumed one per create call, nil entries succeed
	ownerOverride string
	getMisses     int
	remote        map[string]domain.RemoteSubmission
	uploads       map[string][]domain.Artifact
	createCalls   int
	findCalls     int
	nextID        int

	closed bool
}

func newMockSession(refs ...domain.SubmissionRef) *mockSession {
	s := &mockSession{
		pageSize:      2,
		refs:          refs,
		files:         make(map[string][]domain.Artifact),
		fetchFailures: make(map[string]int),
		fetchCalls:    make(map[string]int),
		remote:        make(map[string]domain.RemoteSubmission),
		uploads:       make(map[string][]domain.Artifact),
	}
	for _, r := range refs {
		s.files[r.ID] = []domain.Artifact{{Filename: "answer.txt", Content: []byte("solution for " + r.ID)}}
	}
	return s
}

func (m *mockSession) ListSubmissions(_ context.Context, _ domain.AssignmentRef, page string) (*driven.SubmissionPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	start := 0
	if page != "" {
		start, _ = strconv.Atoi(page)
	}
	end := min(start+m.pageSize, len(m.refs))
	out := &driven.SubmissionPage{Submissions: append([]domain.SubmissionRef(nil), m.refs[start:end]...)}
	if end < len(m.refs) {
		out.Next = strconv.Itoa(end)
	}
	return out, nil
}

func (m *mockSession) FetchSubmission(_ context.Context, _ domain.AssignmentRef, ref domain.SubmissionRef) (*domain.SourceSubmission, error) {
	if m.onFetch != nil {
		m.onFetch(ref.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls[ref.ID]++

	if n := m.fetchFailures[ref.ID]; n != 0 {
		if n > 0 {
			m.fetchFailures[ref.ID] = n - 1
		}
		if m.fetchErr != nil {
			return nil, m.fetchErr
		}
		return nil, fmt.Errorf("%w: 503 from platform", domain.ErrTransient)
	}

	return &domain.SourceSubmission{
		SubmissionRef: domain.SubmissionRef{ID: ref.ID, Owner: domain.Identity{Name: "platform copy"}},
		Artifacts:     m.files[ref.ID],
		Metadata:      map[string]string{"title": "Homework of " + ref.Owner.Name},
	}, nil
}

func (m *mockSession) CreateSubmission(_ context.Context, _ domain.AssignmentRef, owner domain.Identity, artifacts []domain.Artifact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	var err error
	if len(m.createErrs) > 0 {
		err, m.createErrs = m.createErrs[0], m.createErrs[1:]
		if err != nil && err != errLostResponse {
			return "", err
		}
	}

	m.nextID++
	id := "dest-" + strconv.Itoa(m.nextID)
	name := owner.Name
	if m.ownerOverride != "" {
		name = m.ownerOverride
	}
	m.remote[id] = domain.RemoteSubmission{ID: id, OwnerName: name}
	m.uploads[id] = artifacts
	if err != nil {
		return "", err
	}
	return id, nil
}

func (m *mockSession) GetSubmission(_ context.Context, _ domain.AssignmentRef, id string) (*domain.RemoteSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getMisses > 0 {
		m.getMisses--
		return nil, domain.ErrNotFound
	}
	r, ok := m.remote[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockSession) FindSubmissionsByOwner(_ context.Context, _ domain.AssignmentRef, ownerName string) ([]domain.RemoteSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	var out []domain.RemoteSubmission
	for _, r := range m.remote {
		if r.OwnerName == ownerName {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	slices.SortFunc(out, func(a, b domain.RemoteSubmission) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSession) fetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[id]
}

func (m *mockSession) uploadedOwners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.remote))
	for _, r := range m.remote {
		out = append(out, r.OwnerName)
	}
	return out
}

// mockPlatform implements driven.Platform.
type mockPlatform struct {
	session   *mockSession
	authErr   error
	authCalls int
}

func (p *mockPlatform) Type() string { return "mock" }

func (p *mockPlatform) Authenticate(_ context.Context, _ domain.Credentials) (driven.Session, error) {
	p.authCalls++
	if p.authErr != nil {
		return nil, p.authErr
	}
	return p.session, nil
}

// mockSettings implements driving.SettingsService with fixed values.
type mockSettings struct {
	settings domain.AppSettings
	err      error
}

func newMockSettings() *mockSettings {
	s := domain.DefaultAppSettings()
	s.Transfer.BaseDelay = time.Millisecond
	s.Transfer.MaxDelay = 4 * time.Millisecond
	s.Transfer.Cooldown = time.Millisecond
	s.Transfer.RequestsPerSecond = 1000
	s.Transfer.InFlightTimeout = time.Second
	return &mockSettings{settings: s}
}

func (m *mockSettings) Get() (*domain.AppSettings, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := m.settings
	return &s, nil
}

func (m *mockSettings) Save(s *domain.AppSettings) error {
	m.settings = *s
	return nil
}

func (m *mockSettings) Set(string, string) error {
	return errors.New("not supported")
}

func (m *mockSettings) Keys() []string { return nil }

func (m *mockSettings) GetDefaults() domain.AppSettings { return domain.DefaultAppSettings() }

// testRetrier returns a retrier with millisecond delays.
func testRetrier() *retrier {
	policy := RetryPolicy{
		MaxAttempts:      5,
		BaseDelay:        time.Millisecond,
		MaxDelay:         4 * time.Millisecond,
		RateLimitRetries: 3,
	}
	return newRetrier(policy, NewThrottle(1000, time.Millisecond), time.Second)
}

func student(id, name, sid string) domain.SubmissionRef {
	email := ""
	if sid != "" {
		email = strings.ToLower(sid) + "@uni.edu"
	}
	return domain.SubmissionRef{ID: id, Owner: domain.Identity{Name: name, StudentID: sid, Email: email}}
}

var testAssignment = domain.AssignmentRef{CourseID: "100", AssignmentID: "200"}
