package gradescope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/logger"
)

// maxScanPages bounds a full scan of a submissions table.
const maxScanPages = 500

var (
	zipMagic = []byte("PK\x03\x04")
	pdfMagic = []byte("%PDF")
)

// Ensure Session implements the interface.
var _ driven.Session = (*Session)(nil)

// Session is a signed-in platform session. It is safe for concurrent use.
type Session struct {
	client *http.Client
	base   *url.URL
	cfg    Config

	mu      sync.Mutex
	closed  bool
	rosters map[string]*courseRoster
}

func newSession(client *http.Client, base *url.URL, cfg Config) *Session {
	return &Session{
		client:  client,
		base:    base,
		cfg:     cfg,
		rosters: make(map[string]*courseRoster),
	}
}

// response is a fully read HTTP response.
type response struct {
	body []byte
	url  *url.URL
}

func (s *Session) resolve(path string, query url.Values) *url.URL {
	u := *s.base
	u.Path = s.base.Path + path
	u.RawQuery = query.Encode()
	return &u
}

func (s *Session) get(ctx context.Context, op, path string, query url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolve(path, query).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.do(op, req)
}

// do sends req and reads the response. Non-2xx statuses and redirects to
// the login page become errors.
func (s *Session) do(op string, req *http.Request) (*response, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, statusError(resp, body))
	}

	final := resp.Request.URL
	if final.Path == s.base.Path+"/login" && req.URL.Path != final.Path {
		return nil, fmt.Errorf("%s: %w", op, ErrSignedOut)
	}
	return &response{body: body, url: final}, nil
}

func submissionsPath(a domain.AssignmentRef) string {
	return fmt.Sprintf("/courses/%s/assignments/%s/submissions",
		url.PathEscape(a.CourseID), url.PathEscape(a.AssignmentID))
}

// listPage reads one page of the submissions table.
func (s *Session) listPage(ctx context.Context, a domain.AssignmentRef, page string) ([]submissionRow, string, error) {
	query := url.Values{}
	if page != "" {
		query.Set("page", page)
	}
	resp, err := s.get(ctx, "list submissions", submissionsPath(a), query)
	if err != nil {
		return nil, "", err
	}
	doc, err := parseHTML(resp.body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return parseSubmissions(doc), nextPage(doc), nil
}

// courseRoster returns the course roster, downloading it once per session.
// A course without a roster export yields an empty roster.
func (s *Session) courseRoster(ctx context.Context, courseID string) (*courseRoster, error) {
	s.mu.Lock()
	r, ok := s.rosters[courseID]
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	resp, err := s.get(ctx, "download roster", fmt.Sprintf("/courses/%s/memberships.csv", url.PathEscape(courseID)), nil)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("Course %s has no roster export, owners will lack student IDs", courseID)
		r = newCourseRoster()
	case err != nil:
		return nil, err
	default:
		if r, err = parseMemberships(resp.body); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
	}

	s.mu.Lock()
	s.rosters[courseID] = r
	s.mu.Unlock()
	return r, nil
}

// ListSubmissions returns one page of the assignment's submissions with
// owners joined against the course roster.
func (s *Session) ListSubmissions(ctx context.Context, a domain.AssignmentRef, page string) (*driven.SubmissionPage, error) {
	roster, err := s.courseRoster(ctx, a.CourseID)
	if err != nil {
		return nil, err
	}
	rows, next, err := s.listPage(ctx, a, page)
	if err != nil {
		return nil, err
	}

	out := &driven.SubmissionPage{
		Submissions: make([]domain.SubmissionRef, 0, len(rows)),
		Next:        next,
	}
	for _, row := range rows {
		out.Submissions = append(out.Submissions, domain.SubmissionRef{ID: row.ID, Owner: roster.identity(row)})
	}
	return out, nil
}

// FetchSubmission downloads the submission archive. Submissions without an
// archive fall back to the submitted PDF.
func (s *Session) FetchSubmission(ctx context.Context, a domain.AssignmentRef, ref domain.SubmissionRef) (*domain.SourceSubmission, error) {
	base := submissionsPath(a) + "/" + url.PathEscape(ref.ID)

	var artifact *domain.Artifact
	for _, ext := range []string{".zip", ".pdf"} {
		resp, err := s.get(ctx, "download submission", base+ext, nil)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if art := downloadedArtifact(ref.ID, ext, resp); art != nil {
			artifact = art
			break
		}
	}
	if artifact == nil {
		return nil, fmt.Errorf("%w: submission %s has no downloadable files", domain.ErrNotFound, ref.ID)
	}

	return &domain.SourceSubmission{
		SubmissionRef: ref,
		Artifacts:     []domain.Artifact{*artifact},
		Metadata:      map[string]string{"source_assignment": a.String()},
	}, nil
}

func downloadedArtifact(id, ext string, resp *response) *domain.Artifact {
	magic, mime := zipMagic, "application/zip"
	if ext == ".pdf" {
		magic, mime = pdfMagic, "application/pdf"
	}
	if !bytes.HasPrefix(resp.body, magic) {
		return nil
	}
	return &domain.Artifact{Filename: "submission_" + id + ext, MIMEType: mime, Content: resp.body}
}

// uploadForm is what the upload page provides for one upload.
type uploadForm struct {
	token   string
	ownerID string
}

func (s *Session) uploadForm(ctx context.Context, a domain.AssignmentRef, owner domain.Identity) (*uploadForm, error) {
	resp, err := s.get(ctx, "open upload form", submissionsPath(a), nil)
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	if !signedIn(doc) {
		return nil, ErrSignedOut
	}

	form := &uploadForm{token: formToken(doc)}
	if form.token == "" {
		return nil, ErrMissingToken
	}

	members, err := parseGonRoster(doc)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if strings.EqualFold(strings.TrimSpace(m.Name), owner.Name) {
			form.ownerID = m.ID
			return form, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrOwnerNotOnRoster, owner.Name)
}

// CreateSubmission uploads artifacts as a new submission owned by the
// destination roster member named owner.Name.
func (s *Session) CreateSubmission(ctx context.Context, a domain.AssignmentRef, owner domain.Identity, artifacts []domain.Artifact) (string, error) {
	form, err := s.uploadForm(ctx, a, owner)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"utf8", "✓"},
		{"authenticity_token", form.token},
		{"submission_method", "upload"},
		{"submission[owner_id]", form.ownerID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("build upload: %w", err)
		}
	}
	for _, art := range artifacts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="submission[files][]"; filename=%q`, art.Filename))
		h.Set("Content-Type", "application/octet-stream")
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("build upload: %w", err)
		}
		if _, err := part.Write(art.Content); err != nil {
			return "", fmt.Errorf("build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.resolve(submissionsPath(a), nil).String(), &body)
	if err != nil {
		return "", fmt.Errorf("upload submission: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-CSRF-Token", form.token)

	resp, err := s.do("upload submission", req)
	if err != nil {
		return "", err
	}
	id := createdSubmissionID(resp.url)
	if id == "" {
		return "", fmt.Errorf("upload submission: %w: response did not name the new submission", domain.ErrTransient)
	}
	return id, nil
}

// scan walks the pages of the submissions table and returns the rows match
// accepts. It stops at the first match when first is set.
func (s *Session) scan(ctx context.Context, a domain.AssignmentRef, first bool, match func(submissionRow) bool) ([]submissionRow, error) {
	var found []submissionRow
	seen := make(map[string]bool)
	page := ""
	for range maxScanPages {
		rows, next, err := s.listPage(ctx, a, page)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if match(row) {
				found = append(found, row)
				if first {
					return found, nil
				}
			}
		}
		if next == "" || seen[next] {
			break
		}
		seen[next] = true
		page = next
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

// GetSubmission reads the owner of a submission from the submissions table.
func (s *Session) GetSubmission(ctx context.Context, a domain.AssignmentRef, id string) (*domain.RemoteSubmission, error) {
	rows, err := s.scan(ctx, a, true, func(r submissionRow) bool { return r.ID == id })
	if err != nil {
		return nil, err
	}
	return &domain.RemoteSubmission{ID: rows[0].ID, OwnerName: rows[0].Name}, nil
}

// FindSubmissionsByOwner searches the submissions table for ownerName.
func (s *Session) FindSubmissionsByOwner(ctx context.Context, a domain.AssignmentRef, ownerName string) ([]domain.RemoteSubmission, error) {
	owner := strings.TrimSpace(ownerName)
	rows, err := s.scan(ctx, a, false, func(r submissionRow) bool { return strings.EqualFold(strings.TrimSpace(r.Name), owner) })
	if err != nil {
		return nil, err
	}
	out := make([]domain.RemoteSubmission, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RemoteSubmission{ID: row.ID, OwnerName: row.Name})
	}
	return out, nil
}

// Close ends the session. Further calls fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
