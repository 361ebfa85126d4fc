package gradescope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

const (
	testCSRF  = "csrf-123"
	testToken = "access-token"
)

var (
	srcAssignment  = domain.AssignmentRef{CourseID: "10", AssignmentID: "20"}
	destAssignment = domain.AssignmentRef{CourseID: "30", AssignmentID: "40"}
)

type fakeSubmission struct {
	id    string
	owner string
	email string
	zip   []byte
	pdf   []byte
}

// fakeGradescope serves the subset of pages the connector drives.
type fakeGradescope struct {
	t *testing.T

	mu          sync.Mutex
	pageSize    int
	submissions map[string][]fakeSubmission // by "course/assignment"
	memberships map[string]string           // course -> csv
	destRoster  string                      // gon.roster JSON
	nextID      int
	uploads     []url.Values
	uploadFiles []string
	rateLimit   int
	expireAfter int
	requests    int
}

func newFakeGradescope(t *testing.T) (*fakeGradescope, *httptest.Server) {
	f := &fakeGradescope{
		t:           t,
		pageSize:    2,
		submissions: make(map[string][]fakeSubmission),
		memberships: make(map[string]string),
		nextID:      900,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGradescope) signedIn(r *http.Request) bool {
	if r.Header.Get("Authorization") == "Bearer "+testToken {
		return true
	}
	c, err := r.Cookie("session")
	return err == nil && c.Value == "ok"
}

func (f *fakeGradescope) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if f.rateLimit > 0 {
		f.rateLimit--
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	if r.URL.Path == "/login" {
		f.serveLogin(w, r)
		return
	}
	if !f.signedIn(r) || (f.expireAfter > 0 && f.requests > f.expireAfter) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		fmt.Fprint(w, `<html><body><a href="/logout">Log Out</a></body></html>`)
	case len(parts) == 3 && parts[2] == "memberships.csv":
		data, ok := f.memberships[parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, data)
	case len(parts) == 5 && parts[4] == "submissions" && r.Method == http.MethodGet:
		f.serveList(w, r, parts[1]+"/"+parts[3])
	case len(parts) == 5 && parts[4] == "submissions" && r.Method == http.MethodPost:
		f.serveUpload(w, r, parts[1], parts[3])
	case len(parts) == 6 && parts[4] == "submissions":
		f.serveDownload(w, r, parts[1]+"/"+parts[3], parts[5])
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGradescope) serveLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprintf(w, `<html><body><form><input type="hidden" name="authenticity_token" value="%s"></form></body></html>`, testCSRF)
		return
	}
	require.NoError(f.t, r.ParseForm())
	if r.PostForm.Get("authenticity_token") != testCSRF ||
		r.PostForm.Get("session[email]") != "prof@uni.edu" ||
		r.PostForm.Get("session[password]") != "secret" {
		fmt.Fprint(w, `<html><body><p>Invalid email/password combination.</p></body></html>`)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (f *fakeGradescope) serveList(w http.ResponseWriter, r *http.Request, key string) {
	subs := f.submissions[key]
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	start := min((page-1)*f.pageSize, len(subs))
	end := min(start+f.pageSize, len(subs))

	var b strings.Builder
	fmt.Fprintf(&b, `<html><head><meta name="csrf-token" content="%s"></head><body>`, testCSRF)
	b.WriteString(`<a href="/logout">Log Out</a><table><tr><th>Name</th><th>Email</th></tr>`)
	for _, s := range subs[start:end] {
		fmt.Fprintf(&b, `<tr><td><a href="/courses/%s/submissions/%s">%s</a></td><td>%s</td></tr>`,
			strings.Replace(key, "/", "/assignments/", 1), s.id, s.owner, s.email)
	}
	b.WriteString(`<tr><td>Unsubmitted Student</td><td></td></tr></table>`)
	if end < len(subs) {
		fmt.Fprintf(&b, `<a rel="next" href="?page=%d">Next</a>`, page+1)
	}
	if f.destRoster != "" {
		fmt.Fprintf(&b, `<script>gon.push({});gon.roster = %s;gon.other = 1;</script>`, f.destRoster)
	}
	b.WriteString(`</body></html>`)
	fmt.Fprint(w, b.String())
}

func (f *fakeGradescope) serveDownload(w http.ResponseWriter, r *http.Request, key, file string) {
	id, ext, _ := strings.Cut(file, ".")
	for _, s := range f.submissions[key] {
		if s.id != id {
			continue
		}
		switch {
		case ext == "":
			fmt.Fprintf(w, `<html><body><h1>%s</h1></body></html>`, s.owner)
			return
		case ext == "zip" && s.zip != nil:
			_, _ = w.Write(s.zip)
			return
		case ext == "pdf" && s.pdf != nil:
			_, _ = w.Write(s.pdf)
			return
		}
	}
	http.NotFound(w, r)
}

func (f *fakeGradescope) serveUpload(w http.ResponseWriter, r *http.Request, course, assignment string) {
	require.NoError(f.t, r.ParseMultipartForm(1<<20))
	if r.FormValue("authenticity_token") != testCSRF {
		http.Error(w, "bad token", http.StatusUnprocessableEntity)
		return
	}
	f.uploads = append(f.uploads, url.Values(r.MultipartForm.Value))
	for _, fh := range r.MultipartForm.File["submission[files][]"] {
		file, err := fh.Open()
		require.NoError(f.t, err)
		data, err := io.ReadAll(file)
		require.NoError(f.t, err)
		f.uploadFiles = append(f.uploadFiles, fh.Filename+"="+string(data))
	}

	ownerName := ""
	switch r.FormValue("submission[owner_id]") {
	case "501":
		ownerName = "Anon 3f9a2c1b"
	case "502":
		ownerName = "Anon 0badf00d"
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	key := course + "/" + assignment
	f.submissions[key] = append(f.submissions[key], fakeSubmission{id: id, owner: ownerName})
	http.Redirect(w, r, fmt.Sprintf("/courses/%s/assignments/%s/submissions/%s", course, assignment, id), http.StatusFound)
}

func (f *fakeGradescope) add(a domain.AssignmentRef, subs ...fakeSubmission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := a.CourseID + "/" + a.AssignmentID
	f.submissions[key] = append(f.submissions[key], subs...)
}

func signIn(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()
	p, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	s, err := p.Authenticate(context.Background(), domain.Credentials{Email: "prof@uni.edu", Password: "secret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.(*Session)
}

func TestAuthenticate(t *testing.T) {
	_, srv := newFakeGradescope(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("password", func(t *testing.T) {
		s, err := p.Authenticate(ctx, domain.Credentials{Email: "prof@uni.edu", Password: "secret"})
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := p.Authenticate(ctx, domain.Credentials{Email: "prof@uni.edu", Password: "nope"})
		assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		assert.True(t, domain.IsBatchFatal(err))
	})

	t.Run("token", func(t *testing.T) {
		s, err := p.Authenticate(ctx, domain.Credentials{Token: testToken})
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("bad token", func(t *testing.T) {
		_, err := p.Authenticate(ctx, domain.Credentials{Token: "wrong"})
		assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := p.Authenticate(ctx, domain.Credentials{Email: "prof@uni.edu"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestAuthenticate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p, err := New(Config{BaseURL: addr, Timeout: time.Second})
	require.NoError(t, err)
	_, err = p.Authenticate(context.Background(), domain.Credentials{Email: "a@b.c", Password: "x"})
	assert.ErrorIs(t, err, domain.ErrConnectivityLost)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, PlatformType, p.Type())
	assert.Equal(t, "www.gradescope.com", p.base.Host)
}

func TestListSubmissions_JoinsRoster(t *testing.T) {
	f, srv := newFakeGradescope(t)
	f.memberships["10"] = "Full Name,SID,Email,Role\r\n" +
		"Alice Smith,S1,alice@uni.edu,Student\r\n" +
		"Bob Jones,S2,bob@uni.edu,TA\r\n"
	f.add(srcAssignment,
		fakeSubmission{id: "11", owner: "Alice Smith"},
		fakeSubmission{id: "12", owner: "Bob Jones"},
		fakeSubmission{id: "13", owner: "Carol King"},
		fakeSubmission{id: "14", owner: "B. Jones", email: "bob@uni.edu"},
	)
	s := signIn(t, srv)
	ctx := context.Background()

	page1, err := s.ListSubmissions(ctx, srcAssignment, "")
	require.NoError(t, err)
	require.Len(t, page1.Submissions, 2)
	assert.Equal(t, "2", page1.Next)
	assert.Equal(t, domain.SubmissionRef{
		ID:    "11",
		Owner: domain.Identity{Name: "Alice Smith", StudentID: "S1", Email: "alice@uni.edu", Role: "Student"},
	}, page1.Submissions[0])
	assert.Equal(t, "TA", page1.Submissions[1].Owner.Role)

	page2, err := s.ListSubmissions(ctx, srcAssignment, page1.Next)
	require.NoError(t, err)
	require.Len(t, page2.Submissions, 2)
	assert.Empty(t, page2.Next)

	carol := page2.Submissions[0].Owner
	assert.Equal(t, "Carol King", carol.Name)
	assert.ErrorIs(t, carol.Validate(), domain.ErrInvalidIdentity, "students missing from the roster have no student id")

	byEmail := page2.Submissions[1].Owner
	assert.Equal(t, "B. Jones", byEmail.Name)
	assert.Equal(t, "S2", byEmail.StudentID, "email matches take precedence over names")
}

func TestListSubmissions_WithoutRoster(t *testing.T) {
	f, srv := newFakeGradescope(t)
	f.add(srcAssignment, fakeSubmission{id: "11", owner: "Alice Smith"})
	s := signIn(t, srv)

	page, err := s.ListSubmissions(context.Background(), srcAssignment, "")
	require.NoError(t, err)
	require.Len(t, page.Submissions, 1)
	assert.Empty(t, page.Submissions[0].Owner.StudentID)
}

func TestFetchSubmission(t *testing.T) {
	f, srv := newFakeGradescope(t)
	f.add(srcAssignment,
		fakeSubmission{id: "11", owner: "Alice Smith", zip: []byte("PK\x03\x04rest-of-zip")},
		fakeSubmission{id: "12", owner: "Bob Jones", pdf: []byte("%PDF-1.7 body")},
		fakeSubmission{id: "13", owner: "Carol King", zip: []byte("<html>not a zip</html>")},
	)
	s := signIn(t, srv)
	ctx := context.Background()
	ref := domain.SubmissionRef{ID: "11", Owner: domain.Identity{Name: "Alice Smith", StudentID: "S1"}}

	sub, err := s.FetchSubmission(ctx, srcAssignment, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, sub.SubmissionRef)
	require.Len(t, sub.Artifacts, 1)
	assert.Equal(t, "submission_11.zip", sub.Artifacts[0].Filename)
	assert.Equal(t, "application/zip", sub.Artifacts[0].MIMEType)
	assert.Equal(t, "10/20", sub.Metadata["source_assignment"])

	t.Run("pdf fallback", func(t *testing.T) {
		sub, err := s.FetchSubmission(ctx, srcAssignment, domain.SubmissionRef{ID: "12"})
		require.NoError(t, err)
		assert.Equal(t, "submission_12.pdf", sub.Artifacts[0].Filename)
	})

	t.Run("nothing downloadable", func(t *testing.T) {
		_, err := s.FetchSubmission(ctx, srcAssignment, domain.SubmissionRef{ID: "13"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCreateSubmission(t *testing.T) {
	f, srv := newFakeGradescope(t)
	f.destRoster = `[{"id": 501, "name": "Anon 3f9a2c1b", "email": "3f9a2c1b@example.edu"}, {"id": "502", "name": "Anon 0badf00d"}]`
	s := signIn(t, srv)
	ctx := context.Background()

	owner := domain.Identity{Name: "Anon 3f9a2c1b", StudentID: "3f9a2c1b"}
	id, err := s.CreateSubmission(ctx, destAssignment, owner, []domain.Artifact{
		{Filename: "Anon_3f9a2c1b.py", Content: []byte("print(1)")},
		{Filename: "Anon_3f9a2c1b_2.txt", Content: []byte("notes")},
	})
	require.NoError(t, err)
	assert.Equal(t, "901", id)

	require.Len(t, f.uploads, 1)
	up := f.uploads[0]
	assert.Equal(t, "501", up.Get("submission[owner_id]"))
	assert.Equal(t, "upload", up.Get("submission_method"))
	assert.Equal(t, []string{"Anon_3f9a2c1b.py=print(1)", "Anon_3f9a2c1b_2.txt=notes"}, f.uploadFiles)

	remote, err := s.GetSubmission(ctx, destAssignment, id)
	require.NoError(t, err)
	assert.Equal(t, "Anon 3f9a2c1b", remote.OwnerName)

	found, err := s.FindSubmissionsByOwner(ctx, destAssignment, "anon 3f9a2c1b")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	t.Run("string ids", func(t *testing.T) {
		id, err := s.CreateSubmission(ctx, destAssignment, domain.Identity{Name: "Anon 0badf00d"}, nil)
		require.NoError(t, err)
		remote, err := s.GetSubmission(ctx, destAssignment, id)
		require.NoError(t, err)
		assert.Equal(t, "Anon 0badf00d", remote.OwnerName)
	})

	t.Run("owner not on roster", func(t *testing.T) {
		_, err := s.CreateSubmission(ctx, destAssignment, domain.Identity{Name: "Anon 12345678"}, nil)
		assert.ErrorIs(t, err, ErrOwnerNotOnRoster)
		assert.False(t, domain.IsRetryable(err))
	})
}

func TestGetSubmission_NotFound(t *testing.T) {
	f, srv := newFakeGradescope(t)
	f.add(destAssignment,
		fakeSubmission{id: "1", owner: "A"},
		fakeSubmission{id: "2", owner: "B"},
		fakeSubmission{id: "3", owner: "C"},
	)
	s := signIn(t, srv)
	ctx := context.Background()

	remote, err := s.GetSubmission(ctx, destAssignment, "3")
	require.NoError(t, err)
	assert.Equal(t, "C", remote.OwnerName)

	_, err = s.GetSubmission(ctx, destAssignment, "99")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.FindSubmissionsByOwner(ctx, destAssignment, "Z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSession_ErrorClassification(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		f, srv := newFakeGradescope(t)
		s := signIn(t, srv)
		f.mu.Lock()
		f.rateLimit = 1
		f.mu.Unlock()

		_, err := s.ListSubmissions(context.Background(), srcAssignment, "")
		require.ErrorIs(t, err, domain.ErrRateLimited)
		var rl *RateLimitError
		require.True(t, errors.As(err, &rl))
		assert.Equal(t, 7*time.Second, rl.RetryAfter())
	})

	t.Run("expired session", func(t *testing.T) {
		f, srv := newFakeGradescope(t)
		s := signIn(t, srv)
		f.mu.Lock()
		f.expireAfter = f.requests
		f.mu.Unlock()

		_, err := s.ListSubmissions(context.Background(), srcAssignment, "")
		assert.ErrorIs(t, err, domain.ErrAuthInvalid)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("closed", func(t *testing.T) {
		_, srv := newFakeGradescope(t)
		s := signIn(t, srv)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.ListSubmissions(context.Background(), srcAssignment, "")
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}
