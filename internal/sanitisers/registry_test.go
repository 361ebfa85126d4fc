package sanitisers

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

type stubSanitiser struct {
	format   domain.ArtifactFormat
	priority int
	detect   bool
	err      error
	calls    int
}

func (s *stubSanitiser) Format() domain.ArtifactFormat { return s.format }
func (s *stubSanitiser) Priority() int                 { return s.priority }
func (s *stubSanitiser) Detect(domain.Artifact) bool   { return s.detect }
func (s *stubSanitiser) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &driven.SanitiseResult{Content: []byte(string(s.format)), Format: s.format}, nil
}

func request(a domain.Artifact) driven.SanitiseRequest {
	return driven.SanitiseRequest{
		Artifact:    a,
		Fragments:   domain.Identity{Name: "Alice Smith", StudentID: "S1234"}.Fragments(),
		Replacement: "Anon 3f9a2c1b",
	}
}

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry()
	low := &stubSanitiser{format: "low", priority: 1, detect: true}
	high := &stubSanitiser{format: "high", priority: 9, detect: true}
	tie := &stubSanitiser{format: "tie", priority: 9, detect: true}
	r.Register(low)
	r.Register(high)
	r.Register(tie)

	assert.Equal(t, []domain.ArtifactFormat{"high", "tie", "low"}, r.Formats())

	res, err := r.Sanitise(request(domain.Artifact{Content: []byte("x")}))
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactFormat("high"), res.Format)
	assert.Equal(t, 1, high.calls)
	assert.Zero(t, tie.calls)
	assert.Zero(t, low.calls)
}

func TestRegistry_SkipsNonMatching(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubSanitiser{format: "high", priority: 9})
	r.Register(&stubSanitiser{format: "low", priority: 1, detect: true})

	res, err := r.Sanitise(request(domain.Artifact{Content: []byte("x")}))
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactFormat("low"), res.Format)
}

func TestRegistry_Unrecognised(t *testing.T) {
	r := NewRegistry()
	content := []byte{0x89, 'P', 'N', 'G', 0x00}

	res, err := r.Sanitise(request(domain.Artifact{Content: content}))
	require.NoError(t, err)
	assert.Equal(t, domain.FormatUnrecognised, res.Format)
	assert.Equal(t, content, res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, domain.WarnContentMayLeakIdentity, res.Warnings[0].Code)
	assert.Equal(t, "unrecognised format, content passed through unchanged", res.Warnings[0].Message)
}

func TestRegistry_SanitiserErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubSanitiser{format: "broken", priority: 5, detect: true, err: errors.New("bad xref")})

	res, err := r.Sanitise(request(domain.Artifact{Content: []byte("raw")}))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "bad xref")
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, []domain.ArtifactFormat{
		domain.FormatOfficeXML,
		domain.FormatPDF,
		domain.FormatArchive,
		domain.FormatPlainText,
	}, r.Formats())

	t.Run("plain text", func(t *testing.T) {
		res, err := r.Sanitise(request(domain.Artifact{Filename: "main.go", Content: []byte("// Alice Smith\npackage main\n")}))
		require.NoError(t, err)
		assert.Equal(t, domain.FormatPlainText, res.Format)
		assert.Equal(t, "// Alice Smith\npackage main\n", string(res.Content))
		assert.Empty(t, res.Warnings)
	})

	t.Run("pdf", func(t *testing.T) {
		res, err := r.Sanitise(request(domain.Artifact{Content: []byte("%PDF-1.4\n1 0 obj << /Author (Alice) >> endobj\n")}))
		require.NoError(t, err)
		assert.Equal(t, domain.FormatPDF, res.Format)
		assert.NotContains(t, string(res.Content), "Alice")
	})

	t.Run("zip of text", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create("alice/solution.py")
		require.NoError(t, err)
		_, err = w.Write([]byte("print(1)\n"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		res, err := r.Sanitise(request(domain.Artifact{Filename: "hw.zip", Content: buf.Bytes()}))
		require.NoError(t, err)
		assert.Equal(t, domain.FormatArchive, res.Format)
		assert.Empty(t, res.Warnings)

		zr, err := zip.NewReader(bytes.NewReader(res.Content), int64(len(res.Content)))
		require.NoError(t, err)
		require.Len(t, zr.File, 1)
		assert.Equal(t, "Anon_3f9a2c1b/solution.py", zr.File[0].Name)
	})
}
