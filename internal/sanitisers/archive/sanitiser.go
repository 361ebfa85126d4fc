// Package archive anonymises zip archives entry by entry.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure Sanitiser implements the interface.
var _ driven.Sanitiser = (*Sanitiser)(nil)

// MaxDepth is the deepest archive nesting that is still unpacked.
const MaxDepth = 4

// MaxEntrySize is the largest uncompressed entry that is unpacked and
// sanitised. Larger entries are copied still compressed.
const MaxEntrySize = 64 << 20

var (
	localHeader = []byte("PK\x03\x04")
	emptyZip    = []byte("PK\x05\x06")
)

// Sanitiser rewrites zip archives. Entry paths are scrubbed of identity
// fragments, entry content is dispatched back through the registry, and
// the archive comment is dropped.
type Sanitiser struct {
	registry     driven.SanitiserRegistry
	maxEntrySize int64
}

// New creates an archive sanitiser that sanitises inner entries with registry.
func New(registry driven.SanitiserRegistry) *Sanitiser {
	return &Sanitiser{registry: registry, maxEntrySize: MaxEntrySize}
}

// Format returns the capability class.
func (s *Sanitiser) Format() domain.ArtifactFormat {
	return domain.FormatArchive
}

// Priority returns the selection priority.
func (s *Sanitiser) Priority() int {
	return 50
}

// Detect reports whether the artifact starts with a zip signature.
func (s *Sanitiser) Detect(a domain.Artifact) bool {
	return bytes.HasPrefix(a.Content, localHeader) || bytes.HasPrefix(a.Content, emptyZip)
}

// Sanitise rebuilds the archive with scrubbed paths and sanitised entries.
func (s *Sanitiser) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	if req.Depth >= MaxDepth {
		return &driven.SanitiseResult{
			Content: req.Artifact.Content,
			Format:  domain.FormatArchive,
			Warnings: []domain.Warning{{
				Code:    domain.WarnContentMayLeakIdentity,
				Message: "archive nested deeper than " + strconv.Itoa(MaxDepth) + " levels was not inspected",
			}},
		}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(req.Artifact.Content), int64(len(req.Artifact.Content)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	pathScrubber := domain.NewScrubber(req.Fragments, strings.ReplaceAll(req.Replacement, " ", "_"))
	names := newNameSet()
	res := &driven.SanitiseResult{Format: domain.FormatArchive}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		name := pathScrubber.Scrub(f.Name)

		if f.FileInfo().IsDir() {
			if !names.add(name) {
				continue
			}
			if _, err := zw.CreateHeader(entryHeader(f, name)); err != nil {
				return nil, fmt.Errorf("create %s: %w", name, err)
			}
			continue
		}
		name = names.unique(name)

		if f.UncompressedSize64 > uint64(s.maxEntrySize) {
			if err := copyRaw(zw, f, name); err != nil {
				return nil, err
			}
			res.Warnings = append(res.Warnings, domain.Warning{
				Code:    domain.WarnContentMayLeakIdentity,
				Message: name + ": entry larger than " + strconv.FormatInt(s.maxEntrySize, 10) + " bytes was not inspected",
			})
			continue
		}

		data, err := readEntry(f, s.maxEntrySize)
		if err != nil {
			return nil, err
		}
		inner, err := s.registry.Sanitise(driven.SanitiseRequest{
			Artifact:    domain.Artifact{Filename: path.Base(name), Content: data},
			Fragments:   req.Fragments,
			Replacement: req.Replacement,
			Depth:       req.Depth + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("sanitise %s: %w", name, err)
		}
		for _, w := range inner.Warnings {
			w.Message = name + ": " + w.Message
			res.Warnings = append(res.Warnings, w)
		}

		w, err := zw.CreateHeader(entryHeader(f, name))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := w.Write(inner.Content); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	res.Content = buf.Bytes()
	return res, nil
}

// entryHeader carries the entry's mode bits and timestamps over to name.
// Comments and extra fields are dropped.
func entryHeader(f *zip.File, name string) *zip.FileHeader {
	return &zip.FileHeader{
		Name:           name,
		Method:         f.Method,
		Modified:       f.Modified,
		CreatorVersion: f.CreatorVersion,
		ExternalAttrs:  f.ExternalAttrs,
	}
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("read %s: entry exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

// copyRaw writes the entry's compressed bytes under name without inflating them.
func copyRaw(zw *zip.Writer, f *zip.File, name string) error {
	h := entryHeader(f, name)
	h.Flags = f.Flags &^ 0x8 // sizes are known, no data descriptor
	h.CRC32 = f.CRC32
	h.CompressedSize64 = f.CompressedSize64
	h.UncompressedSize64 = f.UncompressedSize64

	w, err := zw.CreateRaw(h)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	rc, err := f.OpenRaw()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

// nameSet tracks entry paths already written to the new archive.
type nameSet map[string]struct{}

func newNameSet() nameSet {
	return make(nameSet)
}

func (n nameSet) add(name string) bool {
	if _, ok := n[name]; ok {
		return false
	}
	n[name] = struct{}{}
	return true
}

// unique returns name, or name with a _n suffix before the extension when
// scrubbing made two paths collide.
func (n nameSet) unique(name string) string {
	if n.add(name) {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i) + ext
		if n.add(candidate) {
			return candidate
		}
	}
}
