// Package officexml strips author metadata from Office Open XML packages
// (docx, xlsx, pptx).
//
// Only the parts that carry identity are rewritten. Every other entry is
// copied into the new package without being decompressed.
package officexml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure Sanitiser implements the interface.
var _ driven.Sanitiser = (*Sanitiser)(nil)

const contentTypesPart = "[Content_Types].xml"

var zipMagic = []byte("PK\x03\x04")

// rule rewrites one class of package part.
type rule struct {
	match   func(name string) bool
	rewrite func(part []byte, c *params) []byte
}

// params carries the per-request replacement values.
type params struct {
	scrubber    *domain.Scrubber
	replacement string
}

var (
	// Core properties: people fields are cleared, descriptive fields scrubbed.
	corePeople      = regexp.MustCompile(`(?s)(<(dc:creator|cp:lastModifiedBy)\b[^>/]*>).*?(</(?:dc:creator|cp:lastModifiedBy)>)`)
	coreDescriptive = regexp.MustCompile(`(?s)(<(?:dc:title|dc:subject|dc:description|cp:keywords|cp:category)\b[^>/]*>)(.*?)(</(?:dc:title|dc:subject|dc:description|cp:keywords|cp:category)>)`)

	// Extended properties.
	appPeople = regexp.MustCompile(`(?s)(<(?:Company|Manager)\b[^>/]*>)(.*?)(</(?:Company|Manager)>)`)

	// Custom properties hold free text in typed values.
	customValue = regexp.MustCompile(`(?s)(<vt:lpwstr>)(.*?)(</vt:lpwstr>)`)

	// Tracked changes, comments and people parts in WordprocessingML.
	wordAuthor = regexp.MustCompile(`\b(w:author|w15:author)="[^"]*"`)
	wordClear  = regexp.MustCompile(`\b(w:initials|w15:userId|w15:providerId)="[^"]*"`)

	// SpreadsheetML legacy comment authors and threaded comment persons.
	sheetAuthor = regexp.MustCompile(`(?s)(<author>)(.*?)(</author>)`)
	sheetPerson = regexp.MustCompile(`\b(displayName)="[^"]*"`)
	sheetClear  = regexp.MustCompile(`\b(userId|providerId)="[^"]*"`)

	// PresentationML comment authors.
	slideAuthor = regexp.MustCompile(`(<p:cmAuthor\b[^>]*?\b)name="[^"]*"`)
	slideClear  = regexp.MustCompile(`(<p:cmAuthor\b[^>]*?\b)initials="[^"]*"`)
)

var rules = []rule{
	{
		match: func(n string) bool { return n == "docProps/core.xml" },
		rewrite: func(b []byte, c *params) []byte {
			b = corePeople.ReplaceAll(b, []byte("$1$3"))
			return scrubElements(b, coreDescriptive, c)
		},
	},
	{
		match:   func(n string) bool { return n == "docProps/app.xml" },
		rewrite: func(b []byte, c *params) []byte { return scrubElements(b, appPeople, c) },
	},
	{
		match:   func(n string) bool { return n == "docProps/custom.xml" },
		rewrite: func(b []byte, c *params) []byte { return scrubElements(b, customValue, c) },
	},
	{
		match: func(n string) bool { return strings.HasPrefix(n, "word/") && strings.HasSuffix(n, ".xml") },
		rewrite: func(b []byte, c *params) []byte {
			b = replaceAttr(b, wordAuthor, c.replacement)
			return replaceAttr(b, wordClear, "")
		},
	},
	{
		match: func(n string) bool { return strings.HasPrefix(n, "xl/") && strings.HasSuffix(n, ".xml") },
		rewrite: func(b []byte, c *params) []byte {
			b = sheetAuthor.ReplaceAll(b, []byte("${1}"+template(c.replacement)+"${3}"))
			b = replaceAttr(b, sheetPerson, c.replacement)
			return replaceAttr(b, sheetClear, "")
		},
	},
	{
		match: func(n string) bool { return n == "ppt/commentAuthors.xml" },
		rewrite: func(b []byte, c *params) []byte {
			b = slideAuthor.ReplaceAll(b, []byte(`${1}name="`+template(c.replacement)+`"`))
			return slideClear.ReplaceAll(b, []byte(`${1}initials=""`))
		},
	},
}

// Sanitiser handles Office Open XML packages.
type Sanitiser struct{}

// New creates a new Office Open XML sanitiser.
func New() *Sanitiser {
	return &Sanitiser{}
}

// Format returns the capability class.
func (s *Sanitiser) Format() domain.ArtifactFormat {
	return domain.FormatOfficeXML
}

// Priority returns the selection priority. OOXML packages are zip files,
// so this must outrank the archive sanitiser.
func (s *Sanitiser) Priority() int {
	return 90
}

// Detect reports whether the artifact is a zip package with a content types part.
func (s *Sanitiser) Detect(a domain.Artifact) bool {
	if !bytes.HasPrefix(a.Content, zipMagic) {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(a.Content), int64(len(a.Content)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == contentTypesPart {
			return true
		}
	}
	return false
}

// Sanitise rewrites identity-bearing parts and copies the rest raw.
func (s *Sanitiser) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(req.Artifact.Content), int64(len(req.Artifact.Content)))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}

	c := &params{
		scrubber:    domain.NewScrubber(req.Fragments, xmlEscape(req.Replacement)),
		replacement: req.Replacement,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		r := ruleFor(f.Name)
		if r == nil {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}

		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   f.Method,
			Modified: f.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := w.Write(r.rewrite(data, c)); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close package: %w", err)
	}

	return &driven.SanitiseResult{Content: buf.Bytes(), Format: domain.FormatOfficeXML}, nil
}

func ruleFor(name string) *rule {
	for i := range rules {
		if rules[i].match(name) {
			return &rules[i]
		}
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// scrubElements scrubs identity fragments from the character data of
// elements matched by re (groups: open tag, text, close tag).
func scrubElements(b []byte, re *regexp.Regexp, c *params) []byte {
	return re.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := re.FindSubmatch(m)
		text := c.scrubber.Scrub(string(sub[2]))
		if text == string(sub[2]) {
			return m
		}
		out := append([]byte{}, sub[1]...)
		out = append(out, text...)
		return append(out, sub[3]...)
	})
}

// replaceAttr sets every attribute matched by re (group 1 is the name) to value.
func replaceAttr(b []byte, re *regexp.Regexp, value string) []byte {
	return re.ReplaceAll(b, []byte(`${1}="`+template(value)+`"`))
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// template escapes s for use as literal text in a regexp replacement template.
func template(s string) string {
	return strings.ReplaceAll(xmlEscape(s), "$", "$$")
}
