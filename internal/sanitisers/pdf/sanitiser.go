// Package pdf strips author metadata from PDF documents.
//
// Values are blanked in place so every byte offset in the cross-reference
// table stays valid; no object is re-serialised.
package pdf

import (
	"bytes"
	"regexp"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure Sanitiser implements the interface.
var _ driven.Sanitiser = (*Sanitiser)(nil)

// headerWindow is how far into the file the %PDF- header may appear.
const headerWindow = 1024

var (
	pdfHeader = []byte("%PDF-")

	// authorKey always identifies a person and is blanked unconditionally.
	authorKey = regexp.MustCompile(`/Author\s*`)

	// descriptiveKey values are blanked only when they contain identity fragments.
	descriptiveKey = regexp.MustCompile(`/(?:Title|Subject|Keywords)\s*`)

	// xmpElement matches XMP elements whose character data names the author.
	xmpElement = regexp.MustCompile(`(?s)<(dc:creator|pdf:Author)\b[^>]*>.*?</(?:dc:creator|pdf:Author)>`)

	// xmpAttribute matches the attribute form pdf:Author="...".
	xmpAttribute = regexp.MustCompile(`\b(?:pdf:Author|dc:creator)\s*=\s*("[^"]*"|'[^']*')`)

	objectStream   = []byte("/ObjStm")
	metadataStream = regexp.MustCompile(`/Type\s*/Metadata`)
	xmpPacket      = regexp.MustCompile(`<\?xpacket|<x:xmpmeta`)
)

// Sanitiser handles PDF documents.
type Sanitiser struct{}

// New creates a new PDF sanitiser.
func New() *Sanitiser {
	return &Sanitiser{}
}

// Format returns the capability class.
func (s *Sanitiser) Format() domain.ArtifactFormat {
	return domain.FormatPDF
}

// Priority returns the selection priority.
func (s *Sanitiser) Priority() int {
	return 80
}

// Detect reports whether the artifact carries a PDF header.
func (s *Sanitiser) Detect(a domain.Artifact) bool {
	head := a.Content
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	return bytes.Contains(head, pdfHeader)
}

// Sanitise blanks /Author values in info dictionaries and author fields in
// uncompressed XMP packets. Objects inside compressed object streams cannot
// be rewritten in place and are reported with a warning.
func (s *Sanitiser) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	out := bytes.Clone(req.Artifact.Content)
	scrubber := domain.NewScrubber(req.Fragments, "")

	for _, loc := range authorKey.FindAllIndex(out, -1) {
		blankValue(out, loc[1])
	}
	for _, loc := range descriptiveKey.FindAllIndex(out, -1) {
		start, end, ok := valueSpan(out, loc[1])
		if ok && scrubber.Contains(string(decodeSpan(out[start:end]))) {
			blankValue(out, loc[1])
		}
	}

	for _, loc := range xmpElement.FindAllIndex(out, -1) {
		blankCharData(out[loc[0]:loc[1]])
	}
	for _, loc := range xmpAttribute.FindAllSubmatchIndex(out, -1) {
		// Keep the quotes, blank what is between them.
		fill(out[loc[2]+1:loc[3]-1], ' ')
	}

	res := &driven.SanitiseResult{Content: out, Format: domain.FormatPDF}
	if bytes.Contains(out, objectStream) {
		res.Warnings = append(res.Warnings, domain.Warning{
			Code:    domain.WarnContentMayLeakIdentity,
			Message: "PDF uses compressed object streams; metadata inside them was not inspected",
		})
	}
	if metadataStream.Match(out) && !xmpPacket.Match(out) {
		res.Warnings = append(res.Warnings, domain.Warning{
			Code:    domain.WarnContentMayLeakIdentity,
			Message: "PDF XMP metadata stream is compressed and was not inspected",
		})
	}
	return res, nil
}

// blankValue blanks the PDF string object starting at or after pos.
func blankValue(buf []byte, pos int) {
	start, end, ok := valueSpan(buf, pos)
	if !ok {
		return
	}
	switch buf[start-1] {
	case '(':
		fill(buf[start:end], ' ')
	case '<':
		// Hex string: "20" pairs decode to spaces.
		for i := start; i < end; i++ {
			if isHex(buf[i]) {
				if (i-start)%2 == 0 {
					buf[i] = '2'
				} else {
					buf[i] = '0'
				}
			}
		}
	}
}

// valueSpan returns the interior [start, end) of the string object at pos.
// Indirect references and names are not strings and report false.
func valueSpan(buf []byte, pos int) (int, int, bool) {
	if pos >= len(buf) {
		return 0, 0, false
	}
	switch buf[pos] {
	case '(':
		depth := 0
		for i := pos; i < len(buf); i++ {
			switch buf[i] {
			case '\\':
				i++
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return pos + 1, i, true
				}
			}
		}
	case '<':
		if pos+1 < len(buf) && buf[pos+1] == '<' {
			return 0, 0, false
		}
		if end := bytes.IndexByte(buf[pos:], '>'); end > 0 {
			return pos + 1, pos + end, true
		}
	}
	return 0, 0, false
}

// decodeSpan returns a best-effort text form of a literal string interior.
func decodeSpan(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) {
			i++
		}
		if b[i] != 0 {
			out = append(out, b[i])
		}
	}
	return out
}

// blankCharData replaces every byte outside markup with a space.
func blankCharData(b []byte) {
	inTag := false
	for i, c := range b {
		switch {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
		case !inTag && c != '\n' && c != '\r':
			b[i] = ' '
		}
	}
}

func fill(b []byte, c byte) {
	for i := range b {
		b[i] = c
	}
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
