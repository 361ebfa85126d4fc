// Package plaintext recognises plain text artifacts (source code, notes, data).
// Plain text has no embedded metadata, so content passes through unchanged.
package plaintext

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure Sanitiser implements the interface.
var _ driven.Sanitiser = (*Sanitiser)(nil)

// sniffLimit is how much content is inspected to decide if it is text.
const sniffLimit = 8192

// Sanitiser handles plain text artifacts.
type Sanitiser struct{}

// New creates a new plain text sanitiser.
func New() *Sanitiser {
	return &Sanitiser{}
}

// Format returns the capability class.
func (s *Sanitiser) Format() domain.ArtifactFormat {
	return domain.FormatPlainText
}

// Priority returns the selection priority.
func (s *Sanitiser) Priority() int {
	return 10 // Fallback for anything that looks like text
}

// Detect reports whether the artifact is text: a text MIME type, or
// valid UTF-8 without NUL bytes in its leading block.
func (s *Sanitiser) Detect(a domain.Artifact) bool {
	if isTextMIME(a.MIMEType) {
		return true
	}
	head := a.Content
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
		// Drop a rune split by the cut.
		for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return utf8.Valid(head) && !bytes.Contains(head, []byte{0})
}

// Sanitise returns the content unchanged.
func (s *Sanitiser) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	return &driven.SanitiseResult{
		Content: req.Artifact.Content,
		Format:  domain.FormatPlainText,
	}, nil
}

func isTextMIME(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "application/json", "application/xml", "application/x-yaml", "application/javascript":
		return true
	}
	return strings.HasPrefix(mime, "text/")
}
