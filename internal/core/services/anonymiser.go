package services

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Anonymiser replaces every identity field of a submission with a pseudonym.
// It performs no I/O and is deterministic for identical inputs.
type Anonymiser struct {
	sanitisers driven.SanitiserRegistry
}

// NewAnonymiser creates an anonymiser that rewrites artifact content through sanitisers.
func NewAnonymiser(sanitisers driven.SanitiserRegistry) *Anonymiser {
	return &Anonymiser{sanitisers: sanitisers}
}

// Anonymise returns a copy of src owned by pseudonym.
func (a *Anonymiser) Anonymise(src *domain.SourceSubmission, pseudonym domain.Pseudonym) (*domain.AnonymizedSubmission, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil submission", domain.ErrInvalidInput)
	}
	if pseudonym.Token == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrInvalidInput)
	}

	fragments := src.Owner.Fragments()
	replacement := pseudonym.DisplayName()
	scrubber := domain.NewScrubber(fragments, replacement)

	out := &domain.AnonymizedSubmission{
		SubmissionID: src.ID,
		Pseudonym:    pseudonym,
		Owner:        pseudonym.Identity(),
		Metadata:     make(map[string]string, len(src.Metadata)),
	}
	for k, v := range maps.All(src.Metadata) {
		out.Metadata[k] = scrubber.Scrub(v)
	}

	for i, artifact := range src.Artifacts {
		name := artifactName(pseudonym, artifact, i, len(src.Artifacts))

		res, err := a.sanitisers.Sanitise(driven.SanitiseRequest{
			Artifact:    artifact,
			Fragments:   fragments,
			Replacement: replacement,
		})
		if err != nil {
			return nil, fmt.Errorf("sanitise artifact %d: %w", i+1, err)
		}

		for _, w := range res.Warnings {
			w.Artifact = name
			out.Warnings = append(out.Warnings, w)
		}
		out.Artifacts = append(out.Artifacts, domain.Artifact{
			Filename: name,
			MIMEType: artifact.MIMEType,
			Content:  res.Content,
		})
	}

	return out, nil
}

// artifactName is <stem><ext> for a single artifact and <stem>_<n><ext> otherwise.
func artifactName(p domain.Pseudonym, artifact domain.Artifact, index, total int) string {
	if total == 1 {
		return p.FileStem() + artifact.Ext()
	}
	return p.FileStem() + "_" + strconv.Itoa(index+1) + artifact.Ext()
}
