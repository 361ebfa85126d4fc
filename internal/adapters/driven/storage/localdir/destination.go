// Package localdir writes anonymised submissions to a local directory
// instead of a remote platform.
//
// Layout: <root>/<course>/<assignment>/<submission-id>/ holds the artifacts
// and an owner.json file recording the pseudonymous owner.
package localdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// ownerFile is the sidecar that records who a submission belongs to.
const ownerFile = "owner.json"

var (
	_ driven.SubmissionDestination = (*Destination)(nil)
	_ driven.DestinationOpener     = Opener{}
)

// Opener opens directories as destinations.
type Opener struct{}

// Open implements driven.DestinationOpener.
func (Opener) Open(dir string) (driven.SubmissionDestination, error) {
	return New(dir)
}

// Destination is a directory-backed submission destination.
type Destination struct {
	root  string
	mu    sync.Mutex
	newID func() string
}

type owner struct {
	SubmissionID string `json:"submission_id"`
	Name         string `json:"name"`
	StudentID    string `json:"student_id"`
	Email        string `json:"email"`
}

// New creates the root directory if needed.
func New(root string) (*Destination, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: local directory is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating local directory: %w", err)
	}
	return &Destination{root: root, newID: uuid.NewString}, nil
}

// Root returns the destination directory.
func (d *Destination) Root() string {
	return d.root
}

func (d *Destination) assignmentDir(a domain.AssignmentRef) string {
	return filepath.Join(d.root, filepath.Base(a.CourseID), filepath.Base(a.AssignmentID))
}

// CreateSubmission writes artifacts into a new submission directory.
func (d *Destination) CreateSubmission(_ context.Context, a domain.AssignmentRef, o domain.Identity, artifacts []domain.Artifact) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.newID()
	dir := filepath.Join(d.assignmentDir(a), id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating submission directory: %w", err)
	}

	for _, art := range artifacts {
		name := filepath.Base(art.Filename)
		if name == ownerFile {
			name = "_" + name
		}
		if err := os.WriteFile(filepath.Join(dir, name), art.Content, 0600); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}

	data, err := json.MarshalIndent(owner{SubmissionID: id, Name: o.Name, StudentID: o.StudentID, Email: o.Email}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling owner: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ownerFile), data, 0600); err != nil {
		return "", fmt.Errorf("writing owner: %w", err)
	}
	return id, nil
}

// GetSubmission reads back the owner of a written submission.
func (d *Destination) GetSubmission(_ context.Context, a domain.AssignmentRef, id string) (*domain.RemoteSubmission, error) {
	o, err := readOwner(filepath.Join(d.assignmentDir(a), filepath.Base(id)))
	if err != nil {
		return nil, err
	}
	return &domain.RemoteSubmission{ID: id, OwnerName: o.Name}, nil
}

// FindSubmissionsByOwner scans the assignment directory for ownerName.
func (d *Destination) FindSubmissionsByOwner(_ context.Context, a domain.AssignmentRef, ownerName string) ([]domain.RemoteSubmission, error) {
	dir := d.assignmentDir(a)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var found []domain.RemoteSubmission
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		o, err := readOwner(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if o.Name == ownerName {
			found = append(found, domain.RemoteSubmission{ID: e.Name(), OwnerName: o.Name})
		}
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func readOwner(dir string) (*owner, error) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading owner: %w", err)
	}
	var o owner
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing owner: %w", err)
	}
	return &o, nil
}
