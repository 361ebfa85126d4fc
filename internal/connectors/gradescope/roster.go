package gradescope

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// member is one row of the course roster export.
type member struct {
	Name  string
	SID   string
	Email string
	Role  string
}

// courseRoster indexes the course roster by display name and email.
type courseRoster struct {
	byName  map[string]member
	byEmail map[string]member
}

func newCourseRoster() *courseRoster {
	return &courseRoster{byName: make(map[string]member), byEmail: make(map[string]member)}
}

// parseMemberships reads a memberships.csv export. The name is taken from a
// Name or Full Name column, or from First Name and Last Name.
func parseMemberships(data []byte) (*courseRoster, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return newCourseRoster(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	field := func(rec []string, names ...string) string {
		for _, n := range names {
			if i, ok := col[n]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
		}
		return ""
	}

	roster := newCourseRoster()
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}

		m := member{
			Name:  field(rec, "name", "full name"),
			SID:   field(rec, "sid", "student id"),
			Email: field(rec, "email"),
			Role:  field(rec, "role"),
		}
		if m.Name == "" {
			m.Name = strings.TrimSpace(field(rec, "first name") + " " + field(rec, "last name"))
		}
		roster.add(m)
	}
	return roster, nil
}

func (r *courseRoster) add(m member) {
	if m.Name != "" {
		r.byName[strings.ToLower(m.Name)] = m
	}
	if m.Email != "" {
		r.byEmail[strings.ToLower(m.Email)] = m
	}
}

// lookup matches by email first, then by display name.
func (r *courseRoster) lookup(name, email string) (member, bool) {
	if email != "" {
		if m, ok := r.byEmail[strings.ToLower(email)]; ok {
			return m, true
		}
	}
	m, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// identity builds the owner identity of a submissions table row.
// Students missing from the roster keep an identity without a student ID.
func (r *courseRoster) identity(row submissionRow) domain.Identity {
	id := domain.Identity{Name: row.Name, Email: row.Email}
	if m, ok := r.lookup(row.Name, row.Email); ok {
		id.StudentID = m.SID
		id.Role = m.Role
		if id.Email == "" {
			id.Email = m.Email
		}
	}
	return id
}
