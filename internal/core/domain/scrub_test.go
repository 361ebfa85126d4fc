package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubber_Scrub(t *testing.T) {
	s := NewScrubber(Identity{
		Name:      "Alice Smith",
		StudentID: "S1234",
		Email:     "alice.smith@uni.edu",
	}.Fragments(), "Anon 3f9a2c1b")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full name", "Homework by Alice Smith", "Homework by Anon 3f9a2c1b"},
		{"case insensitive", "ALICE SMITH", "Anon 3f9a2c1b"},
		{"name part", "smith_hw1", "Anon 3f9a2c1b_hw1"},
		{"student id", "s1234-final", "Anon 3f9a2c1b-final"},
		{"email before local part", "alice.smith@uni.edu", "Anon 3f9a2c1b"},
		{"nothing to scrub", "hw1.pdf", "hw1.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Scrub(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, s.Contains(got))
		})
	}
}

func TestScrubber_NoFragments(t *testing.T) {
	s := NewScrubber([]string{"", "  "}, "x")
	assert.Equal(t, "unchanged", s.Scrub("unchanged"))
	assert.False(t, s.Contains("anything"))
}

func TestScrubber_ShortPartsMatchWholeWords(t *testing.T) {
	s := NewScrubber(Identity{Name: "Al Jo", StudentID: "S1"}.Fragments(), "Anon 3f9a2c1b")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inside a word", "the total is joined", "the total is joined"},
		{"whole word", "Al wrote this", "Anon 3f9a2c1b wrote this"},
		{"separated by punctuation", "jo_hw1.txt", "Anon 3f9a2c1b_hw1.txt"},
		{"full name", "by Al Jo", "by Anon 3f9a2c1b"},
		{"id inside course code", "CS101 notes", "CS101 notes"},
		{"id on its own", "id: s1", "id: Anon 3f9a2c1b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Scrub(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, s.Contains(got))
		})
	}
}

func TestScrubber_DropsDuplicateFragments(t *testing.T) {
	s := NewScrubber([]string{"bob", "alice", "bob", "carol", "alice"}, "x")

	assert.Equal(t, 1, strings.Count(s.re.String(), "bob"))
	assert.Equal(t, 1, strings.Count(s.re.String(), "alice"))
	assert.Equal(t, "x met x", s.Scrub("Bob met Alice"))
}
