package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/subanon/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/subanon/internal/core/domain"
)

func testMappings() []domain.IdentityMapping {
	return []domain.IdentityMapping{
		{Identity: domain.Identity{Name: "Zed Zulu", StudentID: "S3", Email: "zed@uni.edu"}, Token: "c0ffee00", FirstSeen: 0},
		{Identity: domain.Identity{Name: "Amy Alpha", StudentID: "S1", Role: "TA"}, Token: "0badf00d", FirstSeen: 1},
		{Identity: domain.Identity{Name: "Bo Beta", StudentID: "S2"}, Token: "7e57ab1e", FirstSeen: 2},
	}
}

func TestRosterExporter_Export(t *testing.T) {
	out, err := NewRosterExporter("Anon").Export(testMappings())
	require.NoError(t, err)

	assert.Equal(t, "First Name,Last Name,SID,Email,Role\n"+
		"Anon,0badf00d,0badf00d,0badf00d@example.edu,TA\n"+
		"Anon,7e57ab1e,7e57ab1e,7e57ab1e@example.edu,Student\n"+
		"Anon,c0ffee00,c0ffee00,c0ffee00@example.edu,Student\n", string(out))
}

func TestRosterExporter_Completeness(t *testing.T) {
	m := NewIdentityMapper("salt")
	for _, sid := range []string{"S1", "S2", "S3", "S4", "S5"} {
		_, err := m.Resolve(domain.Identity{Name: "Learner " + sid, StudentID: sid, Email: strings.ToLower(sid) + "@uni.edu"})
		require.NoError(t, err)
	}
	mappings := m.Snapshot()

	out, err := NewRosterExporter("Anon").Export(mappings)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, len(mappings)+1)
	tokens := make(map[string]bool)
	for _, row := range rows[1:] {
		tokens[row[2]] = true
	}
	for _, mp := range mappings {
		assert.True(t, tokens[string(mp.Token)], "token %s missing from roster", mp.Token)
		for _, frag := range mp.Identity.Fragments() {
			assert.NotContains(t, string(out), frag)
		}
	}
}

func TestRosterExporter_EmptyRoster(t *testing.T) {
	out, err := NewRosterExporter("Anon").Export(nil)
	require.NoError(t, err)
	assert.Equal(t, "First Name,Last Name,SID,Email,Role\n", string(out))
}

func TestRosterExporter_Preview(t *testing.T) {
	m := NewIdentityMapper("preview-salt")
	_, err := m.Resolve(domain.Identity{Name: "Amy Alpha", StudentID: "S1"})
	require.NoError(t, err)

	out, err := NewRosterExporter("Anon").Preview(m)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = m.Resolve(domain.Identity{Name: "Bo Beta", StudentID: "S2"})
	require.NoError(t, err)
	out, err = NewRosterExporter("Anon").Preview(m)
	require.NoError(t, err)
	rows, err = csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRosterExporter_ExportKey(t *testing.T) {
	data, err := NewRosterExporter("Anon").ExportKey("batch-1", "pepper", testMappings())
	require.NoError(t, err)

	var key KeyFile
	require.NoError(t, json.Unmarshal(data, &key))

	assert.Equal(t, "batch-1", key.BatchID)
	assert.Equal(t, "pepper", key.Salt)
	assert.Equal(t, "Anon", key.TokenPrefix)
	assert.Equal(t, map[string]string{"S1": "0badf00d", "S2": "7e57ab1e", "S3": "c0ffee00"}, key.IDToAnonymous)
	assert.Equal(t, map[string]string{"0badf00d": "S1", "7e57ab1e": "S2", "c0ffee00": "S3"}, key.AnonymousToID)
	require.Len(t, key.Entries, 3)
	assert.Equal(t, KeyEntry{Token: "0badf00d", StudentID: "S1", Name: "Amy Alpha", Role: "TA", FirstSeen: 1}, key.Entries[0])
	assert.Equal(t, "zed@uni.edu", key.Entries[2].Email)
}

func TestRosterService_Export(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBatchStore()
	require.NoError(t, store.SaveBatch(ctx, domain.BatchRecord{ID: "b1", Salt: "pepper", TokenPrefix: "Pseudo"}))
	require.NoError(t, store.SaveMappings(ctx, "b1", testMappings()))

	export, err := NewRosterService(store).Export(ctx, "b1")
	require.NoError(t, err)

	assert.Contains(t, string(export.Roster), "Pseudo,0badf00d,0badf00d,0badf00d@example.edu,TA\n")
	assert.Contains(t, string(export.Key), `"salt": "pepper"`)

	_, err = NewRosterService(store).Export(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
