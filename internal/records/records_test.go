package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeReference(t *testing.T) {
	ref, err := NormalizeReference(" Company ")
	require.NoError(t, err)
	assert.Equal(t, ReferenceCompany, ref)

	_, err = NormalizeReference("partnership")
	assert.Error(t, err)
}

func TestGroups_CatalogueShape(t *testing.T) {
	ind, err := Groups("individual")
	require.NoError(t, err)
	assert.Len(t, ind, 18)
	assert.Equal(t, "full_legal_name", ind[0].Key)
	assert.Equal(t, "bank_details", ind[len(ind)-1].Key)

	co, err := Groups("COMPANY")
	require.NoError(t, err)
	assert.Len(t, co, 6)

	seen := map[string]bool{}
	for _, g := range ind {
		assert.False(t, seen[g.Key], "duplicate key %s", g.Key)
		seen[g.Key] = true
		assert.NotEmpty(t, g.Question)
		assert.NotEmpty(t, g.Fields)
	}

	// Callers get copies.
	ind[0].Fields[0] = "mutated"
	again, _ := Groups("individual")
	assert.Equal(t, "first_name", again[0].Fields[0])
}

func TestKnownField(t *testing.T) {
	assert.True(t, KnownField("individual", "itin"))
	assert.False(t, KnownField("company", "itin"))
	assert.True(t, KnownField("company", "ein"))
	assert.False(t, KnownField("individual", "client_id"))
}

func TestStore_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "c-1", "individual")
	assert.ErrorIs(t, err, ErrClientNotFound)

	written, err := s.Update(ctx, "c-1", "individual", map[string]string{
		"last_name":  "Doe",
		"first_name": "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "last_name"}, written)

	_, err = s.Update(ctx, "c-1", "individual", map[string]string{"first_name": "Janet"})
	require.NoError(t, err)

	c, err := s.Get(ctx, "c-1", "Individual")
	require.NoError(t, err)
	assert.Equal(t, "individual", c.Reference)
	assert.Equal(t, "Janet", c.Fields["first_name"])
	assert.Equal(t, "Doe", c.Fields["last_name"])
	assert.False(t, c.UpdatedAt.IsZero())

	got, err := s.Fields(ctx, "c-1", "individual", []string{"first_name", "middle_name"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"first_name": "Janet", "middle_name": ""}, got)

	// Same id under the other reference kind is a different client.
	_, err = s.Get(ctx, "c-1", "company")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestStore_UpdateRejectsUnknownFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Update(ctx, "c-1", "company", map[string]string{"ein": "12-3456789", "itin": "9"})
	assert.ErrorIs(t, err, ErrUnknownField)

	// Nothing from the rejected batch was written.
	_, err = s.Get(ctx, "c-1", "company")
	assert.ErrorIs(t, err, ErrClientNotFound)

	_, err = s.Update(ctx, "", "company", map[string]string{"ein": "1"})
	assert.Error(t, err)
}

func TestStore_Seed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"client_id": "acme", "reference": "company", "fields": {"company_name": "Acme LLC", "ein": "12-3456789"}},
		{"client_id": "p-7", "reference": "individual"}
	]`), 0o644))

	n, err := s.Seed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := s.Get(ctx, "acme", "company")
	require.NoError(t, err)
	assert.Equal(t, "Acme LLC", c.Fields["company_name"])

	p, err := s.Get(ctx, "p-7", "individual")
	require.NoError(t, err)
	assert.Empty(t, p.Fields)
}

func TestSchemaSource(t *testing.T) {
	qs, err := NewSchemaSource().Questions(context.Background(), "c-1", "Company")
	require.NoError(t, err)
	require.Len(t, qs, 6)
	for i, q := range qs {
		assert.Equal(t, i+1, q.Index)
		assert.NotEmpty(t, q.Text)
	}
	assert.Equal(t, "ein", qs[2].PromptKey)
	assert.Equal(t, "company", qs[2].Metadata["reference"])
	assert.Equal(t, []string{"ein"}, qs[2].Metadata["fields"])

	_, err = NewSchemaSource().Questions(context.Background(), "c-1", "trust")
	assert.Error(t, err)
}

func TestStore_Associated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"client_id": "main", "reference": "individual", "fields": {"first_name": "Jane"},
		 "associations": [
			{"client_id": "kid", "reference": "individual"},
			{"client_id": "spouse", "reference": "individual", "association_type": "Sub Client"},
			{"client_id": "acme", "reference": "company"},
			{"client_id": "old", "reference": "individual", "inactive": true},
			{"client_id": "adviser", "reference": "individual", "association_type": "Contact"}
		 ]},
		{"client_id": "spouse", "reference": "individual", "fields": {"first_name": "John", "last_name": "Doe"}},
		{"client_id": "acme", "reference": "company"}
	]`), 0o644))

	n, err := s.Seed(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Associated(ctx, "main", "Individual")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Association{MainClientID: "main", ClientID: "kid", Reference: "individual", Type: AssociationSubClient}, got[0])
	assert.Equal(t, "spouse", got[1].ClientID)
	assert.Equal(t, "John Doe", got[1].ClientName)

	// Deactivating keeps the row but hides it.
	require.NoError(t, s.Associate(ctx, Association{MainClientID: "main", ClientID: "kid", Reference: "individual", Inactive: true}))
	got, err = s.Associated(ctx, "main", "individual")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "spouse", got[0].ClientID)

	none, err := s.Associated(ctx, "spouse", "individual")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)

	_, err = s.Associated(ctx, "acme", "company")
	assert.ErrorIs(t, err, ErrUnsupportedReference)
	_, err = s.Associated(ctx, "nobody", "individual")
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = s.Associated(ctx, "main", "trust")
	assert.Error(t, err)
}
