package policy

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waterAct = `---
stakeholders:
  - name: Farmers
    stance: oppose
    concerns: [irrigation costs]
---
# Clean Water Act

## Scope

Applies to all rivers.
`

func testLibrary() *Library {
	return NewLibraryFS(fstest.MapFS{
		"Clean Water_Act.md": {Data: []byte(waterAct)},
		"nested/housing.md": {Data: []byte("---\nid: housing-2024\n---\n# Housing Reform\n\nBuild more homes.\n")},
		"broken.md":         {Data: []byte("---\nstakeholders: [\n---\n# Broken\n")},
		"empty.md":          {Data: []byte("---\ntitle: Empty\n---\n")},
		"notes.txt":         {Data: []byte("ignored")},
	})
}

func TestID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Clean Water_Act.md", "clean-water-act"},
		{"dir/sub/Housing.md", "housing"},
		{"  Tax! Reform ", "tax-reform"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ID(tt.in))
		})
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("Clean Water_Act.md", waterAct)
	require.NoError(t, err)
	assert.Equal(t, "clean-water-act", p.ID)
	assert.Equal(t, "Clean Water Act", p.Title)
	require.Len(t, p.Stakeholders, 1)
	assert.Equal(t, "Farmers", p.Stakeholders[0].Name)

	_, err = Parse("blank.md", "---\ntitle: Blank\n---\n   \n")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

func TestLibraryLoadPolicy(t *testing.T) {
	ctx := context.Background()
	lib := testLibrary()

	p, err := lib.LoadPolicy(ctx, "clean-water-act")
	require.NoError(t, err)
	assert.Equal(t, "Clean Water Act", p.Title)

	// Frontmatter ID differs from the file name.
	p, err = lib.LoadPolicy(ctx, "housing-2024")
	require.NoError(t, err)
	assert.Equal(t, "Housing Reform", p.Title)

	_, err = lib.LoadPolicy(ctx, "missing")
	assert.ErrorIs(t, err, debate.ErrConfiguration)

	_, err = lib.LoadPolicy(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

func TestLibraryListPolicies(t *testing.T) {
	list, err := testLibrary().ListPolicies(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
		assert.Equal(t, "library", p.Origin)
	}
	// broken.md and the text-less empty.md are skipped.
	assert.Equal(t, []string{"clean-water-act", "housing-2024"}, ids)
}

func TestLibraryMissingDirectory(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "missing"))

	list, err := lib.ListPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = lib.LoadPolicy(context.Background(), "water-act")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(debate.Policy{ID: "clean-water-act", Title: "Shadowed", Text: "x"})
	cat := NewCatalog(mem, testLibrary())

	p, err := cat.LoadPolicy(ctx, "clean-water-act")
	require.NoError(t, err)
	assert.Equal(t, "Shadowed", p.Title)

	p, err = cat.LoadPolicy(ctx, "housing-2024")
	require.NoError(t, err)
	assert.Equal(t, "Housing Reform", p.Title)

	_, err = cat.LoadPolicy(ctx, "missing")
	assert.ErrorIs(t, err, debate.ErrConfiguration)

	list, err := cat.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "memory", list[0].Origin)
	assert.Equal(t, "library", list[1].Origin)
}

func TestCatalogImport(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(NewMemory())

	p, err := cat.Import(ctx, "Transit Plan.md", "# Transit Plan\n\nMore buses.\n")
	require.NoError(t, err)
	assert.Equal(t, "transit-plan", p.ID)

	loaded, err := cat.LoadPolicy(ctx, "transit-plan")
	require.NoError(t, err)
	assert.Equal(t, "Transit Plan", loaded.Title)

	require.NoError(t, cat.Delete(ctx, "transit-plan"))
	_, err = cat.LoadPolicy(ctx, "transit-plan")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
	assert.ErrorIs(t, cat.Delete(ctx, "transit-plan"), debate.ErrNotFound)

	_, err = NewCatalog(nil).Import(ctx, "x.md", "# X\n\ny\n")
	assert.ErrorIs(t, err, debate.ErrConfiguration)
}
