package concept

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semplan/reference"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"classification", TypeClassification, false},
		{"?", TypeClassification, false},
		{"<>", TypeJudgement, false},
		{"[]", TypeRelation, false},
		{"{}", TypeObject, false},
		{"^", TypeSentence, false},
		{"@", TypeAssignment, false},
		{"", TypeObject, false},
		{"opinion", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestType_MarkerRoundTrip(t *testing.T) {
	for _, typ := range Types() {
		parsed, err := ParseType(typ.Marker())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
}

func TestType_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Type Type `yaml:"type"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`type: "<>"`), &doc))
	assert.Equal(t, TypeJudgement, doc.Type)

	err := yaml.Unmarshal([]byte(`type: nonsense`), &doc)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestNew(t *testing.T) {
	c, err := New("cat", "a small animal", "")
	require.NoError(t, err)
	assert.Equal(t, TypeObject, c.Type)
	assert.False(t, c.HasReference())

	_, err = New("", "", TypeObject)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = New("x", "", Type("bogus"))
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestWithReference_DoesNotMutate(t *testing.T) {
	c, err := New("cat", "", TypeObject)
	require.NoError(t, err)

	ref := reference.MustNew([]string{"cat"}, []int{1}, "tabby")
	updated := c.WithReference(ref)

	assert.False(t, c.HasReference())
	assert.True(t, updated.HasReference())
	assert.Equal(t, c.Name, updated.Name)
}

func TestMemberNames(t *testing.T) {
	plain := &Concept{Name: "a"}
	assert.Equal(t, []string{"a"}, plain.MemberNames())

	combined := &Concept{Name: `["a","b"]`, Components: []string{"a", "b"}}
	assert.Equal(t, []string{"a", "b"}, combined.MemberNames())
}

func TestLoadReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "animals.json")
	require.NoError(t, os.WriteFile(path, []byte(`["cat", null, "dog"]`), 0o644))

	c, err := New("animal", "", TypeObject)
	require.NoError(t, err)

	loaded, err := c.LoadReference(path)
	require.NoError(t, err)
	require.True(t, loaded.HasReference())
	assert.Equal(t, []string{"animal"}, loaded.Reference.Axes())
	assert.Equal(t, []int{3}, loaded.Reference.Shape())

	v, err := loaded.Reference.Get(reference.Index{"animal": 1})
	require.NoError(t, err)
	assert.True(t, reference.IsAbsent(v))
}

func TestLoadReference_RejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0o644))

	c, err := New("animal", "", TypeObject)
	require.NoError(t, err)

	_, err = c.LoadReference(path)
	assert.ErrorIs(t, err, ErrReferenceFile)
}
