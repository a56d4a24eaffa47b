package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatterns(t *testing.T) {
	assert.Nil(t, ParsePatterns(""))
	assert.Equal(t, []string{"*.tmp"}, ParsePatterns("*.tmp"))
	assert.Equal(t, []string{"*.tmp", "**/cache", "build"}, ParsePatterns(" *.tmp, **/cache ,build,"))
}

func TestNewExcludeFilter(t *testing.T) {
	f, err := NewExcludeFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewExcludeFilter([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestExcludeFilter_Match(t *testing.T) {
	cases := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"star within segment", []string{"*.tmp"}, "x.tmp", true},
		{"star does not cross segments", []string{"*.tmp"}, "sub/x.tmp", false},
		{"doublestar crosses segments", []string{"**/*.tmp"}, "a/b/x.tmp", true},
		{"directory name", []string{"build"}, "build", true},
		{"directory subtree via doublestar", []string{"build/**"}, "build/out/a.o", true},
		{"no match", []string{"*.tmp", "build"}, "src/main.go", false},
		{"second pattern matches", []string{"*.log", "secret*"}, "secret-notes.txt", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewExcludeFilter(tc.patterns)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Match(tc.path, false))
		})
	}
}

func TestExcludeFilter_NilMatchesNothing(t *testing.T) {
	var f *ExcludeFilter
	assert.False(t, f.Match("anything", false))
	assert.False(t, f.Match("anything", true))
}
