package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathPatternMatch(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"/data/**", "/data/foo/bar.txt", true},
		{"/data/**", "/other/foo.txt", false},
		{"/data/*.txt", "/data/foo.txt", true},
		{"/data/*.txt", "/data/sub/foo.txt", false},
	}
	for _, tc := range cases {
		p, err := NewPathPattern(tc.pattern)
		require.NoError(t, err)
		assert.Equal(t, tc.want, p.Match(tc.subject), "pattern=%s subject=%s", tc.pattern, tc.subject)
	}
}

func TestPathPatternInvalid(t *testing.T) {
	_, err := NewPathPattern("")
	assert.Error(t, err)
}

func TestDomainPatternMatch(t *testing.T) {
	p, err := NewDomainPattern("*.example.com")
	require.NoError(t, err)
	assert.True(t, p.Match("api.example.com"))
	assert.True(t, p.Match("api.sub.example.com"))
	assert.False(t, p.Match("example.com"))
	assert.False(t, p.Match("evil.com"))
}

func TestDomainPatternWithPort(t *testing.T) {
	p, err := NewDomainPattern("*.cdn.example.com:443")
	require.NoError(t, err)
	assert.True(t, p.Match("a.b.cdn.example.com:443"))
	assert.False(t, p.Match("evil.com:443"))
	assert.False(t, p.Match("a.b.cdn.example.com:80"))
}

func TestNamespacePatternMatch(t *testing.T) {
	p, err := NewNamespacePattern("orders:*")
	require.NoError(t, err)
	assert.True(t, p.Match("orders:created"))
	assert.False(t, p.Match("orders:created:v2"))
}

func TestTopicPatternMatch(t *testing.T) {
	p, err := NewTopicPattern("events/**")
	require.NoError(t, err)
	assert.True(t, p.Match("events/orders/created"))
	assert.False(t, p.Match("other/orders"))
}

func TestCompilePatternDispatch(t *testing.T) {
	pat, err := CompilePattern(PatternPath, "/a/**")
	require.NoError(t, err)
	assert.True(t, pat.Match("/a/b"))

	_, err = CompilePattern(PatternKind(99), "x")
	assert.Error(t, err)
}
