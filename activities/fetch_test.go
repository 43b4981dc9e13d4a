package activities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertHTMLAppliesExclusionRules(t *testing.T) {
	html := `<html><body>
		<nav class="menu">Navigation</nav>
		<article><h1>Title</h1><p>Body text.</p></article>
		<div id="comments">Comment spam</div>
		<script>alert(1)</script>
	</body></html>`

	md, err := ConvertHTML(html, []string{".menu", "#comments"})
	require.NoError(t, err)
	assert.Contains(t, md, "Title")
	assert.Contains(t, md, "Body text.")
	assert.NotContains(t, md, "Navigation")
	assert.NotContains(t, md, "Comment spam")
	assert.NotContains(t, md, "alert")
}

func TestConvertHTMLRulesArePureExclusions(t *testing.T) {
	html := `<p>Keep me.</p>`

	// A rule matching nothing must be a no-op, never an error.
	md, err := ConvertHTML(html, []string{".does-not-exist", "", "  "})
	require.NoError(t, err)
	assert.Equal(t, "Keep me.", md)
}

func TestDomainBlocked(t *testing.T) {
	a := New(Activities{BlockedDomains: []string{"blocked.example", "Tracker.NET"}})

	cases := []struct {
		host    string
		blocked bool
	}{
		{"blocked.example", true},
		{"sub.blocked.example", true},
		{"notblocked.example", false},
		{"blocked.example.org", false},
		{"tracker.net", true},
		{"cdn.tracker.net", true},
		{"fine.example", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.blocked, a.domainBlocked(tc.host), "host %s", tc.host)
	}
}
