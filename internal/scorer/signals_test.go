package scorer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

func TestExtractSignals(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><head><title>Staff</title>
<script>var leak = "script@example.org";</script>
<style>.x{}</style></head>
<body>
<h1>Our Staff Directory</h1>
<h2>  Front
   Office </h2>
<ul>
<li>Jane Doe</li><li>John Smith</li>
<li>Write to Principal@Example.org or principal@example.org</li>
</ul>
<a href="mailto:office@example.org?subject=hi">Email us</a>
<span data-email="nurse@example.org">Nurse</span>
<span data-mailto="mailto:coach@example.org"></span>
</body></html>`)

	sig := ExtractSignals(page)
	require.Equal(t, []string{
		"principal@example.org",
		"office@example.org",
		"nurse@example.org",
		"coach@example.org",
	}, sig.Emails)
	require.Equal(t, 5, sig.EmailMentions)
	require.Equal(t, []string{"Our Staff Directory", "Front Office"}, sig.Headings)
	require.GreaterOrEqual(t, sig.Names, 2)
}

func TestExtractSignals_RepeatedAddressCountsEachMention(t *testing.T) {
	t.Parallel()

	link := `<p><a href="mailto:office@school.org">office@school.org</a></p>`
	sig := ExtractSignals([]byte("<html><body>" + strings.Repeat(link, 5) + "</body></html>"))
	require.Equal(t, []string{"office@school.org"}, sig.Emails)
	require.Equal(t, 5, sig.EmailMentions)

	res := New(DefaultRubric()).ScoreContent(sig)
	require.Equal(t, 40, res.Score)
	require.Equal(t, []crawler.RuleHit{{Rule: "emails>=5", Delta: 40}}, res.Breakdown)
}

func TestExtractSignals_Empty(t *testing.T) {
	t.Parallel()

	sig := ExtractSignals(nil)
	require.Empty(t, sig.Emails)
	require.Zero(t, sig.EmailMentions)
	require.Empty(t, sig.Headings)
	require.Zero(t, sig.Names)
}
