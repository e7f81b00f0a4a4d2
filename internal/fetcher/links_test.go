package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head><base href="https://school.example/about/"></head><body>
		<a href="staff">Staff</a>
		<a href=" /contact-us ">Contact</a>
		<a href="mailto:office@school.example">Email</a>
		<a href="javascript:void(0)">Menu</a>
		<a href="ftp://files.school.example/x">FTP</a>
		<area href="https://other.example/map">
		<a href="">empty</a>
	</body></html>`)

	require.Equal(t, []string{
		"https://school.example/about/staff",
		"https://school.example/contact-us",
		"https://other.example/map",
	}, ExtractLinks("https://school.example/", body))
}

func TestExtractLinksBadBase(t *testing.T) {
	t.Parallel()

	require.Nil(t, ExtractLinks("://bad", []byte(`<a href="/x">x</a>`)))
}
