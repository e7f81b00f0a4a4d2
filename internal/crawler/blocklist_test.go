package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainSet(t *testing.T) {
	t.Parallel()

	t.Run("exact entry covers subdomains", func(t *testing.T) {
		set := NewDomainSet([]string{"facebook.com"})
		require.NotNil(t, set)
		pattern, ok := set.Match("www.facebook.com")
		require.True(t, ok)
		require.Equal(t, "facebook.com", pattern)
		_, ok = set.Match("m.facebook.com")
		require.True(t, ok)
		_, ok = set.Match("notfacebook.com")
		require.False(t, ok)
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		set := NewDomainSet([]string{"*.ru"})
		cases := []struct {
			host    string
			matched bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"example.com", false},
		}
		for _, tc := range cases {
			_, got := set.Match(tc.host)
			require.Equal(t, tc.matched, got, tc.host)
		}
	})

	t.Run("nil set never matches", func(t *testing.T) {
		var set *DomainSet
		_, ok := set.Match("anything")
		require.False(t, ok)
		require.Nil(t, NewDomainSet([]string{" ", ""}))
	})
}

func TestClassOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrClassBudget, ClassOf(ErrBudgetExhausted))
	require.Equal(t, ErrClassHTTPStatus, ClassOf(&HTTPStatusError{StatusCode: 404}))
	require.Equal(t, ErrClassDNS, ClassOf(&FetchError{URL: "https://x", Class: ErrClassDNS}))
	require.Equal(t, ErrorClass(""), ClassOf(nil))
}
