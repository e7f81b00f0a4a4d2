package crawler

import "strings"

// DomainSet matches hosts against exact names and suffix wildcards. A bare
// registrable domain such as "facebook.com" also matches its subdomains.
type DomainSet struct {
	exact    map[string]string
	suffixes []string
}

// NewDomainSet builds a matcher from patterns like "example.org", "*.ru" or ".ru".
// It returns nil when no usable pattern is supplied.
func NewDomainSet(patterns []string) *DomainSet {
	set := &DomainSet{
		exact: make(map[string]string),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			set.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			set.addSuffix(strings.TrimPrefix(value, "."))
		default:
			set.exact[value] = value
			set.addSuffix(value)
		}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func (s *DomainSet) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

// Match reports whether host is covered and returns the pattern that matched.
func (s *DomainSet) Match(host string) (string, bool) {
	if s == nil {
		return "", false
	}
	host = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(host)), "www.")
	if host == "" {
		return "", false
	}
	if pattern, ok := s.exact[host]; ok {
		return pattern, true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return suffix, true
		}
	}
	return "", false
}
