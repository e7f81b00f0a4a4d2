package scorer

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/org-contact-crawler/internal/crawler"
)

// Result is the score of one URL with the rules that produced it.
type Result struct {
	Score        int
	PathScore    int
	ContentScore int
	Breakdown    []crawler.RuleHit
	Excluded     bool
}

// ContentResult is the contribution of page content signals.
type ContentResult struct {
	Score     int
	Breakdown []crawler.RuleHit
}

// Scorer evaluates URLs and content against a Rubric. It is safe for
// concurrent use; it holds no mutable state after construction.
type Scorer struct {
	rubric         Rubric
	exclusions     [][]string
	exclusionNames []string
	excludeDomains *crawler.DomainSet
	badDomains     *crawler.DomainSet
	emailTiers     []Tier
	nameTiers      []Tier
}

// New compiles a Rubric into a Scorer.
func New(rubric Rubric) *Scorer {
	s := &Scorer{
		rubric:         rubric,
		excludeDomains: crawler.NewDomainSet(rubric.ExcludeDomains),
		badDomains:     crawler.NewDomainSet(rubric.BadDomains.Keywords),
		emailTiers:     sortedTiers(rubric.EmailTiers),
		nameTiers:      sortedTiers(rubric.NameTiers),
	}
	for _, pattern := range rubric.ExcludeTokens {
		tokens := tokenize(pattern)
		if len(tokens) == 0 {
			continue
		}
		s.exclusions = append(s.exclusions, tokens)
		s.exclusionNames = append(s.exclusionNames, strings.ToLower(strings.TrimSpace(pattern)))
	}
	return s
}

// Rubric returns the tables the Scorer was built from.
func (s *Scorer) Rubric() Rubric {
	return s.rubric
}

// Score combines the path score with the content score when signals are given.
func (s *Scorer) Score(rawURL string, signals *Signals) Result {
	res := s.ScorePath(rawURL)
	if res.Excluded || signals == nil {
		return res
	}
	content := s.ScoreContent(*signals)
	res.ContentScore = content.Score
	res.Score = res.PathScore + content.Score
	res.Breakdown = append(res.Breakdown, content.Breakdown...)
	return res
}

// ScorePath scores a URL from its host, path and fragment alone.
func (s *Scorer) ScorePath(rawURL string) Result {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return excluded("exclude:malformed")
	}
	if rule, ok := s.exclusionRule(u); ok {
		return excluded(rule)
	}

	var (
		total     int
		breakdown []crawler.RuleHit
	)
	path := strings.ToLower(u.Path)
	for _, cat := range s.rubric.PathCategories {
		if kw, ok := firstContained(path, cat.Keywords); ok {
			total += cat.Weight
			breakdown = append(breakdown, crawler.RuleHit{Rule: cat.Name + ":" + kw, Delta: cat.Weight})
		}
	}
	if pattern, ok := s.badDomains.Match(u.Hostname()); ok {
		total += s.rubric.BadDomains.Weight
		breakdown = append(breakdown, crawler.RuleHit{
			Rule:  s.rubric.BadDomains.Name + ":" + pattern,
			Delta: s.rubric.BadDomains.Weight,
		})
	}
	if frag := strings.ToLower(u.Fragment); frag != "" {
		if kw, ok := firstContained(frag, s.rubric.Fragment.Keywords); ok {
			total += s.rubric.Fragment.Weight
			breakdown = append(breakdown, crawler.RuleHit{
				Rule:  s.rubric.Fragment.Name + ":" + kw,
				Delta: s.rubric.Fragment.Weight,
			})
		}
	}
	return Result{Score: total, PathScore: total, Breakdown: breakdown}
}

// ScoreContent scores extracted page signals.
func (s *Scorer) ScoreContent(signals Signals) ContentResult {
	var res ContentResult
	if tier, ok := matchTier(s.emailTiers, signals.EmailMentions); ok {
		res.Score += tier.Weight
		res.Breakdown = append(res.Breakdown, crawler.RuleHit{
			Rule:  fmt.Sprintf("emails>=%d", tier.Min),
			Delta: tier.Weight,
		})
	}
	if tier, ok := matchTier(s.nameTiers, signals.Names); ok {
		res.Score += tier.Weight
		res.Breakdown = append(res.Breakdown, crawler.RuleHit{
			Rule:  fmt.Sprintf("names>=%d", tier.Min),
			Delta: tier.Weight,
		})
	}
	if s.rubric.HeadingBonus != 0 {
		if kw, ok := s.HeadingMatch(signals.Headings); ok {
			res.Score += s.rubric.HeadingBonus
			res.Breakdown = append(res.Breakdown, crawler.RuleHit{
				Rule:  "heading:" + kw,
				Delta: s.rubric.HeadingBonus,
			})
		}
	}
	return res
}

// HeadingMatch reports the first heading keyword found in any heading.
func (s *Scorer) HeadingMatch(headings []string) (string, bool) {
	for _, h := range headings {
		if kw, ok := firstContained(strings.ToLower(h), s.rubric.HeadingKeywords); ok {
			return kw, true
		}
	}
	return "", false
}

// Excluded reports whether the URL is removed by an exclusion rule.
func (s *Scorer) Excluded(rawURL string) bool {
	return s.ScorePath(rawURL).Excluded
}

// SignificantFragment reports whether a fragment names a section worth
// treating as its own page.
func (s *Scorer) SignificantFragment(fragment string) bool {
	if fragment == "" {
		return false
	}
	_, ok := firstContained(strings.ToLower(fragment), s.rubric.SignificantFragments)
	return ok
}

func (s *Scorer) exclusionRule(u *url.URL) (string, bool) {
	if pattern, ok := s.excludeDomains.Match(u.Hostname()); ok {
		return "exclude:domain:" + pattern, true
	}
	for _, segment := range strings.Split(u.Path, "/") {
		tokens := tokenize(segment)
		if len(tokens) == 0 {
			continue
		}
		for i, pattern := range s.exclusions {
			if containsRun(tokens, pattern) {
				return "exclude:segment:" + s.exclusionNames[i], true
			}
		}
	}
	return "", false
}

func excluded(rule string) Result {
	return Result{
		Excluded:  true,
		Breakdown: []crawler.RuleHit{{Rule: rule, Delta: 0}},
	}
}

// tokenize lower-cases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsRun(tokens, run []string) bool {
	if len(run) == 0 || len(run) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(tokens); i++ {
		for j := range run {
			if tokens[i+j] != run[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func firstContained(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw != "" && strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}

func sortedTiers(tiers []Tier) []Tier {
	out := append([]Tier(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min > out[j].Min })
	return out
}

func matchTier(tiers []Tier, count int) (Tier, bool) {
	for _, t := range tiers {
		if t.Min > 0 && count >= t.Min {
			return t, true
		}
	}
	return Tier{}, false
}
