// Package scorer ranks candidate URLs against a weighted keyword rubric.
//
// Scoring is split into two pure phases: ScorePath looks only at the URL and
// ScoreContent looks only at signals extracted from fetched HTML. Exclusion
// rules are evaluated first and short-circuit everything else.
package scorer

// Category is a named keyword group that contributes Weight at most once per URL.
type Category struct {
	Name     string   `mapstructure:"name"`
	Weight   int      `mapstructure:"weight"`
	Keywords []string `mapstructure:"keywords"`
}

// Tier awards Weight when a count reaches Min. Tiers are checked in order.
type Tier struct {
	Min    int `mapstructure:"min"`
	Weight int `mapstructure:"weight"`
}

// Rubric holds every rule table used by the Scorer.
type Rubric struct {
	// ExcludeTokens match whole path tokens; "contact-us" matches the token run contact,us.
	ExcludeTokens  []string `mapstructure:"exclude_tokens"`
	ExcludeDomains []string `mapstructure:"exclude_domains"`

	// PathCategories are evaluated in order against the lower-cased path.
	PathCategories []Category `mapstructure:"path_categories"`
	BadDomains     Category   `mapstructure:"bad_domains"`
	Fragment       Category   `mapstructure:"fragment"`

	// SignificantFragments keep a fragment in the dedup key.
	SignificantFragments []string `mapstructure:"significant_fragments"`

	EmailTiers      []Tier   `mapstructure:"email_tiers"`
	NameTiers       []Tier   `mapstructure:"name_tiers"`
	HeadingBonus    int      `mapstructure:"heading_bonus"`
	HeadingKeywords []string `mapstructure:"heading_keywords"`
}

var highValueKeywords = []string{
	"staff", "faculty", "directory", "administration", "admin", "team",
	"leadership", "our-team", "who-we-are", "meet-our", "personnel",
	"board", "principal", "superintendent",
}

// DefaultRubric returns the built-in rule tables.
func DefaultRubric() Rubric {
	return Rubric{
		ExcludeTokens: []string{
			"login", "logout", "signin", "sign-in",
			"contact", "contactus", "contact-us",
			"admission", "admissions", "apply", "enroll", "enrollment",
			"home", "calendar", "athletic", "athletics", "sports",
			"news", "lunch", "menu", "forms",
			"employment", "careers", "jobs",
		},
		ExcludeDomains: []string{
			"facebook.com", "instagram.com", "twitter.com", "x.com",
			"youtube.com", "linkedin.com", "tiktok.com", "vimeo.com", "pinterest.com",
		},
		PathCategories: []Category{
			{Name: "high_value", Weight: 25, Keywords: append([]string(nil), highValueKeywords...)},
			{Name: "support", Weight: 10, Keywords: []string{"about", "mission", "vision", "history"}},
			{Name: "low_value", Weight: 5, Keywords: []string{"contact", "info", "location"}},
			{Name: "penalty", Weight: -25, Keywords: []string{
				"calendar", "athletic", "sports", "admission", "event", "news", "blog",
				"lunch", "menu", "forms", "download",
				"facebook", "instagram", "twitter", "youtube",
			}},
		},
		BadDomains: Category{
			Name:   "bad_domain",
			Weight: -40,
			Keywords: []string{
				"linktr.ee", "docs.google.com", "drive.google.com", "sites.google.com", "dropbox.com",
			},
		},
		Fragment: Category{
			Name:     "fragment",
			Weight:   20,
			Keywords: []string{"team", "staff", "faculty", "leadership", "directory", "admin"},
		},
		SignificantFragments: []string{
			"team", "staff", "faculty", "leadership", "directory",
			"contact", "about", "administrat", "office",
		},
		EmailTiers:      []Tier{{Min: 5, Weight: 40}, {Min: 2, Weight: 25}, {Min: 1, Weight: 10}},
		NameTiers:       []Tier{{Min: 10, Weight: 30}, {Min: 5, Weight: 15}},
		HeadingBonus:    10,
		HeadingKeywords: append([]string(nil), highValueKeywords...),
	}
}
