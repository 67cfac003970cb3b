package scrape

import (
	"net/url"
	"strings"

	"github.com/tomeworks/tome/pkg/config"
)

// Blocklist rejects URLs by domain or file extension before any fetch.
// Lists come from configuration; the built-in defaults cover social sites and
// bulk data dumps.
type Blocklist struct {
	domains    []string
	extensions []string
	academic   []string
}

// NewBlocklist builds the filter from the quality config section.
func NewBlocklist(cfg config.QualityConfig) *Blocklist {
	return &Blocklist{
		domains:    lowerAll(cfg.BlockedDomains),
		extensions: lowerAll(cfg.BlockedExtensions),
		academic:   lowerAll(cfg.AcademicDomains),
	}
}

// Blocked reports whether the URL is on the blocklist and why.
func (b *Blocklist) Blocked(rawURL string) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, "unparseable url"
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true, "blocked domain " + d
		}
	}
	path := strings.ToLower(u.Path)
	for _, ext := range b.extensions {
		if strings.HasSuffix(path, ext) {
			return true, "blocked extension " + ext
		}
	}
	return false, ""
}

// Academic reports whether the URL's host belongs to a known academic domain.
func (b *Blocklist) Academic(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, d := range b.academic {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
