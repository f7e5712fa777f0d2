// Package linkclass sorts discovered URLs into social profiles and candidate
// homepages using host allow-lists.
package linkclass

import (
	"net/url"
	"strings"
)

// DefaultProfileHosts is the photo/profile-sharing network's host family.
var DefaultProfileHosts = []string{"*.instagram.com", "instagr.am"}

// DefaultSocialHosts lists other social networks and link aggregators.
var DefaultSocialHosts = []string{
	"*.facebook.com", "fb.com", "*.fb.me",
	"*.twitter.com", "*.x.com",
	"*.tiktok.com",
	"*.youtube.com", "youtu.be",
	"*.threads.net",
	"*.linkedin.com",
	"*.pinterest.com",
	"line.me", "lin.ee", "page.line.me",
	"linktr.ee", "lit.link",
	"ameblo.jp", "note.com",
}

// Result describes one classified URL.
type Result struct {
	IsSocial         bool
	IsProfileNetwork bool
	CanonicalURL     string
}

// Classifier matches hosts against the social allow-lists.
type Classifier struct {
	social  *hostMatcher
	profile *hostMatcher
}

// New builds a Classifier. Profile hosts are always treated as social too.
func New(socialHosts, profileHosts []string) *Classifier {
	return &Classifier{
		social:  newHostMatcher(append(append([]string(nil), socialHosts...), profileHosts...)),
		profile: newHostMatcher(profileHosts),
	}
}

// NewDefault builds a Classifier from the default host lists.
func NewDefault() *Classifier {
	return New(DefaultSocialHosts, DefaultProfileHosts)
}

// Classify never fails: unparseable input is reported as non-social with the
// raw string kept as the canonical form.
func (c *Classifier) Classify(raw string) Result {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Result{CanonicalURL: raw}
	}
	canonical := canonicalize(u)
	host := u.Hostname()
	return Result{
		IsSocial:         c.social.matches(host),
		IsProfileNetwork: c.profile.matches(host),
		CanonicalURL:     canonical,
	}
}

// IsProfileNetwork reports whether raw points at the profile-sharing network.
func (c *Classifier) IsProfileNetwork(raw string) bool {
	return c.Classify(raw).IsProfileNetwork
}

// FirstProfile returns the canonical form of the first profile-network URL in
// candidates, skipping duplicates that differ only cosmetically.
func (c *Classifier) FirstProfile(candidates []string) (string, bool) {
	seen := make(map[string]struct{}, len(candidates))
	for _, raw := range candidates {
		res := c.Classify(raw)
		if _, dup := seen[res.CanonicalURL]; dup {
			continue
		}
		seen[res.CanonicalURL] = struct{}{}
		if res.IsProfileNetwork {
			return res.CanonicalURL, true
		}
	}
	return "", false
}

// canonicalize lowercases scheme and host, drops default ports, the fragment,
// and a trailing slash on non-root paths.
func canonicalize(u *url.URL) string {
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	if out.Scheme == "http" {
		out.Host = strings.TrimSuffix(out.Host, ":80")
	}
	if out.Scheme == "https" {
		out.Host = strings.TrimSuffix(out.Host, ":443")
	}
	out.Fragment = ""
	out.RawFragment = ""
	if len(out.Path) > 1 {
		out.Path = strings.TrimSuffix(out.Path, "/")
		out.RawPath = ""
	}
	return out.String()
}

// hostMatcher stores exact hosts and "*." suffix patterns.
type hostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostMatcher(patterns []string) *hostMatcher {
	m := &hostMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			m.addSuffix(strings.TrimPrefix(value, "*."))
		default:
			m.exact[value] = struct{}{}
		}
	}
	return m
}

func (m *hostMatcher) addSuffix(suffix string) {
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

func (m *hostMatcher) matches(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
