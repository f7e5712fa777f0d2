// Package scraper pulls one contact email and one profile link from a
// business homepage. Scraping is best effort: every failure yields empty
// contacts and is never returned to the caller.
package scraper

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	collyfetcher "github.com/JakeFAU/leadfinder/internal/fetcher/colly"
	"github.com/JakeFAU/leadfinder/internal/metrics"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	imageSuffix  = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|svg|bmp|ico)$`)
)

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Page, error)
}

// ProfileMatcher decides which hrefs point at the profile-sharing network.
type ProfileMatcher interface {
	FirstProfile(candidates []string) (string, bool)
}

// FetchPolicy vets a URL before it is fetched.
type FetchPolicy interface {
	AllowFetch(rawURL string) bool
}

// Contacts is what a homepage yielded. Nil means not found.
type Contacts struct {
	Email  *string
	Social *string
}

// Scraper fetches homepages under a per-call timeout.
type Scraper struct {
	fetcher Fetcher
	matcher ProfileMatcher
	timeout time.Duration
	policy  FetchPolicy
	logger  *zap.Logger
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithPolicy refuses URLs the policy rejects without fetching them.
func WithPolicy(p FetchPolicy) Option {
	return func(s *Scraper) {
		s.policy = p
	}
}

// New builds a Scraper.
func New(fetcher Fetcher, matcher ProfileMatcher, timeout time.Duration, logger *zap.Logger, opts ...Option) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{fetcher: fetcher, matcher: matcher, timeout: timeout, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches rawURL and extracts contacts from it.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) Contacts {
	if s.policy != nil && !s.policy.AllowFetch(rawURL) {
		s.logger.Debug("scrape refused by policy", zap.String("url", rawURL))
		metrics.ObserveScrape("refused")
		return Contacts{}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		s.logger.Debug("scrape failed", zap.String("url", rawURL), zap.Error(err))
		metrics.ObserveScrape("failed")
		return Contacts{}
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		metrics.ObserveScrape("failed")
		return Contacts{}
	}
	base := page.URL
	if base == "" {
		base = rawURL
	}
	contacts := Extract(page.Body, base, s.matcher)
	metrics.ObserveScrape(outcome(contacts))
	return contacts
}

func outcome(c Contacts) string {
	if c.Email == nil && c.Social == nil {
		return "empty"
	}
	return "found"
}

// Extract parses body as HTML. The email is the first address in the visible
// text, falling back to mailto links; the social link is the first href on
// the profile network. Relative hrefs are resolved against pageURL.
func Extract(body []byte, pageURL string, matcher ProfileMatcher) Contacts {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Contacts{}
	}
	var out Contacts

	base, _ := url.Parse(pageURL)
	var hrefs []string
	var mailtos []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		if strings.HasPrefix(strings.ToLower(href), "mailto:") {
			mailtos = append(mailtos, href[len("mailto:"):])
			return
		}
		hrefs = append(hrefs, resolve(base, href))
	})
	if matcher != nil {
		if social, ok := matcher.FirstProfile(hrefs); ok {
			out.Social = &social
		}
	}

	doc.Find("script, style, noscript, template").Remove()
	if email, ok := firstEmail(visibleText(doc)); ok {
		out.Email = &email
	} else {
		for _, m := range mailtos {
			addr, _, _ := strings.Cut(m, "?")
			if unescaped, err := url.PathUnescape(addr); err == nil {
				addr = unescaped
			}
			if email, ok := firstEmail(addr); ok {
				out.Email = &email
				break
			}
		}
	}
	return out
}

// visibleText joins the body's text nodes with spaces so adjacent elements
// do not fuse into one token. Head content such as <title> is not visible.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Find("body").Nodes {
		walk(n)
	}
	return b.String()
}

func firstEmail(text string) (string, bool) {
	for _, match := range emailPattern.FindAllString(text, -1) {
		if imageSuffix.MatchString(match) {
			continue
		}
		return match, true
	}
	return "", false
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
