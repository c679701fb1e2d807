package nav

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"rentwatch/internal/match"
)

// RodNavigator opens real browser pages via rod so that JS-rendered listing
// markup is present before any selector is evaluated.
type RodNavigator struct {
	// ControlURL points at a remote devtools endpoint; empty launches a
	// local browser.
	ControlURL   string
	UserAgent    string
	MaxTextChars int
}

func NewRodNavigator(controlURL, userAgent string, maxTextChars int) *RodNavigator {
	if maxTextChars <= 0 {
		maxTextChars = 50000
	}
	return &RodNavigator{ControlURL: controlURL, UserAgent: userAgent, MaxTextChars: maxTextChars}
}

func (n *RodNavigator) OpenPage(ctx context.Context, pageURL string, timeout time.Duration) (Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	browser := rod.New().Context(ctx).Timeout(timeout)
	if n.ControlURL != "" {
		browser = browser.ControlURL(n.ControlURL)
	}

	if err := browser.Connect(); err != nil {
		return nil, classifyNavErr(err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		_ = browser.CancelTimeout().Close()
		return nil, classifyNavErr(err)
	}

	if n.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: n.UserAgent}); err != nil {
			_ = page.CancelTimeout().Close()
			_ = browser.CancelTimeout().Close()
			return nil, classifyNavErr(err)
		}
	}

	if err := page.WaitLoad(); err != nil {
		_ = page.CancelTimeout().Close()
		_ = browser.CancelTimeout().Close()
		return nil, classifyNavErr(err)
	}

	// The timeout bounds navigation only. The page outlives the load window
	// (selector discovery interposes extractor calls and candidate waits),
	// so later page operations must not inherit the load deadline.
	return &rodPage{
		browser:      browser.CancelTimeout(),
		page:         page.CancelTimeout(),
		url:          u,
		maxTextChars: n.MaxTextChars,
	}, nil
}

func classifyNavErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}

type rodPage struct {
	browser      *rod.Browser
	page         *rod.Page
	url          *url.URL
	maxTextChars int
}

func (p *rodPage) Close() error {
	err := p.page.Close()
	if cerr := p.browser.Close(); err == nil {
		err = cerr
	}
	return err
}

// snapshot parses the current rendered DOM into a goquery document.
func (p *rodPage) snapshot() (*goquery.Document, error) {
	htmlStr, err := p.page.HTML()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
}

func (p *rodPage) VisibleText() (string, error) {
	doc, err := p.snapshot()
	if err != nil {
		return "", err
	}

	// Drop tags that add tokens without information.
	doc.Find("script, style, noscript, svg, meta, link").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", err
	}
	return truncateRunes(cleaned, p.maxTextChars), nil
}

// truncateRunes caps s at max bytes without splitting a multi-byte rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (p *rodPage) OutboundLinks() ([]match.Link, error) {
	doc, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	links := make([]match.Link, 0)
	doc.Find("a, button").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href != "" {
			if linkURL, err := url.Parse(href); err == nil {
				if !linkURL.IsAbs() && !strings.HasPrefix(href, "#") {
					linkURL = p.url.ResolveReference(linkURL)
				}
				href = linkURL.String()
			}
		}
		links = append(links, match.Link{Text: text, Href: href})
	})
	return links, nil
}

func (p *rodPage) LocateAll(selector string) (int, []string, error) {
	doc, err := p.snapshot()
	if err != nil {
		return 0, nil, err
	}

	snippets := make([]string, 0)
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if inner, err := sel.Html(); err == nil {
			snippets = append(snippets, inner)
		}
	})
	return len(snippets), snippets, nil
}

func (p *rodPage) WaitFor(selector string, timeout time.Duration) error {
	if _, err := p.page.Timeout(timeout).Element(selector); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSelectorNotFound, selector, err)
	}
	return nil
}

func (p *rodPage) ElementIDs(limit int) ([]string, error) {
	doc, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, limit)
	doc.Find("[id]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if id := sel.AttrOr("id", ""); id != "" {
			ids = append(ids, id)
		}
		return limit <= 0 || len(ids) < limit
	})
	return ids, nil
}
