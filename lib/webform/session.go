package webform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"

	"ipoclerk/lib/telemetry"
)

var tracer = otel.Tracer("lib/webform")

type SessionOptions struct {
	BaseUrl string
	// SnapshotDir receives page snapshots taken by Screenshot. Empty
	// disables capture.
	SnapshotDir string
	// PollInterval is the re-fetch interval used by WaitFor, 500ms if
	// unset.
	PollInterval time.Duration
}

// Session implements Driver on a cookie-jar HTTP client plus the parsed
// document of the most recently loaded page. Each Session is fully
// isolated: fresh client, fresh jar, no shared caches.
type Session struct {
	http    *resty.Client
	base    *url.URL
	opts    SessionOptions
	doc     *goquery.Document
	pageUrl *url.URL
	staged  url.Values
	closed  bool
}

func NewSession(opts SessionOptions) (*Session, error) {
	base, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond * 500
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, tracer)

	return &Session{
		http:   client,
		base:   base,
		opts:   opts,
		staged: url.Values{},
	}, nil
}

func (s *Session) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if s.pageUrl != nil {
		return s.pageUrl.ResolveReference(ref), nil
	}
	return s.base.ResolveReference(ref), nil
}

func (s *Session) load(ctx context.Context, target *url.URL) error {
	res, err := s.http.R().
		SetContext(ctx).
		Get(target.String())
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("GET %s: %s", target.Path, res.Status())
	}
	return s.setDocument(res, target)
}

func (s *Session) setDocument(res *resty.Response, requested *url.URL) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return err
	}
	s.doc = doc
	s.pageUrl = requested
	if final := res.RawResponse; final != nil && final.Request != nil && final.Request.URL != nil {
		s.pageUrl = final.Request.URL
	}
	s.staged = url.Values{}
	return nil
}

func (s *Session) Navigate(ctx context.Context, path string) error {
	if s.closed {
		return ErrSessionClosed
	}
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "navigate", "url", target.String())
	return s.load(ctx, target)
}

func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if s.closed {
		return ErrSessionClosed
	}
	deadline := time.Now().Add(timeout)
	for {
		if s.doc != nil && s.doc.Find(selector).Length() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q after %s", ErrWaitTimeout, selector, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}

		if s.pageUrl == nil {
			continue
		}
		err := s.load(ctx, s.pageUrl)
		if err != nil {
			slog.DebugContext(ctx, "wait re-fetch failed", "err", err)
		}
	}
}

func (s *Session) find(selector string) (*goquery.Selection, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.doc == nil {
		return nil, fmt.Errorf("%w: no page loaded", ErrNoSuchField)
	}
	sel := s.doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchField, selector)
	}
	return sel.First(), nil
}

func (s *Session) ReadField(ctx context.Context, selector string) (string, error) {
	el, err := s.find(selector)
	if err != nil {
		return "", err
	}

	if name := el.AttrOr("name", ""); name != "" && s.staged.Has(name) {
		return s.staged.Get(name), nil
	}

	switch goquery.NodeName(el) {
	case "input":
		return el.AttrOr("value", ""), nil
	case "textarea":
		return el.Text(), nil
	case "select":
		selected := el.Find("option[selected]")
		if selected.Length() == 0 {
			selected = el.Find("option")
		}
		return selected.First().AttrOr("value", strings.TrimSpace(selected.First().Text())), nil
	default:
		return strings.TrimSpace(el.Text()), nil
	}
}

func (s *Session) SetField(ctx context.Context, selector, value string) error {
	el, err := s.find(selector)
	if err != nil {
		return err
	}
	name := el.AttrOr("name", "")
	if name == "" {
		return fmt.Errorf("%w: %q has no name attribute", ErrNoSuchField, selector)
	}
	s.staged.Set(name, value)
	return nil
}

// selectOptionValue maps a human-readable option label to its value
// attribute, falling back to treating the input as a value directly.
func (s *Session) selectOptionValue(el *goquery.Selection, label string) string {
	value := label
	el.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(opt.Text()), strings.TrimSpace(label)) {
			value = opt.AttrOr("value", label)
			return false
		}
		return true
	})
	return value
}

// SelectOption stages a select field by visible option label rather than
// value attribute.
func (s *Session) SelectOption(ctx context.Context, selector, label string) error {
	el, err := s.find(selector)
	if err != nil {
		return err
	}
	name := el.AttrOr("name", "")
	if name == "" {
		return fmt.Errorf("%w: %q has no name attribute", ErrNoSuchField, selector)
	}
	s.staged.Set(name, s.selectOptionValue(el, label))
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.find(selector)
	if err != nil {
		return err
	}

	if goquery.NodeName(el) == "a" {
		href := el.AttrOr("href", "")
		if href == "" {
			return fmt.Errorf("%w: link %q has no href", ErrNoSuchField, selector)
		}
		return s.Navigate(ctx, href)
	}

	form := el.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("%w: %q is not inside a form", ErrNoSuchField, selector)
	}
	return s.submit(ctx, form, el)
}

// submit serializes the form the way a browser would: every named
// control's current value, overridden by staged values, plus the clicked
// control's own name/value pair.
func (s *Session) submit(ctx context.Context, form, clicked *goquery.Selection) error {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, el *goquery.Selection) {
		name := el.AttrOr("name", "")
		if name == "" {
			return
		}
		switch goquery.NodeName(el) {
		case "input":
			inputType := strings.ToLower(el.AttrOr("type", "text"))
			if inputType == "submit" || inputType == "button" {
				return
			}
			if (inputType == "checkbox" || inputType == "radio") && !el.Is("[checked]") {
				return
			}
			values.Set(name, el.AttrOr("value", ""))
		case "textarea":
			values.Set(name, el.Text())
		case "select":
			selected := el.Find("option[selected]")
			if selected.Length() > 0 {
				values.Set(name, selected.First().AttrOr("value", ""))
			}
		}
	})
	for name := range s.staged {
		values.Set(name, s.staged.Get(name))
	}
	if name := clicked.AttrOr("name", ""); name != "" {
		values.Set(name, clicked.AttrOr("value", ""))
	}

	action, err := s.resolve(form.AttrOr("action", s.pageUrl.String()))
	if err != nil {
		return err
	}
	method := strings.ToUpper(form.AttrOr("method", "GET"))
	slog.DebugContext(ctx, "submit form", "action", action.String(), "method", method)

	var res *resty.Response
	if method == "POST" {
		res, err = s.http.R().
			SetContext(ctx).
			SetHeader("content-type", "application/x-www-form-urlencoded").
			SetBody(values.Encode()).
			Post(action.String())
	} else {
		action.RawQuery = values.Encode()
		res, err = s.http.R().
			SetContext(ctx).
			Get(action.String())
	}
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("%s %s: %s", method, action.Path, res.Status())
	}
	return s.setDocument(res, action)
}

func (s *Session) Screenshot(ctx context.Context, label string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.opts.SnapshotDir == "" || s.doc == nil {
		return nil
	}

	html, err := s.doc.Html()
	if err != nil {
		return err
	}
	err = os.MkdirAll(s.opts.SnapshotDir, 0o755)
	if err != nil {
		return err
	}
	path := filepath.Join(s.opts.SnapshotDir, fmt.Sprintf("%s.html", label))
	slog.DebugContext(ctx, "page snapshot", "path", path)
	return os.WriteFile(path, []byte(html), 0o644)
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.doc = nil
	s.pageUrl = nil
	s.staged = nil
	return nil
}
