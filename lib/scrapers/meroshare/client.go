// Package meroshare drives the share-application portal through the
// webform driver. It never touches markup directly, every interaction
// goes through the driver's field-level primitives so the whole package
// can be exercised against a fake site.
package meroshare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"ipoclerk/lib/accounts"
	"ipoclerk/lib/webform"
	"ipoclerk/lib/workflow"
)

var tracer = otel.Tracer("lib/scrapers/meroshare")

// selectors for the portal's markup, kept in one place since they are
// the only thing that breaks when the site changes
const (
	selUsername    = "#username"
	selPassword    = "#password"
	selDP          = "#dp"
	selLoginBtn    = "#login-btn"
	selDashboard   = "#dashboard"
	selErrorBanner = ".error-banner"
)

type ClientOptions struct {
	// WaitTimeout bounds every page-state wait, 20s if unset.
	WaitTimeout time.Duration
}

type Client struct {
	driver webform.Driver
	opts   ClientOptions
}

func NewClient(driver webform.Driver, opts ClientOptions) *Client {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = time.Second * 20
	}
	return &Client{driver: driver, opts: opts}
}

// Login authenticates the session for one account. A timeout waiting for
// the dashboard gets one recovery navigation before it is surfaced; a
// surviving error banner is an auth failure, not a technical one.
func (c *Client) Login(ctx context.Context, acct accounts.Account) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	err := c.driver.Navigate(ctx, "/login")
	if err != nil {
		return workflow.Wrap(workflow.KindTimeout, "open login page", err)
	}
	err = errors.Join(
		c.setField(ctx, selUsername, acct.Username),
		c.setField(ctx, selPassword, acct.Password),
		c.selectOption(ctx, selDP, acct.DP),
	)
	if err != nil {
		return workflow.Wrap(workflow.KindInternal, "fill login form", err)
	}
	err = c.driver.Click(ctx, selLoginBtn)
	if err != nil {
		return workflow.Wrap(workflow.KindTimeout, "submit login", err)
	}

	err = c.driver.WaitFor(ctx, selDashboard, c.opts.WaitTimeout)
	if errors.Is(err, webform.ErrWaitTimeout) {
		// the portal sometimes bounces a fresh session to a blank page,
		// one recovery navigation is worth attempting
		slog.WarnContext(ctx, "dashboard wait timed out, retrying navigation", "account", acct.Username)
		if nerr := c.driver.Navigate(ctx, "/dashboard"); nerr == nil {
			err = c.driver.WaitFor(ctx, selDashboard, c.opts.WaitTimeout)
		}
	}
	if err != nil {
		if banner, berr := c.driver.ReadField(ctx, selErrorBanner); berr == nil && banner != "" {
			_ = c.driver.Screenshot(ctx, fmt.Sprintf("login-rejected-%s", acct.Username))
			return workflow.Errorf(workflow.KindAuth, "login", "portal rejected credentials: %s", banner)
		}
		_ = c.driver.Screenshot(ctx, fmt.Sprintf("login-timeout-%s", acct.Username))
		return workflow.Wrap(workflow.KindTimeout, "wait for dashboard", err)
	}
	return nil
}

func (c *Client) setField(ctx context.Context, selector, value string) error {
	err := c.driver.SetField(ctx, selector, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", selector, err)
	}
	return nil
}

func (c *Client) selectOption(ctx context.Context, selector, label string) error {
	type optionSelector interface {
		SelectOption(ctx context.Context, selector, label string) error
	}
	if sel, ok := c.driver.(optionSelector); ok {
		err := sel.SelectOption(ctx, selector, label)
		if err != nil {
			return fmt.Errorf("select %s: %w", selector, err)
		}
		return nil
	}
	return c.setField(ctx, selector, label)
}

// readRows reads `.row:nth-child(i) name` style cells until the first
// index that no longer exists, returning the visible names in row order.
func (c *Client) readRows(ctx context.Context, rowPattern string) ([]string, error) {
	var names []string
	for i := 1; ; i++ {
		name, err := c.driver.ReadField(ctx, fmt.Sprintf(rowPattern, i))
		if errors.Is(err, webform.ErrNoSuchField) {
			return names, nil
		}
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
}
