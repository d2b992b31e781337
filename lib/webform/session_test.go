package webform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ipoclerk/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form id="login" action="/session" method="post">
	<input type="hidden" name="token" value="tok-123"/>
	<input type="text" name="username" id="username"/>
	<input type="password" name="password" id="password"/>
	<select name="dp" id="dp">
		<option value="10100">Global IME</option>
		<option value="10200">NIC Asia</option>
	</select>
	<button type="submit" id="submit">Login</button>
</form>
</body></html>`

func fakeSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("token") != "tok-123" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "hunter2" {
			fmt.Fprint(w, `<html><body><div class="error-banner">bad credentials</div></body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body>
			<div id="dashboard">welcome</div>
			<span id="chosen-dp">%s</span>
			<a id="logout" href="/login">logout</a>
		</body></html>`, r.PostForm.Get("dp"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestSession(t *testing.T, server *httptest.Server, opts SessionOptions) *Session {
	t.Helper()
	opts.BaseUrl = server.URL
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond * 10
	}
	session, err := NewSession(opts)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestLoginFormFlow(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))

	// hidden fields are readable and carried through submission
	token, err := session.ReadField(ctx, `input[name=token]`)
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)

	require.NoError(t, session.SetField(ctx, "#username", "alice"))
	require.NoError(t, session.SetField(ctx, "#password", "hunter2"))
	require.NoError(t, session.SelectOption(ctx, "#dp", "NIC Asia"))
	require.NoError(t, session.Click(ctx, "#submit"))

	require.NoError(t, session.WaitFor(ctx, "#dashboard", time.Second))

	// the select label was resolved to the option's value attribute
	dp, err := session.ReadField(ctx, "#chosen-dp")
	require.NoError(t, err)
	require.Equal(t, "10200", dp)
}

func TestClickLinkNavigates(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))
	require.NoError(t, session.SetField(ctx, "#username", "alice"))
	require.NoError(t, session.SetField(ctx, "#password", "hunter2"))
	require.NoError(t, session.Click(ctx, "#submit"))

	require.NoError(t, session.Click(ctx, "#logout"))
	_, err := session.ReadField(ctx, "#login")
	require.NoError(t, err)
}

func TestBadCredentialsLeaveErrorBanner(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))
	require.NoError(t, session.SetField(ctx, "#username", "alice"))
	require.NoError(t, session.SetField(ctx, "#password", "wrong"))
	require.NoError(t, session.Click(ctx, "#submit"))

	banner, err := session.ReadField(ctx, ".error-banner")
	require.NoError(t, err)
	require.Equal(t, "bad credentials", banner)
}

func TestWaitForPollsUntilReady(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			fmt.Fprint(w, `<html><body><div id="spinner"/></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><div id="ready"/></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	session := newTestSession(t, server, SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/pending"))
	require.NoError(t, session.WaitFor(ctx, "#ready", time.Second*2))
	require.GreaterOrEqual(t, hits.Load(), int64(3))
}

func TestWaitForTimeoutClassified(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))

	err := session.WaitFor(ctx, "#never-appears", time.Millisecond*50)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestReadMissingField(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))
	_, err := session.ReadField(ctx, "#nope")
	require.ErrorIs(t, err, ErrNoSuchField)
}

func TestScreenshotWritesSnapshot(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	dir := t.TempDir()
	session := newTestSession(t, fakeSite(t), SessionOptions{SnapshotDir: dir})
	ctx := context.Background()

	require.NoError(t, session.Navigate(ctx, "/login"))
	require.NoError(t, session.Screenshot(ctx, "after-login"))

	data, err := os.ReadFile(filepath.Join(dir, "after-login.html"))
	require.NoError(t, err)
	require.Contains(t, string(data), "login")
}

func TestUseAfterClose(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:webform")
	defer cleanup()

	session := newTestSession(t, fakeSite(t), SessionOptions{})
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	err := session.Navigate(context.Background(), "/login")
	require.ErrorIs(t, err, ErrSessionClosed)
}
