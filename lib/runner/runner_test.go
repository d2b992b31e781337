package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ipoclerk/lib/accounts"
	"ipoclerk/lib/ledger"
	"ipoclerk/lib/reconcile"
	"ipoclerk/lib/scrapers/meroshare"
	"ipoclerk/lib/telemetry"
	"ipoclerk/lib/webform"
	"ipoclerk/lib/workflow"
)

type fakeDriver struct {
	closeCalls int
}

func (d *fakeDriver) Navigate(ctx context.Context, path string) error { return nil }
func (d *fakeDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (d *fakeDriver) ReadField(ctx context.Context, selector string) (string, error) {
	return "", nil
}
func (d *fakeDriver) SetField(ctx context.Context, selector, value string) error { return nil }
func (d *fakeDriver) Click(ctx context.Context, selector string) error           { return nil }
func (d *fakeDriver) Screenshot(ctx context.Context, label string) error         { return nil }
func (d *fakeDriver) Close() error {
	d.closeCalls++
	return nil
}

// fakeClient scripts per-account behavior by username.
type fakeClient struct {
	loginErr   map[string]error
	applyErr   map[string]error
	panicOn    map[string]bool
	reportRows []string
	details    map[string]ledger.Record
	scrapeErr  map[string]error
	scraped    *[]string
}

func (c *fakeClient) Login(ctx context.Context, acct accounts.Account) error {
	if c.panicOn[acct.Username] {
		panic("simulated crash in " + acct.Username)
	}
	return c.loginErr[acct.Username]
}

func (c *fakeClient) Apply(ctx context.Context, acct accounts.Account) (meroshare.Confirmation, error) {
	if err := c.applyErr[acct.Username]; err != nil {
		return meroshare.Confirmation{}, err
	}
	return meroshare.Confirmation{Ref: "REF-" + acct.Username}, nil
}

func (c *fakeClient) FetchReportRows(ctx context.Context) ([]string, error) {
	return c.reportRows, nil
}

func (c *fakeClient) ScrapeDetail(ctx context.Context, name string) (ledger.Record, error) {
	if c.scraped != nil {
		*c.scraped = append(*c.scraped, name)
	}
	if err := c.scrapeErr[name]; err != nil {
		return ledger.Record{}, err
	}
	return c.details[name], nil
}

func acctList(usernames ...string) []accounts.Account {
	out := make([]accounts.Account, len(usernames))
	for i, u := range usernames {
		out[i] = accounts.Account{
			Username:   u,
			Password:   "p",
			DP:         "Global IME",
			TargetItem: "Sunrise Hydro",
			Quantity:   10,
			CRN:        "c",
			PIN:        "1234",
		}
	}
	return out
}

func newTestRunner(client Client, drivers *[]*fakeDriver) Runner {
	return New(Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) {
			d := &fakeDriver{}
			if drivers != nil {
				*drivers = append(*drivers, d)
			}
			return d, nil
		},
		NewClient: func(webform.Driver) Client { return client },
	})
}

func TestRunAllOrderPreserved(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	client := &fakeClient{
		loginErr: map[string]error{
			"bob": workflow.Errorf(workflow.KindAuth, "login", "rejected"),
		},
	}
	r := newTestRunner(client, nil)

	results := r.RunAll(context.Background(), acctList("carol", "alice", "bob", "dave"), ModeApply)

	require.Len(t, results, 4)
	require.Equal(t, "carol", results[0].Account)
	require.Equal(t, "alice", results[1].Account)
	require.Equal(t, "bob", results[2].Account)
	require.Equal(t, "dave", results[3].Account)
}

func TestRunAllFaultIsolation(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	client := &fakeClient{
		applyErr: map[string]error{
			"two": errors.New("network down"),
		},
		panicOn: map[string]bool{"three": true},
	}
	var drivers []*fakeDriver
	r := newTestRunner(client, &drivers)

	results := r.RunAll(context.Background(), acctList("one", "two", "three", "four"), ModeApply)

	require.Len(t, results, 4)
	require.True(t, results[0].OK)
	require.False(t, results[1].OK)
	require.Contains(t, results[1].Message, "network down")
	require.False(t, results[2].OK)
	require.Contains(t, results[2].Message, "panic")
	require.True(t, results[3].OK)
	require.Equal(t, "REF-four", results[3].Ref)

	// every result carries a timestamp
	for _, res := range results {
		require.False(t, res.Time.IsZero())
	}
}

func TestDriverClosedOncePerAccount(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	client := &fakeClient{panicOn: map[string]bool{"crasher": true}}
	var drivers []*fakeDriver
	r := newTestRunner(client, &drivers)

	r.RunAll(context.Background(), acctList("ok", "crasher", "ok2"), ModeApply)

	require.Len(t, drivers, 3)
	for i, d := range drivers {
		require.Equal(t, 1, d.closeCalls, "driver %d", i)
	}
}

func TestExitStatusMapping(t *testing.T) {
	ok := workflow.Result{OK: true}
	bad := workflow.Result{OK: false}

	require.Equal(t, 0, ExitStatus([]workflow.Result{ok, ok, ok}))
	require.Equal(t, 1, ExitStatus([]workflow.Result{ok, bad}))
	require.Equal(t, 2, ExitStatus([]workflow.Result{bad, bad}))
	require.Equal(t, 2, ExitStatus(nil))
}

type fakeNotifier struct {
	received []workflow.Result
	err      error
}

func (n *fakeNotifier) NotifyBatch(ctx context.Context, results []workflow.Result) error {
	n.received = results
	return n.err
}

func TestNotifierFailureDoesNotAffectStatus(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	notifier := &fakeNotifier{err: errors.New("smtp unreachable")}
	client := &fakeClient{}
	r := New(Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) { return &fakeDriver{}, nil },
		NewClient: func(webform.Driver) Client { return client },
		Notifier:  notifier,
	})

	results := r.RunAll(context.Background(), acctList("alice", "bob"), ModeApply)

	require.Len(t, notifier.received, 2)
	require.Equal(t, 0, ExitStatus(results))
}

func TestReconcileModeScrapesOnlyPending(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	engine := reconcile.NewEngine(store)

	ctx := context.Background()

	// prior state: one finalized, one still pending
	err = store.Save(ctx, "alice", []ledger.Record{
		{Name: "Done Offering", IsAlloted: true, AllotedQty: 10},
		{Name: "Pending Offering", Status: "Pending"},
	})
	require.NoError(t, err)

	var scraped []string
	client := &fakeClient{
		reportRows: []string{"Done Offering", "Pending Offering", "New Offering"},
		details: map[string]ledger.Record{
			"Pending Offering": {Name: "Pending Offering", Status: "Alloted", IsAlloted: true, AllotedQty: 5},
			"New Offering":     {Name: "New Offering", Status: "Pending"},
		},
		scraped: &scraped,
	}

	r := New(Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) { return &fakeDriver{}, nil },
		NewClient: func(webform.Driver) Client { return client },
		Engine:    engine,
	})

	results := r.RunAll(ctx, acctList("alice"), ModeReconcile)

	require.Len(t, results, 1)
	require.True(t, results[0].OK, results[0].Message)
	// the finalized offering was never re-fetched
	require.Equal(t, []string{"Pending Offering", "New Offering"}, scraped)
	require.Contains(t, results[0].Message, "1 new allotments")

	snap, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	// merged output is sorted and the pending record was superseded
	require.Equal(t, "Done Offering", snap.Items[0].Name)
	require.Equal(t, "New Offering", snap.Items[1].Name)
	require.Equal(t, "Pending Offering", snap.Items[2].Name)
	require.True(t, snap.Items[2].IsAlloted)
}

func TestReconcileModePartialScrapeFailure(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	engine := reconcile.NewEngine(store)

	client := &fakeClient{
		reportRows: []string{"Good", "Bad"},
		details: map[string]ledger.Record{
			"Good": {Name: "Good", Status: "Pending"},
		},
		scrapeErr: map[string]error{
			"Bad": workflow.Errorf(workflow.KindScrape, "detail", "garbled page"),
		},
	}

	r := New(Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) { return &fakeDriver{}, nil },
		NewClient: func(webform.Driver) Client { return client },
		Engine:    engine,
	})

	results := r.RunAll(context.Background(), acctList("alice"), ModeReconcile)

	// one bad item does not fail the account
	require.True(t, results[0].OK)
	require.Contains(t, results[0].Message, "1 skipped")

	snap, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "Good", snap.Items[0].Name)
}

func TestRunAllCancelledBetweenAccounts(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:runner")
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{}
	calls := 0
	r := New(Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) {
			calls++
			if calls == 1 {
				cancel()
			}
			return &fakeDriver{}, nil
		},
		NewClient: func(webform.Driver) Client { return client },
		Delay:     DelayBounds{Min: time.Millisecond, Max: time.Millisecond * 2},
	})

	results := r.RunAll(ctx, acctList("one", "two", "three"), ModeApply)

	// the account in flight finishes, nothing further starts
	require.Len(t, results, 1)
	require.True(t, results[0].OK)
	require.Equal(t, 1, calls)
}
