package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/repository"
	"github.com/user/autoria-crawler/pkg/config"
)

var errTimeout = context.DeadlineExceeded

// fakePage scripts the outcome of every browser call by selector.
type fakePage struct {
	mu sync.Mutex

	navigateErrs []error
	visible      map[string]error
	enabled      map[string]error
	clickErr     map[string]error
	scriptErr    error
	pollErr      error
	text         map[string]string
	html         string
	htmlErr      error

	calls  []string
	closed int
}

func (p *fakePage) log(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.log("navigate")
	if len(p.navigateErrs) > 0 {
		err := p.navigateErrs[0]
		p.navigateErrs = p.navigateErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, sel string, _ time.Duration) error {
	p.log("visible " + sel)
	return p.visible[sel]
}

func (p *fakePage) WaitEnabled(_ context.Context, sel string, _ time.Duration) error {
	p.log("enabled " + sel)
	return p.enabled[sel]
}

func (p *fakePage) ScrollIntoView(context.Context, string, time.Duration) error {
	p.log("scroll")
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string, _ time.Duration) error {
	p.log("click " + sel)
	return p.clickErr[sel]
}

func (p *fakePage) ClickViaScript(context.Context, string, time.Duration) error {
	p.log("script click")
	return p.scriptErr
}

func (p *fakePage) WaitTextHasDigit(context.Context, string, time.Duration) error {
	p.log("poll")
	return p.pollErr
}

func (p *fakePage) Text(_ context.Context, sel string, _ time.Duration) (string, error) {
	p.log("text " + sel)
	return p.text[sel], nil
}

func (p *fakePage) HTML(context.Context, time.Duration) (string, error) {
	p.log("html")
	return p.html, p.htmlErr
}

func (p *fakePage) Sleep(context.Context, time.Duration) error {
	p.log("sleep")
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakePool struct {
	page       *fakePage
	acquireErr error
	profile    intercept.BrowserProfile
}

func (f *fakePool) Acquire(_ context.Context, profile intercept.BrowserProfile) (repository.BrowserPage, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.profile = profile
	return f.page, nil
}

func (f *fakePool) Close() error { return nil }

const detailHTML = `<html><body>
<div id="basicInfoTitle"><h1>BMW X5 2019</h1></div>
<div id="basicInfoPrice"><strong>38 500 $</strong></div>
<div id="sellerInfo"><div id="sellerInfoUserName"><span>Олег</span></div></div>
<img data-src="https://cdn.riastatic.com/1.jpg">
</body></html>`

func newTestEngine(page *fakePage) (*Engine, *fakePool) {
	pool := &fakePool{page: page}
	e := NewEngine(pool, nil, config.DefaultSelectors(), config.BrowserConfig{}, 2, zap.NewNop())
	e.backoff = time.Millisecond
	return e, pool
}

func newPage() *fakePage {
	sel := config.DefaultSelectors()
	return &fakePage{
		visible:  map[string]error{sel.ConsentClose: errTimeout},
		enabled:  map[string]error{},
		clickErr: map[string]error{},
		text:     map[string]string{sel.PhoneText: "(097) 123 45 67"},
		html:     detailHTML,
	}
}

func TestExtractRevealsPhone(t *testing.T) {
	t.Parallel()

	page := newPage()
	e, pool := newTestEngine(page)

	req := intercept.NewRequest("https://auto.ria.com/uk/auto_bmw_x5_1.html", true)
	req.Browser = intercept.BrowserProfile{UserAgent: "UA-1"}

	res, err := e.Extract(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Listing)

	assert.Equal(t, "UA-1", pool.profile.UserAgent)
	assert.Equal(t, []string{"(097) 123 45 67"}, res.Listing.Phones)
	assert.Equal(t, []string{"BMW X5 2019"}, res.Listing.Title)
	assert.Equal(t, OutcomeTimeout, res.Outcome(StepConsent), "missing consent overlay is not an error")
	assert.Equal(t, OutcomeOK, res.Outcome(StepPhoneRead))
	assert.Equal(t, Outcome(""), res.Outcome(StepScriptClick))
	assert.Equal(t, 1, page.closed)
}

func TestExtractPhoneTimeoutStillYieldsItem(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	page.pollErr = errTimeout
	page.text[sel.PhoneText] = "Показати"
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	require.NotNil(t, res.Listing)

	assert.Empty(t, res.Listing.Phones)
	assert.Equal(t, OutcomeTimeout, res.Outcome(StepPhonePoll))
	assert.Equal(t, OutcomeFailed, res.Outcome(StepPhoneRead))
	assert.Equal(t, OutcomeOK, res.Outcome(StepSnapshot))
}

func TestExtractDirectReadAfterPollTimeout(t *testing.T) {
	t.Parallel()

	page := newPage()
	page.pollErr = errTimeout
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	assert.Equal(t, []string{"(097) 123 45 67"}, res.Listing.Phones)
}

func TestExtractFallsBackToScriptClick(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	page.clickErr[sel.PhoneButton] = errors.New("element is covered")
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, res.Outcome(StepPhoneClick))
	assert.Equal(t, OutcomeOK, res.Outcome(StepScriptClick))
	assert.Equal(t, "(097) 123 45 67", res.Phone)
}

func TestExtractBothClicksFailing(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	page.clickErr[sel.PhoneButton] = errors.New("covered")
	page.scriptErr = errors.New("not found")
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	assert.Empty(t, res.Listing.Phones)
	assert.NotContains(t, page.calls, "poll")
}

func TestExtractDisabledPhoneButton(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	page.enabled[sel.PhoneButton] = errTimeout
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	assert.Empty(t, res.Listing.Phones)
	assert.Equal(t, OutcomeTimeout, res.Outcome(StepPhoneEnable))
}

func TestExtractClosesConsentOverlay(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	delete(page.visible, sel.ConsentClose)
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome(StepConsent))
	assert.Contains(t, page.calls, "click "+sel.ConsentClose)
}

func TestExtractRejectsWithoutSellerInfo(t *testing.T) {
	t.Parallel()

	sel := config.DefaultSelectors()
	page := newPage()
	page.visible[sel.SellerInfo] = errTimeout
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))

	var rej *entity.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, entity.RejectSellerInfoMissing, rej.Reason)
	assert.False(t, rej.Fatal())
	assert.Nil(t, res.Listing)
	assert.Equal(t, 1, page.closed, "the tab is released on rejection")
}

func TestExtractRetriesNavigation(t *testing.T) {
	t.Parallel()

	page := newPage()
	page.navigateErrs = []error{errors.New("net::ERR_CONNECTION_RESET")}
	e, _ := newTestEngine(page)

	res, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))
	require.NoError(t, err)
	assert.NotNil(t, res.Listing)
}

func TestExtractRejectsAfterNavigationRetries(t *testing.T) {
	t.Parallel()

	page := newPage()
	boom := errors.New("net::ERR_TIMED_OUT")
	page.navigateErrs = []error{boom, boom, boom}
	e, _ := newTestEngine(page)

	_, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))

	var rej *entity.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, entity.RejectNavigation, rej.Reason)
	assert.ErrorIs(t, err, boom)
}

func TestExtractPoolFailure(t *testing.T) {
	t.Parallel()

	e, pool := newTestEngine(newPage())
	pool.acquireErr = errors.New("chrome not found")

	_, err := e.Extract(context.Background(), intercept.NewRequest("https://auto.ria.com/uk/auto_1.html", true))

	var rej *entity.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, entity.RejectBrowser, rej.Reason)
}
