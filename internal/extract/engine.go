// Package extract drives a browser tab through a listing detail page and
// turns the rendered markup into raw listing fields.
//
// The detail page hides the seller phone behind a button that loads the
// number with client-side script. Engine walks a fixed sequence of steps,
// each bounded by its own timeout, and decides after every step whether to
// continue, degrade the phone to "unavailable", or reject the item.
package extract

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/repository"
	"github.com/user/autoria-crawler/internal/throttle"
	"github.com/user/autoria-crawler/pkg/config"
	"github.com/user/autoria-crawler/pkg/metrics"
	"github.com/user/autoria-crawler/pkg/utils"
)

// Step names one stage of the detail-page walk.
type Step string

const (
	StepAcquire     Step = "acquire"
	StepNavigate    Step = "navigate"
	StepConsent     Step = "consent"
	StepSellerInfo  Step = "seller_info"
	StepPhoneButton Step = "phone_button"
	StepPhoneEnable Step = "phone_enabled"
	StepPhoneScroll Step = "phone_scroll"
	StepPhoneClick  Step = "phone_click"
	StepScriptClick Step = "phone_script_click"
	StepSettle      Step = "phone_settle"
	StepPhonePoll   Step = "phone_poll"
	StepPhoneRead   Step = "phone_read"
	StepSnapshot    Step = "snapshot"
)

// Outcome is how a step ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailed  Outcome = "failed"
)

// StepResult records one step.
type StepResult struct {
	Step    Step
	Outcome Outcome
	Err     error
}

// Result is a finished walk. Listing is nil when the item was rejected.
type Result struct {
	Listing *entity.RawListing
	Phone   string
	Steps   []StepResult
}

// Outcome returns the recorded outcome of step, or "" if it never ran.
func (r *Result) Outcome(step Step) Outcome {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Outcome
		}
	}
	return ""
}

var digit = regexp.MustCompile(`\d`)

// Engine extracts detail pages. It is safe for concurrent use; concurrency
// is bounded by the browser pool.
type Engine struct {
	pool       repository.BrowserPool
	throttle   *throttle.Throttle
	sel        config.Selectors
	timeouts   config.BrowserConfig
	retryTimes int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewEngine creates an engine. th may be nil to skip navigation throttling.
func NewEngine(pool repository.BrowserPool, th *throttle.Throttle, sel config.Selectors, timeouts config.BrowserConfig, retryTimes int, logger *zap.Logger) *Engine {
	return &Engine{
		pool:       pool,
		throttle:   th,
		sel:        sel,
		timeouts:   timeouts,
		retryTimes: retryTimes,
		backoff:    time.Second,
		logger:     logger,
	}
}

// walk holds the state of one detail page.
type walk struct {
	e      *Engine
	page   repository.BrowserPage
	url    string
	result *Result
	logger *zap.Logger
}

func (w *walk) record(step Step, err error) StepResult {
	r := StepResult{Step: step, Outcome: OutcomeOK, Err: err}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		r.Outcome = OutcomeTimeout
	default:
		r.Outcome = OutcomeFailed
	}
	w.result.Steps = append(w.result.Steps, r)
	metrics.ExtractionSteps.WithLabelValues(string(step), string(r.Outcome)).Inc()
	if err != nil {
		w.logger.Debug("extraction step did not succeed",
			zap.String("step", string(step)),
			zap.String("outcome", string(r.Outcome)),
			zap.Error(err),
		)
	}
	return r
}

// Extract renders req.URL in a pooled tab and returns the raw fields. A
// non-nil error is always an *entity.Rejection, except for ctx cancellation.
func (e *Engine) Extract(ctx context.Context, req *intercept.Request) (*Result, error) {
	w := &walk{
		e:      e,
		url:    req.URL,
		result: &Result{},
		logger: e.logger.With(zap.String("url", req.URL)),
	}

	page, err := e.pool.Acquire(ctx, req.Browser)
	if w.record(StepAcquire, err).Outcome != OutcomeOK {
		if ctx.Err() != nil {
			return w.result, ctx.Err()
		}
		return w.result, entity.Reject(req.URL, entity.RejectBrowser, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			w.logger.Warn("failed to close browser page", zap.Error(err))
		}
	}()
	w.page = page

	if err := w.navigate(ctx, req.Proxy); err != nil {
		return w.result, w.reject(ctx, entity.RejectNavigation, err)
	}

	w.dismissConsent(ctx)

	err = page.WaitVisible(ctx, e.sel.SellerInfo, e.timeouts.SellerInfoTimeout)
	if w.record(StepSellerInfo, err).Outcome != OutcomeOK {
		return w.result, w.reject(ctx, entity.RejectSellerInfoMissing, err)
	}

	phone := w.revealPhone(ctx)
	if phone == "" {
		w.logger.Warn("phone number unavailable")
	}
	w.result.Phone = phone

	html, err := page.HTML(ctx, e.timeouts.NavigationTimeout)
	if w.record(StepSnapshot, err).Outcome != OutcomeOK {
		return w.result, w.reject(ctx, entity.RejectSnapshot, err)
	}
	raw, err := ParseDetail(html, req.URL, phone, e.sel)
	if err != nil {
		return w.result, w.reject(ctx, entity.RejectSnapshot, err)
	}
	w.result.Listing = raw
	return w.result, nil
}

func (w *walk) reject(ctx context.Context, reason entity.RejectReason, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.logger.Warn("listing rejected", zap.String("reason", string(reason)), zap.Error(err))
	return entity.Reject(w.url, reason, err)
}

func (w *walk) navigate(ctx context.Context, proxy string) error {
	start := time.Now()
	err := utils.Retry(ctx, w.e.retryTimes+1, w.e.backoff, func(ctx context.Context) error {
		if w.e.throttle != nil {
			release, err := w.e.throttle.Acquire(ctx, w.url, proxy)
			if err != nil {
				return utils.Permanent(err)
			}
			defer release()
		}
		return w.page.Navigate(ctx, w.url, w.e.timeouts.NavigationTimeout)
	}, func(attempt int, wait time.Duration, err error) {
		w.logger.Warn("navigation failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
	metrics.FetchDuration.WithLabelValues("detail").Observe(time.Since(start).Seconds())
	if w.record(StepNavigate, err).Outcome != OutcomeOK {
		metrics.PagesFetched.WithLabelValues("detail", "error").Inc()
		return err
	}
	metrics.PagesFetched.WithLabelValues("detail", "ok").Inc()
	return nil
}

// dismissConsent closes the consent overlay when it shows up. Nothing here
// can fail the item.
func (w *walk) dismissConsent(ctx context.Context) {
	t := w.e.timeouts
	if err := w.page.WaitVisible(ctx, w.e.sel.ConsentClose, t.ConsentTimeout); err != nil {
		w.record(StepConsent, err)
		return
	}
	w.record(StepConsent, w.page.Click(ctx, w.e.sel.ConsentClose, t.PhoneClickTimeout))
}

// revealPhone clicks the phone button and reads the revealed number. It
// returns "" whenever the number cannot be obtained.
func (w *walk) revealPhone(ctx context.Context) string {
	t := w.e.timeouts
	sel := w.e.sel
	p := w.page

	if w.record(StepPhoneButton, p.WaitVisible(ctx, sel.PhoneButton, t.PhoneButtonTimeout)).Outcome != OutcomeOK {
		return ""
	}
	if w.record(StepPhoneEnable, p.WaitEnabled(ctx, sel.PhoneButton, t.PhoneEnabledTimeout)).Outcome != OutcomeOK {
		return ""
	}
	w.record(StepPhoneScroll, p.ScrollIntoView(ctx, sel.PhoneButton, t.PhoneClickTimeout))

	if w.record(StepPhoneClick, p.Click(ctx, sel.PhoneButton, t.PhoneClickTimeout)).Outcome != OutcomeOK {
		if w.record(StepScriptClick, p.ClickViaScript(ctx, sel.PhoneButton, t.PhoneClickTimeout)).Outcome != OutcomeOK {
			return ""
		}
	}

	if w.record(StepSettle, p.Sleep(ctx, t.PhoneSettleDelay)).Outcome != OutcomeOK {
		return ""
	}
	// The poll only gives the number time to load; the direct read decides.
	w.record(StepPhonePoll, p.WaitTextHasDigit(ctx, sel.PhoneText, t.PhonePollTimeout))

	text, err := w.readPhone(ctx)
	if w.record(StepPhoneRead, err).Outcome != OutcomeOK {
		return ""
	}
	return text
}

var errNoDigits = errors.New("phone text has no digits")

func (w *walk) readPhone(ctx context.Context) (string, error) {
	t := w.e.timeouts
	if err := w.page.WaitVisible(ctx, w.e.sel.PhoneText, t.PhoneReadTimeout); err != nil {
		return "", err
	}
	text, err := w.page.Text(ctx, w.e.sel.PhoneText, t.PhoneReadTimeout)
	if err != nil {
		return "", err
	}
	if !digit.MatchString(text) {
		return "", errNoDigits
	}
	return text, nil
}
