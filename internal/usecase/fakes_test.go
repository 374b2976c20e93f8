package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/internal/extract"
	"github.com/user/autoria-crawler/internal/intercept"
	"github.com/user/autoria-crawler/internal/repository"
)

type fakeFetcher struct {
	mu         sync.Mutex
	pages      map[string]string
	disallowed map[string]bool
	fetched    []string
	userAgents []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req *intercept.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, req.URL)
	f.userAgents = append(f.userAgents, req.Header.Get("User-Agent"))
	body, ok := f.pages[req.URL]
	if !ok {
		return nil, fmt.Errorf("GET %s: status 503", req.URL)
	}
	return []byte(body), nil
}

func (f *fakeFetcher) Allowed(_ context.Context, url string) bool {
	return !f.disallowed[url]
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == url {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	mu       sync.Mutex
	requests []*intercept.Request
	reject   map[string]entity.RejectReason
}

func (f *fakeExtractor) Extract(_ context.Context, req *intercept.Request) (*extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if reason, ok := f.reject[req.URL]; ok {
		return &extract.Result{}, entity.Reject(req.URL, reason, errors.New("scripted"))
	}
	return &extract.Result{Listing: &entity.RawListing{
		URL:    req.URL,
		Title:  []string{"Car"},
		Price:  []string{"10 000 $"},
		Phones: []string{"(097) 1234567"},
	}}, nil
}

func (f *fakeExtractor) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.URL)
	}
	return out
}

type fakeDedup struct {
	mu      sync.Mutex
	set     map[string]bool
	warmed  []string
	warmErr error
}

func newFakeDedup(seen ...string) *fakeDedup {
	d := &fakeDedup{set: map[string]bool{}}
	for _, u := range seen {
		d.set[u] = true
	}
	return d
}

func (d *fakeDedup) Contains(_ context.Context, url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set[url]
}

func (d *fakeDedup) Add(_ context.Context, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set[url] = true
}

func (d *fakeDedup) Warm(_ context.Context, urls []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.warmErr != nil {
		return d.warmErr
	}
	d.warmed = urls
	d.set = map[string]bool{}
	for _, u := range urls {
		d.set[u] = true
	}
	return nil
}

type fakeListings struct {
	mu        sync.Mutex
	rows      map[string]*entity.Listing
	upsertErr map[string]error
	urlsErr   error
}

func newFakeListings(urls ...string) *fakeListings {
	l := &fakeListings{rows: map[string]*entity.Listing{}, upsertErr: map[string]error{}}
	for _, u := range urls {
		l.rows[u] = &entity.Listing{URL: u}
	}
	return l
}

func (l *fakeListings) EnsureSchema(context.Context) error { return nil }

func (l *fakeListings) Upsert(_ context.Context, listing *entity.Listing) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.upsertErr[listing.URL]; err != nil {
		return false, err
	}
	old, ok := l.rows[listing.URL]
	if ok {
		listing.FirstSeenAt = old.FirstSeenAt
	}
	cp := *listing
	l.rows[listing.URL] = &cp
	return !ok, nil
}

func (l *fakeListings) FindByURL(_ context.Context, url string) (*entity.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[url]; ok {
		return row, nil
	}
	return nil, repository.ErrNotFound
}

func (l *fakeListings) AllURLs(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.urlsErr != nil {
		return nil, l.urlsErr
	}
	out := make([]string, 0, len(l.rows))
	for u := range l.rows {
		out = append(out, u)
	}
	return out, nil
}

func (l *fakeListings) Count(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.rows)), nil
}

func (l *fakeListings) Recent(_ context.Context, limit int, _ bool) ([]*entity.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*entity.Listing
	for _, row := range l.rows {
		if len(out) == limit {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

type fakeRejections struct {
	mu      sync.Mutex
	records map[string]entity.RejectReason
	cleared []string
}

func newFakeRejections() *fakeRejections {
	return &fakeRejections{records: map[string]entity.RejectReason{}}
}

func (f *fakeRejections) EnsureSchema(context.Context) error { return nil }

func (f *fakeRejections) Record(_ context.Context, rej *entity.Rejection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rej.URL] = rej.Reason
	return nil
}

func (f *fakeRejections) Clear(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, url)
	f.cleared = append(f.cleared, url)
	return nil
}

func (f *fakeRejections) Recent(context.Context, int) ([]*entity.RejectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.RejectionRecord, 0, len(f.records))
	for u, reason := range f.records {
		out = append(out, &entity.RejectionRecord{URL: u, Reason: reason, Attempts: 1})
	}
	return out, nil
}

func (f *fakeRejections) reasons() map[string]entity.RejectReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]entity.RejectReason, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}
