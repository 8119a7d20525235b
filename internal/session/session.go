// Package session holds the capacity state of one cover/payload pairing: the
// selected image, its reconciled capacity and the current payload size.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/cover"
	"github.com/liminalpurple/stegmeter/internal/reconcile"
	"github.com/liminalpurple/stegmeter/internal/stegapi"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// ErrNoImage is returned by Analyze when called without a cover.
var ErrNoImage = errors.New("no cover image selected")

// CapacityFetcher asks the service for an image's capacity.
type CapacityFetcher interface {
	Capacity(ctx context.Context, cover stegapi.Upload) (capacity.Estimate, error)
}

// PayloadKind says what the payload size was measured from.
type PayloadKind string

const (
	PayloadNone    PayloadKind = ""
	PayloadMessage PayloadKind = "message"
	PayloadFile    PayloadKind = "file"
)

// Result is a settled analysis of one cover.
type Result struct {
	Image  *cover.Image
	Client capacity.Estimate
	// Server is unknown when the service was not asked or did not answer.
	Server    capacity.Estimate
	ServerErr error
	Final     capacity.Estimate

	Payload   PayloadKind
	Usage     capacity.UsageState
	HasUsage  bool
	Breakdown capacity.Breakdown
}

// Session is not shared between views; each view owns one.
type Session struct {
	rec     *reconcile.Reconciler
	fetcher CapacityFetcher

	mu      sync.Mutex
	image   *cover.Image
	payload PayloadKind
	used    int64
}

// New creates a session. A nil fetcher keeps every estimate client-side.
func New(rec *reconcile.Reconciler, fetcher CapacityFetcher) *Session {
	return &Session{rec: rec, fetcher: fetcher}
}

// SelectImage makes img the current cover and starts reconciling its capacity.
// The returned channel behaves like reconcile.Reconciler.Select.
func (s *Session) SelectImage(ctx context.Context, img *cover.Image) <-chan reconcile.Update {
	s.mu.Lock()
	s.image = img
	s.mu.Unlock()

	client := capacity.ClientEstimate(img.Info.Dimensions())

	var fetch reconcile.FetchFunc
	if s.fetcher != nil {
		upload := stegapi.Upload{Name: img.UploadName(), Data: img.Data}
		fetch = func(ctx context.Context) (capacity.Estimate, error) {
			return s.fetcher.Capacity(ctx, upload)
		}
	}

	return s.rec.Select(ctx, client, fetch)
}

// RemoveImage drops the cover. Capacity becomes unknown.
func (s *Session) RemoveImage() {
	s.mu.Lock()
	s.image = nil
	s.mu.Unlock()
	s.rec.Clear()
}

// Image returns the current cover, or nil.
func (s *Session) Image() *cover.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// SetMessage measures a text payload and returns the new usage.
func (s *Session) SetMessage(message string) (capacity.UsageState, bool) {
	return s.setPayload(PayloadMessage, capacity.TextPayloadSize(message))
}

// SetFileSize measures a file payload and returns the new usage.
func (s *Session) SetFileSize(size int64) (capacity.UsageState, bool) {
	return s.setPayload(PayloadFile, size)
}

// ClearPayload forgets the payload.
func (s *Session) ClearPayload() {
	s.mu.Lock()
	s.payload = PayloadNone
	s.used = 0
	s.mu.Unlock()
}

func (s *Session) setPayload(kind PayloadKind, size int64) (capacity.UsageState, bool) {
	s.mu.Lock()
	s.payload = kind
	s.used = size
	s.mu.Unlock()
	return s.Usage()
}

// Usage meters the current payload against the visible capacity. ok is false
// when capacity is unknown.
func (s *Session) Usage() (capacity.UsageState, bool) {
	s.mu.Lock()
	used := s.used
	s.mu.Unlock()

	est, _ := s.rec.Current()
	return capacity.Usage(used, est)
}

// Analyze selects img and waits for its capacity to settle.
func (s *Session) Analyze(ctx context.Context, img *cover.Image) (*Result, error) {
	if img == nil {
		return nil, ErrNoImage
	}

	updates := s.SelectImage(ctx, img)

	res := &Result{Image: img}
	for u := range updates {
		switch u.Estimate.Source {
		case capacity.SourceServer:
			res.Server = u.Estimate
		default:
			res.Client = u.Estimate
		}
		res.Final = u.Estimate
	}

	if s.fetcher != nil && !res.Server.Known() {
		res.ServerErr = s.rec.Err()
	}

	s.mu.Lock()
	res.Payload = s.payload
	used := s.used
	s.mu.Unlock()

	if res.Payload != PayloadNone {
		res.Usage, res.HasUsage = capacity.Usage(used, res.Final)
	}
	res.Breakdown = capacity.Describe(res.Final.MaxBytes)

	return res, nil
}

// Analysis converts the result into a history record.
func (r *Result) Analysis(at time.Time) storage.Analysis {
	a := storage.Analysis{
		AnalyzedAt:  at,
		ClientBytes: r.Client.MaxBytes,
		ServerBytes: r.Server.MaxBytes,
		FinalBytes:  r.Final.MaxBytes,
		FinalSource: string(r.Final.Source),
		Degraded:    r.Client.Degraded,
	}
	if img := r.Image; img != nil {
		a.ID = img.ID
		a.Name = img.Name
		a.Source = img.Ref
		a.MimeType = img.Info.MimeType
		a.Width = img.Info.Width
		a.Height = img.Info.Height
		a.SizeBytes = img.Info.SizeBytes
	}
	if r.ServerErr != nil {
		a.ServerError = r.ServerErr.Error()
	}
	return a
}
