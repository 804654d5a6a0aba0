package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/retry"
)

const (
	segmentPath      = "/ParkingSegment/City/"
	availabilityPath = "/ParkingSpotAvailability/City/"
)

// Authorizer supplies the bearer header for data requests.
type Authorizer interface {
	AuthHeader(ctx context.Context) (http.Header, error)
	Invalidate()
}

// ParkingRepositoryConfig configures the remote query client.
type ParkingRepositoryConfig struct {
	BaseURL     string
	Timeout     time.Duration
	ChunkSize   int
	Concurrency int
	Top         int
	Retry       retry.Policy
}

// SegmentQuery filters the segment directory by a name substring or by ids.
type SegmentQuery struct {
	NameContains string
	IDs          []string
}

// SegmentDirectoryResult is the merged outcome of a directory query. Errors
// holds the failure of every segment id whose chunk failed.
type SegmentDirectoryResult struct {
	Segments []entities.SegmentInfo
	Errors   map[string]*perrors.Error
}

// SpotQueryResult is the merged outcome of an availability query. Invalid
// counts records dropped because their timestamp could not be parsed.
type SpotQueryResult struct {
	Records []entities.SpotRecord
	Invalid int
	Errors  map[string]*perrors.Error
}

// ParkingRepository reads the provider's on-street parking resources.
type ParkingRepository struct {
	cfg   ParkingRepositoryConfig
	http  *http.Client
	auth  Authorizer
	names *SegmentNameCache
	log   *logging.Logger
	calls atomic.Int64
}

// NewParkingRepository creates a repository. A nil client gets a default one.
func NewParkingRepository(cfg ParkingRepositoryConfig, client *http.Client, auth Authorizer, names *SegmentNameCache, log *logging.Logger) *ParkingRepository {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Top <= 0 {
		cfg.Top = 5000
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default()
	}
	if names == nil {
		names = NewSegmentNameCache()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ParkingRepository{
		cfg:   cfg,
		http:  client,
		auth:  auth,
		names: names,
		log:   log.With("component", "tdx"),
	}
}

// Calls is the number of HTTP requests issued so far.
func (r *ParkingRepository) Calls() int64 {
	return r.calls.Load()
}

// CachedNames is the number of segment names held in the cache.
func (r *ParkingRepository) CachedNames() int {
	return r.names.Len()
}

type localizedName struct {
	ZhTw string `json:"Zh_tw"`
	En   string `json:"En"`
}

type segmentPayload struct {
	ParkingSegments *[]struct {
		ParkingSegmentID   string        `json:"ParkingSegmentID"`
		ParkingSegmentName localizedName `json:"ParkingSegmentName"`
	} `json:"ParkingSegments"`
}

type spotPayload struct {
	CurbSpotParkingAvailabilities *[]struct {
		ParkingSpotID    *string `json:"ParkingSpotID"`
		ParkingSegmentID *string `json:"ParkingSegmentID"`
		SpotStatus       *int    `json:"SpotStatus"`
		DataCollectTime  *string `json:"DataCollectTime"`
	} `json:"CurbSpotParkingAvailabilities"`
}

// FetchSegments queries the segment directory. A name query is a single call
// whose failure is returned as the error; an id query is chunked and failures
// are reported per segment in the result.
func (r *ParkingRepository) FetchSegments(ctx context.Context, city string, q SegmentQuery) (*SegmentDirectoryResult, error) {
	result := &SegmentDirectoryResult{Errors: map[string]*perrors.Error{}}

	if q.NameContains != "" {
		filter := fmt.Sprintf("contains(ParkingSegmentName/Zh_tw,%s)", quote(q.NameContains))
		segs, err := r.fetchSegmentPage(ctx, city, filter)
		if err != nil {
			return nil, err
		}
		result.Segments = segs
		return result, nil
	}

	chunks := chunk(dedupe(q.IDs), r.cfg.ChunkSize)
	pages := make([][]entities.SegmentInfo, len(chunks))
	errs := r.fanOut(ctx, chunks, func(ctx context.Context, i int, ids []string) error {
		segs, err := r.fetchSegmentPage(ctx, city, idFilter(ids))
		pages[i] = segs
		return err
	})
	for i, ids := range chunks {
		if errs[i] != nil {
			for _, id := range ids {
				result.Errors[id] = errs[i]
			}
			continue
		}
		result.Segments = append(result.Segments, pages[i]...)
	}
	return result, ctx.Err()
}

func (r *ParkingRepository) fetchSegmentPage(ctx context.Context, city, filter string) ([]entities.SegmentInfo, error) {
	values := url.Values{}
	values.Set("$format", "JSON")
	values.Set("$select", "ParkingSegmentID,ParkingSegmentName")
	values.Set("$top", fmt.Sprint(r.cfg.Top))
	values.Set("$filter", filter)

	var payload segmentPayload
	raw, err := r.get(ctx, segmentPath+url.PathEscape(city), values, &payload)
	if err != nil {
		return nil, err
	}
	if payload.ParkingSegments == nil {
		return nil, perrors.Remote(perrors.MalformedResponse, http.StatusOK, raw, errors.New("missing ParkingSegments"))
	}

	segs := make([]entities.SegmentInfo, 0, len(*payload.ParkingSegments))
	for _, s := range *payload.ParkingSegments {
		if s.ParkingSegmentID == "" {
			return nil, perrors.Remote(perrors.MalformedResponse, http.StatusOK, raw, errors.New("segment without ParkingSegmentID"))
		}
		name := s.ParkingSegmentName.ZhTw
		if name == "" {
			name = s.ParkingSegmentName.En
		}
		r.names.Put(s.ParkingSegmentID, name)
		segs = append(segs, entities.SegmentInfo{ID: s.ParkingSegmentID, Name: name})
	}
	return segs, nil
}

// FetchSpotAvailability returns every spot of the given segments regardless of
// status. Chunks are fetched concurrently and merged in chunk order.
func (r *ParkingRepository) FetchSpotAvailability(ctx context.Context, city string, segmentIDs []string) (*SpotQueryResult, error) {
	result := &SpotQueryResult{Errors: map[string]*perrors.Error{}}

	chunks := chunk(dedupe(segmentIDs), r.cfg.ChunkSize)
	pages := make([]spotPage, len(chunks))
	errs := r.fanOut(ctx, chunks, func(ctx context.Context, i int, ids []string) error {
		page, err := r.fetchSpotPage(ctx, city, ids)
		pages[i] = page
		return err
	})
	for i, ids := range chunks {
		if errs[i] != nil {
			for _, id := range ids {
				result.Errors[id] = errs[i]
			}
			continue
		}
		result.Records = append(result.Records, pages[i].records...)
		result.Invalid += pages[i].invalid
	}
	return result, ctx.Err()
}

type spotPage struct {
	records []entities.SpotRecord
	invalid int
}

func (r *ParkingRepository) fetchSpotPage(ctx context.Context, city string, ids []string) (spotPage, error) {
	values := url.Values{}
	values.Set("$format", "JSON")
	values.Set("$select", "ParkingSpotID,ParkingSegmentID,SpotStatus,DataCollectTime")
	values.Set("$top", fmt.Sprint(r.cfg.Top))
	values.Set("$filter", idFilter(ids))

	var payload spotPayload
	raw, err := r.get(ctx, availabilityPath+url.PathEscape(city), values, &payload)
	if err != nil {
		return spotPage{}, err
	}
	if payload.CurbSpotParkingAvailabilities == nil {
		return spotPage{}, perrors.Remote(perrors.MalformedResponse, http.StatusOK, raw, errors.New("missing CurbSpotParkingAvailabilities"))
	}

	var page spotPage
	for i, s := range *payload.CurbSpotParkingAvailabilities {
		if s.ParkingSpotID == nil || s.ParkingSegmentID == nil || s.DataCollectTime == nil {
			return spotPage{}, perrors.Remote(perrors.MalformedResponse, http.StatusOK, raw,
				fmt.Errorf("record %d lacks ParkingSpotID, ParkingSegmentID or DataCollectTime", i))
		}
		collected, err := time.Parse(time.RFC3339, *s.DataCollectTime)
		if err != nil {
			r.log.Debug("dropping spot with bad timestamp", "spot", *s.ParkingSpotID, "value", *s.DataCollectTime)
			page.invalid++
			continue
		}
		status := entities.StatusUnknown
		if s.SpotStatus != nil {
			status = entities.SpotStatusFromCode(*s.SpotStatus)
		}
		page.records = append(page.records, entities.SpotRecord{
			SpotID:      *s.ParkingSpotID,
			SegmentID:   *s.ParkingSegmentID,
			Status:      status,
			CollectedAt: collected,
		})
	}
	return page, nil
}

// SegmentNames returns display names for ids, fetching the ones missing from
// the cache in a single chunked directory query. Ids the provider does not
// name are left out.
func (r *ParkingRepository) SegmentNames(ctx context.Context, city string, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if name, ok := r.names.Get(id); ok {
			out[id] = name
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out
	}

	res, err := r.FetchSegments(ctx, city, SegmentQuery{IDs: missing})
	if err != nil {
		r.log.Warn("segment name lookup failed", "error", err)
		return out
	}
	for id, e := range res.Errors {
		r.log.Warn("segment name lookup failed", "segment", id, "error", e)
	}
	for _, s := range res.Segments {
		if s.Name != "" {
			out[s.ID] = s.Name
		}
	}
	return out
}

// fanOut runs fn for every chunk with bounded concurrency. A failing chunk
// does not stop the others; errs[i] is the typed failure of chunk i.
func (r *ParkingRepository) fanOut(ctx context.Context, chunks [][]string, fn func(ctx context.Context, i int, ids []string) error) []*perrors.Error {
	errs := make([]*perrors.Error, len(chunks))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, ids := range chunks {
		i, ids := i, ids
		g.Go(func() error {
			if err := fn(ctx, i, ids); err != nil {
				errs[i] = asTyped(err)
				r.log.Warn("chunk query failed", "chunk", i, "segments", len(ids), "kind", errs[i].Kind, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// credentialFailure marks errors raised while obtaining the bearer header.
// The credential manager retries on its own, so they are not retried again.
type credentialFailure struct {
	err error
}

func (c *credentialFailure) Error() string { return c.err.Error() }
func (c *credentialFailure) Unwrap() error { return c.err }

func (r *ParkingRepository) retryable(err error) bool {
	var cf *credentialFailure
	if errors.As(err, &cf) {
		return false
	}
	return perrors.IsRetryable(err)
}

// get performs one GET with the retry policy and decodes the body into out.
// The raw body is returned for diagnostics.
func (r *ParkingRepository) get(ctx context.Context, path string, values url.Values, out any) (string, error) {
	endpoint := r.cfg.BaseURL + path + "?" + values.Encode()

	policy := r.cfg.Retry
	policy.Retryable = r.retryable
	policy.OnRetry = func(attempt int, err error) {
		r.log.Warn("remote call failed, retrying", "path", path, "attempt", attempt, "error", err)
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return r.do(ctx, endpoint, out)
	})
}

func (r *ParkingRepository) do(ctx context.Context, endpoint string, out any) (string, error) {
	header, err := r.auth.AuthHeader(ctx)
	if err != nil {
		return "", &credentialFailure{err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	r.calls.Add(1)
	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isTimeout(err) {
			return "", perrors.Remote(perrors.RemoteTimeout, 0, "", err)
		}
		return "", perrors.Remote(perrors.RemoteServerError, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", perrors.Remote(perrors.RemoteTimeout, resp.StatusCode, "", err)
		}
		return "", perrors.Remote(perrors.RemoteServerError, resp.StatusCode, "", err)
	}
	raw := string(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		r.auth.Invalidate()
		return raw, perrors.Remote(perrors.AuthRejected, resp.StatusCode, raw, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return raw, perrors.Remote(perrors.RateLimited, resp.StatusCode, raw, nil)
	case resp.StatusCode >= 500:
		return raw, perrors.Remote(perrors.RemoteServerError, resp.StatusCode, raw, nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return raw, perrors.Remote(perrors.MalformedResponse, resp.StatusCode, raw, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return raw, perrors.Remote(perrors.MalformedResponse, resp.StatusCode, raw, err)
	}
	return raw, nil
}

// asTyped converts any failure into a typed error for the per-segment map.
func asTyped(err error) *perrors.Error {
	var e *perrors.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return perrors.Remote(perrors.RemoteTimeout, 0, "", err)
	}
	return &perrors.Error{Kind: perrors.Internal, Message: "查詢停車資料時發生錯誤。", Err: err}
}

func idFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	return "ParkingSegmentID in (" + strings.Join(quoted, ",") + ")"
}

// quote renders an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
