package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/retry"
)

type fakeAuth struct {
	invalidated atomic.Int32
	err         error
}

func (f *fakeAuth) AuthHeader(context.Context) (http.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer test-token")
	return h, nil
}

func (f *fakeAuth) Invalidate() { f.invalidated.Add(1) }

var quotedID = regexp.MustCompile(`'((?:[^']|'')*)'`)

func filterIDs(r *http.Request) []string {
	var ids []string
	for _, m := range quotedID.FindAllStringSubmatch(r.URL.Query().Get("$filter"), -1) {
		ids = append(ids, strings.ReplaceAll(m[1], "''", "'"))
	}
	return ids
}

func noSleepPolicy(attempts int) retry.Policy {
	p := retry.Default()
	p.Attempts = attempts
	p.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

func newTestRepo(t *testing.T, handler http.HandlerFunc, auth *fakeAuth) (*ParkingRepository, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if auth == nil {
		auth = &fakeAuth{}
	}
	repo := NewParkingRepository(ParkingRepositoryConfig{
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		ChunkSize:   20,
		Concurrency: 3,
		Top:         1000,
		Retry:       noSleepPolicy(3),
	}, srv.Client(), auth, nil, logging.Nop())
	return repo, srv
}

func spotsJSON(ids []string) string {
	var items []string
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"ParkingSpotID":"%s001","ParkingSegmentID":%q,"SpotStatus":2,"DataCollectTime":"2024-05-01T08:00:00+08:00"}`, id, id))
	}
	return `{"CurbSpotParkingAvailabilities":[` + strings.Join(items, ",") + `]}`
}

func segmentIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%02d", i)
	}
	return ids
}

func TestFetchSpotAvailabilityChunks(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ParkingSpotAvailability/City/Taipei") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("$format"); got != "JSON" {
			t.Errorf("$format = %q", got)
		}
		ids := filterIDs(r)
		mu.Lock()
		sizes = append(sizes, len(ids))
		mu.Unlock()
		fmt.Fprint(w, spotsJSON(ids))
	}, nil)

	ids := segmentIDs(45)
	res, err := repo.FetchSpotAvailability(context.Background(), "Taipei", ids)
	if err != nil {
		t.Fatalf("FetchSpotAvailability() error = %v", err)
	}
	if got := repo.Calls(); got != 3 {
		t.Fatalf("Calls() = %d, want 3", got)
	}
	if len(res.Records) != 45 {
		t.Fatalf("records = %d, want 45", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.SegmentID != ids[i] {
			t.Fatalf("record %d segment = %s, want %s (chunk order not preserved)", i, rec.SegmentID, ids[i])
		}
		if rec.Status != entities.StatusAvailable {
			t.Fatalf("record %d status = %v", i, rec.Status)
		}
	}
	total := 0
	for _, s := range sizes {
		if s > 20 {
			t.Errorf("chunk size %d exceeds 20", s)
		}
		total += s
	}
	if total != 45 {
		t.Errorf("ids sent = %d, want 45", total)
	}
}

func TestFetchSpotAvailabilityChunkFailureIsIsolated(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		ids := filterIDs(r)
		if ids[0] == "S20" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"Message":"internal error"}`)
			return
		}
		fmt.Fprint(w, spotsJSON(ids))
	}, nil)

	res, err := repo.FetchSpotAvailability(context.Background(), "Taipei", segmentIDs(45))
	if err != nil {
		t.Fatalf("FetchSpotAvailability() error = %v", err)
	}
	if len(res.Records) != 25 {
		t.Fatalf("records = %d, want 25", len(res.Records))
	}
	if len(res.Errors) != 20 {
		t.Fatalf("errors = %d, want 20", len(res.Errors))
	}
	e := res.Errors["S25"]
	if e == nil || e.Kind != perrors.RemoteServerError || e.Payload != `{"Message":"internal error"}` {
		t.Fatalf("S25 error = %+v", e)
	}
	if res.Errors["S19"] != nil || res.Errors["S40"] != nil {
		t.Fatalf("successful chunks reported errors")
	}
	// Two good chunks plus three attempts on the failing one.
	if got := repo.Calls(); got != 5 {
		t.Fatalf("Calls() = %d, want 5", got)
	}
}

func TestFetchSpotAvailabilityMalformedChunk(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"CurbSpotParkingAvailabilities":[{"ParkingSpotID":"S00001","ParkingSegmentID":"S00","SpotStatus":2}]}`)
	}, nil)

	res, err := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if err != nil {
		t.Fatal(err)
	}
	if e := res.Errors["S00"]; e == nil || e.Kind != perrors.MalformedResponse {
		t.Fatalf("error = %+v, want MalformedResponse", e)
	}
	if got := repo.Calls(); got != 1 {
		t.Fatalf("Calls() = %d, want 1 (malformed is not retried)", got)
	}
}

func TestFetchSpotAvailabilityInvalidJSON(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"CurbSpotParkingAvailabilities":[`)
	}, nil)

	res, _ := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if e := res.Errors["S00"]; e == nil || e.Kind != perrors.MalformedResponse || e.Payload == "" {
		t.Fatalf("error = %+v, want MalformedResponse with payload", e)
	}
}

func TestFetchSpotAvailabilityDropsBadTimestamps(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"CurbSpotParkingAvailabilities":[
			{"ParkingSpotID":"S00001","ParkingSegmentID":"S00","SpotStatus":2,"DataCollectTime":"yesterday"},
			{"ParkingSpotID":"S00002","ParkingSegmentID":"S00","SpotStatus":1,"DataCollectTime":"2024-05-01T08:00:00+08:00"}
		]}`)
	}, nil)

	res, err := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Invalid != 1 || len(res.Records) != 1 {
		t.Fatalf("Invalid = %d records = %d, want 1 and 1", res.Invalid, len(res.Records))
	}
	if res.Records[0].Status != entities.StatusOccupied {
		t.Errorf("status = %v, want occupied", res.Records[0].Status)
	}
}

func TestRateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, spotsJSON(filterIDs(r)))
	}, nil)

	res, err := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if err != nil || len(res.Errors) != 0 || len(res.Records) != 1 {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if got := repo.Calls(); got != 2 {
		t.Fatalf("Calls() = %d, want 2", got)
	}
}

func TestAuthRejectedInvalidatesCredential(t *testing.T) {
	auth := &fakeAuth{}
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Unauthorized"}`)
	}, auth)

	res, _ := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if e := res.Errors["S00"]; e == nil || e.Kind != perrors.AuthRejected {
		t.Fatalf("error = %+v, want AuthRejected", e)
	}
	if got := repo.Calls(); got != 1 {
		t.Fatalf("Calls() = %d, want 1", got)
	}
	if got := auth.invalidated.Load(); got != 1 {
		t.Fatalf("Invalidate calls = %d, want 1", got)
	}
}

func TestCredentialFailureNotRetriedHere(t *testing.T) {
	auth := &fakeAuth{err: perrors.Remote(perrors.RateLimited, 429, "slow", nil)}
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("data endpoint called without credential")
	}, auth)

	res, _ := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if e := res.Errors["S00"]; e == nil || e.Kind != perrors.RateLimited {
		t.Fatalf("error = %+v, want RateLimited", e)
	}
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	repo := NewParkingRepository(ParkingRepositoryConfig{
		BaseURL: srv.URL,
		Timeout: 20 * time.Millisecond,
		Retry:   noSleepPolicy(2),
	}, srv.Client(), &fakeAuth{}, nil, logging.Nop())

	res, _ := repo.FetchSpotAvailability(context.Background(), "Taipei", []string{"S00"})
	if e := res.Errors["S00"]; e == nil || e.Kind != perrors.RemoteTimeout {
		t.Fatalf("error = %+v, want RemoteTimeout", e)
	}
	if got := repo.Calls(); got != 2 {
		t.Fatalf("Calls() = %d, want 2", got)
	}
}

func TestFetchSegmentsByNameAndCache(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		if strings.HasPrefix(filter, "contains(") {
			if filter != "contains(ParkingSegmentName/Zh_tw,'明德路')" {
				t.Errorf("$filter = %q", filter)
			}
			fmt.Fprint(w, `{"ParkingSegments":[{"ParkingSegmentID":"1124000","ParkingSegmentName":{"Zh_tw":"明德路","En":"Mingde Rd."}}]}`)
			return
		}
		fmt.Fprint(w, `{"ParkingSegments":[{"ParkingSegmentID":"999","ParkingSegmentName":{"En":"Only English"}}]}`)
	}, nil)
	ctx := context.Background()

	res, err := repo.FetchSegments(ctx, "Taipei", SegmentQuery{NameContains: "明德路"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Name != "明德路" {
		t.Fatalf("segments = %+v", res.Segments)
	}

	names := repo.SegmentNames(ctx, "Taipei", []string{"1124000"})
	if names["1124000"] != "明德路" {
		t.Fatalf("cached name = %q", names["1124000"])
	}
	if got := repo.Calls(); got != 1 {
		t.Fatalf("Calls() = %d, want 1 (name served from cache)", got)
	}

	names = repo.SegmentNames(ctx, "Taipei", []string{"999"})
	if names["999"] != "Only English" {
		t.Fatalf("name = %q, want English fallback", names["999"])
	}
	if repo.CachedNames() != 2 {
		t.Fatalf("cache size = %d, want 2", repo.CachedNames())
	}
}

func TestFetchSegmentsNameErrorReturned(t *testing.T) {
	repo, _ := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad filter")
	}, nil)

	_, err := repo.FetchSegments(context.Background(), "Taipei", SegmentQuery{NameContains: "x"})
	if !perrors.Is(err, perrors.MalformedResponse) {
		t.Fatalf("err = %v, want MalformedResponse", err)
	}
}

func TestQuoteAndChunk(t *testing.T) {
	if got := quote("O'Neil"); got != "'O''Neil'" {
		t.Errorf("quote = %s", got)
	}
	if got := idFilter([]string{"a", "b"}); got != "ParkingSegmentID in ('a','b')" {
		t.Errorf("idFilter = %s", got)
	}
	chunks := chunk(segmentIDs(45), 20)
	if len(chunks) != 3 || len(chunks[2]) != 5 {
		t.Errorf("chunk sizes wrong: %d chunks", len(chunks))
	}
	if got := dedupe([]string{"a", "", "b", "a"}); len(got) != 2 {
		t.Errorf("dedupe = %v", got)
	}
}
