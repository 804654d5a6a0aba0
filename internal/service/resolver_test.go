package service

import (
	"context"
	"strings"
	"testing"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
)

type fakeFinder struct {
	filters []string
	results map[string][]entities.SegmentInfo
	errs    map[string]error
}

func (f *fakeFinder) FetchSegments(_ context.Context, city string, q repository.SegmentQuery) (*repository.SegmentDirectoryResult, error) {
	f.filters = append(f.filters, city+":"+q.NameContains)
	if err := f.errs[q.NameContains]; err != nil {
		return nil, err
	}
	return &repository.SegmentDirectoryResult{Segments: f.results[q.NameContains]}, nil
}

func newTestResolver(t *testing.T, finder *fakeFinder) *AddressResolver {
	return NewAddressResolver(defaultTables(t), finder, HomeCity("臺北市中正區"), logging.Nop())
}

func TestResolveGazetteerHit(t *testing.T) {
	finder := &fakeFinder{}
	r := newTestResolver(t, finder)

	res, err := r.Resolve(context.Background(), "明德路337巷")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.City != "Taipei" || !res.FromGazetteer || res.Aggregate {
		t.Fatalf("resolution = %+v", res)
	}
	if len(res.Segments) != 1 || res.Segments[0].ID != "1124337" {
		t.Fatalf("segments = %+v", res.Segments)
	}
	if len(finder.filters) != 0 {
		t.Fatalf("remote search called for gazetteer key: %v", finder.filters)
	}
}

func TestResolveAggregateKeyWithCity(t *testing.T) {
	r := newTestResolver(t, &fakeFinder{})

	res, err := r.Resolve(context.Background(), "台北市 回家計次")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fragment != "回家計次" || !res.Aggregate || len(res.Segments) != 4 {
		t.Fatalf("resolution = %+v", res)
	}
	if len(res.Segments[0].Zones) == 0 {
		t.Fatalf("zone restriction lost")
	}
}

func TestResolveCityMatching(t *testing.T) {
	finder := &fakeFinder{results: map[string][]entities.SegmentInfo{
		"中山路": {{ID: "K1", Name: "中山路一段"}},
	}}
	r := newTestResolver(t, finder)

	res, err := r.Resolve(context.Background(), "台中市中山路")
	if err != nil {
		t.Fatal(err)
	}
	if res.City != "Taichung" || res.CityName != "臺中市" || res.Fragment != "中山路" {
		t.Fatalf("resolution = %+v", res)
	}
	if res.FromGazetteer || res.Segments[0].Name != "中山路一段" {
		t.Fatalf("segments = %+v", res.Segments)
	}
	if finder.filters[0] != "Taichung:中山路" {
		t.Fatalf("filters = %v", finder.filters)
	}
}

func TestResolveFuzzyRelaxation(t *testing.T) {
	finder := &fakeFinder{results: map[string][]entities.SegmentInfo{
		"忠孝東路216": {{ID: "A", Name: "忠孝東路四段216巷"}, {ID: "B", Name: "忠孝東路五段216巷"}},
	}}
	r := newTestResolver(t, finder)

	res, err := r.Resolve(context.Background(), "忠孝東路216巷")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("resolution = %+v", res)
	}
	if res.Aggregate || res.FromGazetteer {
		t.Fatalf("fuzzy matches resolved as an aggregate place: %+v", res)
	}
	want := []string{"Taipei:忠孝東路216巷", "Taipei:忠孝東路216"}
	if strings.Join(finder.filters, "|") != strings.Join(want, "|") {
		t.Fatalf("filters = %v, want %v", finder.filters, want)
	}
}

func TestResolveUnresolvedListsGazetteerKeys(t *testing.T) {
	finder := &fakeFinder{}
	r := newTestResolver(t, finder)

	_, err := r.Resolve(context.Background(), "不存在路88巷")
	if !perrors.Is(err, perrors.UnresolvedAddress) {
		t.Fatalf("err = %v, want UnresolvedAddress", err)
	}
	for _, key := range defaultTables(t).Keys() {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("message does not list %q", key)
		}
	}
	want := []string{"Taipei:不存在路88巷", "Taipei:不存在路88", "Taipei:不存"}
	if strings.Join(finder.filters, "|") != strings.Join(want, "|") {
		t.Fatalf("filters = %v, want %v", finder.filters, want)
	}
}

func TestResolveEmptyFragment(t *testing.T) {
	r := newTestResolver(t, &fakeFinder{})
	for _, q := range []string{"", "   ", "臺北市"} {
		if _, err := r.Resolve(context.Background(), q); !perrors.Is(err, perrors.InvalidAddress) {
			t.Errorf("Resolve(%q) err = %v, want InvalidAddress", q, err)
		}
	}
}

func TestResolveRemoteErrors(t *testing.T) {
	t.Run("auth rejected stops at once", func(t *testing.T) {
		finder := &fakeFinder{errs: map[string]error{
			"某某路": perrors.Remote(perrors.AuthRejected, 401, "", nil),
		}}
		_, err := newTestResolver(t, finder).Resolve(context.Background(), "某某路")
		if !perrors.Is(err, perrors.AuthRejected) || len(finder.filters) != 1 {
			t.Fatalf("err = %v filters = %v", err, finder.filters)
		}
	})

	t.Run("all strategies failing surface the last error", func(t *testing.T) {
		finder := &fakeFinder{errs: map[string]error{
			"某某路": perrors.Remote(perrors.RemoteTimeout, 0, "", nil),
			"某某":  perrors.Remote(perrors.RateLimited, 429, "", nil),
		}}
		_, err := newTestResolver(t, finder).Resolve(context.Background(), "某某路")
		if !perrors.Is(err, perrors.RateLimited) {
			t.Fatalf("err = %v, want RateLimited", err)
		}
	})

	t.Run("partial failure with no match is unresolved", func(t *testing.T) {
		finder := &fakeFinder{errs: map[string]error{
			"某某路": perrors.Remote(perrors.RemoteServerError, 500, "", nil),
		}}
		_, err := newTestResolver(t, finder).Resolve(context.Background(), "某某路")
		if !perrors.Is(err, perrors.UnresolvedAddress) {
			t.Fatalf("err = %v, want UnresolvedAddress", err)
		}
	})
}

func TestHomeCity(t *testing.T) {
	tests := map[string]string{
		"":          "Taipei",
		"臺北市中正區":    "Taipei",
		"高雄市前鎮區":    "Kaohsiung",
		"台南市東區":     "Tainan",
		"somewhere": "Taipei",
	}
	for addr, want := range tests {
		if got := HomeCity(addr); got != want {
			t.Errorf("HomeCity(%q) = %q, want %q", addr, got, want)
		}
	}
}
