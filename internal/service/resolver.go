package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
)

// City is a provider city code with its Chinese name.
type City struct {
	Code string
	Name string
}

// Cities lists every city the provider serves. Matching uses this order.
var Cities = []City{
	{"NewTaipei", "新北市"},
	{"YilanCounty", "宜蘭縣"},
	{"PingtungCounty", "屏東縣"},
	{"HsinchuCounty", "新竹縣"},
	{"Taoyuan", "桃園市"},
	{"Taipei", "臺北市"},
	{"Hsinchu", "新竹市"},
	{"YunlinCounty", "雲林縣"},
	{"MiaoliCounty", "苗栗縣"},
	{"Chiayi", "嘉義市"},
	{"TaitungCounty", "臺東縣"},
	{"Kaohsiung", "高雄市"},
	{"HualienCounty", "花蓮縣"},
	{"LienchiangCounty", "連江縣"},
	{"ChiayiCounty", "嘉義縣"},
	{"Keelung", "基隆市"},
	{"Taichung", "臺中市"},
	{"PenghuCounty", "澎湖縣"},
	{"ChanghuaCounty", "彰化縣"},
	{"KinmenCounty", "金門縣"},
	{"NantouCounty", "南投縣"},
	{"Tainan", "臺南市"},
}

// DefaultCity is used when neither the query nor the home address names one.
const DefaultCity = "Taipei"

// CityName returns the Chinese name of a city code.
func CityName(code string) string {
	for _, c := range Cities {
		if c.Code == code {
			return c.Name
		}
	}
	return code
}

// MatchCity finds the city named in text. 台 is accepted for 臺.
func MatchCity(text string) (City, bool) {
	normalized := strings.ReplaceAll(text, "台", "臺")
	for _, c := range Cities {
		if strings.Contains(normalized, c.Name) {
			return c, true
		}
	}
	return City{}, false
}

// HomeCity derives the fallback city code from the configured home address.
func HomeCity(homeAddress string) string {
	if c, ok := MatchCity(homeAddress); ok {
		return c.Code
	}
	return DefaultCity
}

// Gazetteer maps canonical place names to segments.
type Gazetteer interface {
	Lookup(key string) ([]entities.SegmentRef, bool)
	Keys() []string
}

// SegmentFinder searches the remote segment directory.
type SegmentFinder interface {
	FetchSegments(ctx context.Context, city string, q repository.SegmentQuery) (*repository.SegmentDirectoryResult, error)
}

// AddressResolver turns a free-text query into segments.
type AddressResolver struct {
	gazetteer    Gazetteer
	finder       SegmentFinder
	fallbackCity string
	log          *logging.Logger
}

func NewAddressResolver(gazetteer Gazetteer, finder SegmentFinder, fallbackCity string, log *logging.Logger) *AddressResolver {
	if fallbackCity == "" {
		fallbackCity = DefaultCity
	}
	return &AddressResolver{
		gazetteer:    gazetteer,
		finder:       finder,
		fallbackCity: fallbackCity,
		log:          log.With("component", "resolver"),
	}
}

// Resolve finds the city and segments for query. Gazetteer keys are used
// directly; anything else goes through the remote fuzzy search.
func (r *AddressResolver) Resolve(ctx context.Context, query string) (*entities.Resolution, error) {
	query = strings.TrimSpace(query)
	res := &entities.Resolution{Query: query, City: r.fallbackCity}

	fragment := strings.ReplaceAll(query, "台", "臺")
	if c, ok := MatchCity(fragment); ok {
		res.City = c.Code
		fragment = strings.Replace(fragment, c.Name, "", 1)
	}
	res.CityName = CityName(res.City)
	fragment = strings.Join(strings.Fields(fragment), "")
	res.Fragment = fragment

	if fragment == "" {
		return nil, perrors.New(perrors.InvalidAddress, "請輸入要查詢的地址。")
	}

	if refs, ok := r.lookup(query, fragment); ok {
		res.Segments = refs
		res.Aggregate = len(refs) > 1
		res.FromGazetteer = true
		r.log.Debug("gazetteer hit", "query", query, "segments", len(refs))
		return res, nil
	}

	refs, err := r.fuzzySearch(ctx, res.City, fragment)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		msg := fmt.Sprintf("找不到 %s 的路段資料，請嘗試以下地址：%s。", query, strings.Join(r.gazetteer.Keys(), ", "))
		return nil, perrors.New(perrors.UnresolvedAddress, msg)
	}
	// Fuzzy matches are separate roads, never one aggregate place.
	res.Segments = refs
	return res, nil
}

// lookup tries the fragment and then the untouched query, so keys that
// contain 台 still match.
func (r *AddressResolver) lookup(query, fragment string) ([]entities.SegmentRef, bool) {
	if refs, ok := r.gazetteer.Lookup(fragment); ok {
		return refs, true
	}
	return r.gazetteer.Lookup(query)
}

// fuzzySearch tries progressively looser name filters. AuthRejected stops the
// search at once. When every filter failed remotely the last failure is
// returned; an empty result with no error means nothing matched.
func (r *AddressResolver) fuzzySearch(ctx context.Context, city, fragment string) ([]entities.SegmentRef, error) {
	filters := relaxations(fragment)
	var lastErr error
	failures := 0
	for _, f := range filters {
		out, err := r.finder.FetchSegments(ctx, city, repository.SegmentQuery{NameContains: f})
		if err != nil {
			if perrors.Is(err, perrors.AuthRejected) || ctx.Err() != nil {
				return nil, err
			}
			r.log.Warn("fuzzy segment search failed", "filter", f, "error", err)
			lastErr = err
			failures++
			continue
		}
		if len(out.Segments) == 0 {
			continue
		}
		refs := make([]entities.SegmentRef, 0, len(out.Segments))
		for _, s := range out.Segments {
			refs = append(refs, entities.SegmentRef{ID: s.ID, Name: s.Name})
		}
		r.log.Debug("fuzzy segment search matched", "filter", f, "segments", len(refs))
		return refs, nil
	}
	if failures == len(filters) {
		return nil, lastErr
	}
	return nil, nil
}

// relaxations returns the fragment, its part before 巷, and its first two
// characters, without duplicates.
func relaxations(fragment string) []string {
	candidates := []string{fragment}
	if i := strings.Index(fragment, "巷"); i > 0 {
		candidates = append(candidates, fragment[:i])
	}
	if utf8.RuneCountInString(fragment) > 1 {
		runes := []rune(fragment)
		candidates = append(candidates, string(runes[:2]))
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
