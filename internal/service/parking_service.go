package service

import (
	"context"
	"time"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
)

// SpotSource fetches spot availability and segment names from the provider.
type SpotSource interface {
	FetchSpotAvailability(ctx context.Context, city string, segmentIDs []string) (*repository.SpotQueryResult, error)
	SegmentNames(ctx context.Context, city string, ids []string) map[string]string
}

// ParkingService runs the resolve, fetch and aggregate pipeline.
type ParkingService struct {
	resolver   *AddressResolver
	spots      SpotSource
	aggregator *Aggregator
	now        func() time.Time
	log        *logging.Logger
}

func NewParkingService(resolver *AddressResolver, spots SpotSource, aggregator *Aggregator, log *logging.Logger) *ParkingService {
	return &ParkingService{
		resolver:   resolver,
		spots:      spots,
		aggregator: aggregator,
		now:        time.Now,
		log:        log.With("component", "parking"),
	}
}

// SetClock replaces the clock used for spot ages.
func (s *ParkingService) SetClock(now func() time.Time) {
	s.now = now
}

// Query answers a free-text query with a ranked report. When nothing is
// available the report is returned together with a NoAvailability error.
func (s *ParkingService) Query(ctx context.Context, query string) (*entities.Report, error) {
	in, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.aggregator.Aggregate(*in)
}

// Snapshot returns the available in-scope spots for query. An empty
// snapshot is a valid result, a partial one is not: when any segment
// failed the error of the first failed segment is returned, so a spot is
// never reported new only because its segment was missing from the
// previous snapshot.
func (s *ParkingService) Snapshot(ctx context.Context, query string) (entities.Snapshot, error) {
	in, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	if first := firstFailed(in.Resolution.Segments, in.Errors); first != nil {
		return nil, first
	}
	return s.aggregator.Snapshot(*in), nil
}

// Availability wraps Query for the HTTP surface: NoAvailability becomes a
// regular answer with Available set to false.
func (s *ParkingService) Availability(ctx context.Context, query string) (*entities.AvailabilityResponse, error) {
	report, err := s.Query(ctx, query)
	if err != nil {
		if perrors.Is(err, perrors.NoAvailability) {
			return &entities.AvailabilityResponse{
				Available: false,
				Message:   perrors.MessageOf(err),
				Report:    report,
			}, nil
		}
		return nil, err
	}
	return &entities.AvailabilityResponse{
		Available: true,
		Text:      FormatReport(report),
		Report:    report,
	}, nil
}

func (s *ParkingService) collect(ctx context.Context, query string) (*AggregateInput, error) {
	res, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Segments))
	for _, ref := range res.Segments {
		ids = append(ids, ref.ID)
	}
	spots, err := s.spots.FetchSpotAvailability(ctx, res.City, ids)
	if err != nil {
		return nil, err
	}
	if len(spots.Errors) > 0 {
		if first := allFailed(ids, spots.Errors); first != nil {
			return nil, first
		}
		s.log.Warn("partial availability", "query", query, "failed_segments", len(spots.Errors))
	}

	var unnamed []string
	for _, ref := range res.Segments {
		if ref.Name == "" {
			unnamed = append(unnamed, ref.ID)
		}
	}
	var names map[string]string
	if len(unnamed) > 0 {
		names = s.spots.SegmentNames(ctx, res.City, unnamed)
	}

	return &AggregateInput{
		Resolution: res,
		Records:    spots.Records,
		Names:      names,
		Invalid:    spots.Invalid,
		Errors:     spots.Errors,
		Now:        s.now(),
	}, nil
}

// allFailed returns the error of the first segment when every segment
// failed, nil otherwise.
func allFailed(ids []string, errs map[string]*perrors.Error) *perrors.Error {
	for _, id := range ids {
		if _, ok := errs[id]; !ok {
			return nil
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return errs[ids[0]]
}

// firstFailed returns the error of the first failed segment in resolution
// order.
func firstFailed(refs []entities.SegmentRef, errs map[string]*perrors.Error) *perrors.Error {
	for _, ref := range refs {
		if e, ok := errs[ref.ID]; ok {
			return e
		}
	}
	return nil
}
