package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

const earthRadiusKm = 6371.0088

const (
	SkipMissingCoordinates = "missing_coordinates"
	SkipNoMeetingPoint     = "no_meeting_point_in_region"
	SkipInvalidRegion      = "invalid_region"
)

type SkippedHotel struct {
	HotelID string `json:"hotelId"`
	Reason  string `json:"reason"`
}

type HotelError struct {
	HotelID string
	Err     error
}

func (e HotelError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		HotelID string `json:"hotelId"`
		Error   string `json:"error"`
	}{e.HotelID, e.Err.Error()})
}

// AssignmentResult reports one engine run. UpdatedCount only counts hotels
// whose stored meeting point actually changed; Unchanged counts the ones that
// already pointed at the nearest point and were not rewritten. Cleared counts
// skipped hotels whose stored point was dropped because it was no longer a
// meeting point in the hotel's region.
type AssignmentResult struct {
	UpdatedCount int            `json:"updatedCount"`
	Unchanged    int            `json:"unchanged"`
	Cleared      int            `json:"cleared"`
	Skipped      []SkippedHotel `json:"skipped"`
	Errors       []HotelError   `json:"errors"`
}

type GeoAssignmentEngine struct {
	hotels  domain.HotelRepository
	points  domain.MeetingPointRepository
	workers int
	log     zerolog.Logger
}

func NewGeoAssignmentEngine(h domain.HotelRepository, p domain.MeetingPointRepository, workers int, log zerolog.Logger) *GeoAssignmentEngine {
	if workers <= 0 {
		workers = 8
	}
	return &GeoAssignmentEngine{hotels: h, points: p, workers: workers, log: log}
}

// Run loads every hotel and meeting point and assigns in one pass.
func (e *GeoAssignmentEngine) Run(ctx context.Context) (AssignmentResult, error) {
	ctx, span := tracer.Start(ctx, "GeoAssignmentEngine.Run")
	defer span.End()

	hotels, err := e.hotels.ListHotels(ctx)
	if err != nil {
		return AssignmentResult{}, fmt.Errorf("load hotels: %w", err)
	}
	points, err := e.points.ListMeetingPoints(ctx)
	if err != nil {
		return AssignmentResult{}, fmt.Errorf("load meeting points: %w", err)
	}
	res := e.Assign(ctx, hotels, points)
	span.SetAttributes(
		attribute.Int("hotels", len(hotels)),
		attribute.Int("updated", res.UpdatedCount),
		attribute.Int("skipped", len(res.Skipped)),
		attribute.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// pendingWrite with an empty pointID clears the hotel's assignment.
type pendingWrite struct {
	hotelID string
	pointID string
}

func (e *GeoAssignmentEngine) Assign(ctx context.Context, hotels []domain.Hotel, points []domain.MeetingPoint) AssignmentResult {
	byRegion := make(map[domain.Region][]domain.MeetingPoint)
	// regionOf covers points without coordinates too: pointing at one of
	// them is still a same-region assignment.
	regionOf := make(map[string]domain.Region, len(points))
	for _, mp := range points {
		region, err := domain.ParseRegion(string(mp.Region))
		if err != nil {
			continue
		}
		regionOf[mp.ID] = region
		if _, ok := mp.Coords(); ok {
			byRegion[region] = append(byRegion[region], mp)
		}
	}

	res := AssignmentResult{Skipped: []SkippedHotel{}, Errors: []HotelError{}}
	var writes []pendingWrite
	skip := func(h domain.Hotel, region domain.Region, reason string) {
		res.Skipped = append(res.Skipped, SkippedHotel{HotelID: h.ID, Reason: reason})
		if h.AssignedMeetingPointID == nil {
			return
		}
		if r, ok := regionOf[*h.AssignedMeetingPointID]; ok && r == region {
			return
		}
		writes = append(writes, pendingWrite{hotelID: h.ID})
	}
	for _, h := range hotels {
		region, err := domain.ParseRegion(string(h.Region))
		if err != nil {
			skip(h, "", SkipInvalidRegion)
			continue
		}
		c, ok := h.Coords()
		if !ok {
			skip(h, region, SkipMissingCoordinates)
			continue
		}
		best, _, found := NearestMeetingPoint(c, byRegion[region])
		if !found {
			skip(h, region, SkipNoMeetingPoint)
			continue
		}
		if h.AssignedMeetingPointID != nil && *h.AssignedMeetingPointID == best.ID {
			res.Unchanged++
			continue
		}
		writes = append(writes, pendingWrite{hotelID: h.ID, pointID: best.ID})
	}

	updated, cleared, errs := e.write(ctx, writes)
	res.UpdatedCount = updated
	res.Cleared = cleared
	res.Errors = append(res.Errors, errs...)

	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].HotelID < res.Skipped[j].HotelID })
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].HotelID < res.Errors[j].HotelID })

	observability.ObserveGeo("updated", res.UpdatedCount)
	observability.ObserveGeo("unchanged", res.Unchanged)
	observability.ObserveGeo("cleared", res.Cleared)
	observability.ObserveGeo("skipped", len(res.Skipped))
	observability.ObserveGeo("error", len(res.Errors))
	e.log.Info().
		Int("updated", res.UpdatedCount).
		Int("unchanged", res.Unchanged).
		Int("cleared", res.Cleared).
		Int("skipped", len(res.Skipped)).
		Int("errors", len(res.Errors)).
		Msg("meeting point assignment finished")
	return res
}

// write fans the per-hotel updates out over a bounded pool. Each write is
// independent; a failure is recorded and the rest carry on.
func (e *GeoAssignmentEngine) write(ctx context.Context, writes []pendingWrite) (int, int, []HotelError) {
	sem := semaphore.NewWeighted(int64(e.workers))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
		cleared int
		errs    []HotelError
	)
	record := func(w pendingWrite, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			errs = append(errs, HotelError{HotelID: w.hotelID, Err: err})
		case w.pointID == "":
			cleared++
		default:
			updated++
		}
	}

	for i, w := range writes {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, rest := range writes[i:] {
				record(rest, err)
			}
			break
		}
		wg.Add(1)
		go func(w pendingWrite) {
			defer wg.Done()
			defer sem.Release(1)

			var err error
			if w.pointID == "" {
				err = e.hotels.ClearAssignedMeetingPoint(ctx, w.hotelID)
			} else {
				err = e.hotels.SetAssignedMeetingPoint(ctx, w.hotelID, w.pointID)
			}
			if err != nil {
				e.log.Warn().Str("hotel_id", w.hotelID).Str("meeting_point_id", w.pointID).Err(err).Msg("assignment write failed")
			}
			record(w, err)
		}(w)
	}
	wg.Wait()
	return updated, cleared, errs
}

// NearestMeetingPoint picks the candidate with the smallest great-circle
// distance from c. Equal distances resolve to the lexicographically smallest
// id so the choice never depends on input order.
func NearestMeetingPoint(c domain.Coords, candidates []domain.MeetingPoint) (domain.MeetingPoint, float64, bool) {
	var (
		best     domain.MeetingPoint
		bestDist = math.Inf(1)
		found    bool
	)
	for _, mp := range candidates {
		mc, ok := mp.Coords()
		if !ok {
			continue
		}
		d := HaversineKm(c, mc)
		if !found || d < bestDist || (d == bestDist && mp.ID < best.ID) {
			best, bestDist, found = mp, d, true
		}
	}
	return best, bestDist, found
}

func HaversineKm(a, b domain.Coords) float64 {
	const rad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
