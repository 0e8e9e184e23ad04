package app

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tourbook/internal/domain"
)

var (
	// .../place/Foo/@36.3932,25.4615,17z
	atPattern = regexp.MustCompile(`@(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)`)
	// ...!3d36.3932!4d25.4615
	dataPattern = regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`)
	pairPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// CoordsFromMapsURL extracts a latitude/longitude pair from the common
// Google Maps link shapes. The place marker (!3d/!4d) wins over the
// viewport centre (@lat,lng) because it is the pin itself.
func CoordsFromMapsURL(raw string) (domain.Coords, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Coords{}, false
	}
	if m := dataPattern.FindStringSubmatch(raw); m != nil {
		if c, ok := parsePair(m[1], m[2]); ok {
			return c, true
		}
	}
	if m := atPattern.FindStringSubmatch(raw); m != nil {
		if c, ok := parsePair(m[1], m[2]); ok {
			return c, true
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.Coords{}, false
	}
	q := u.Query()
	for _, key := range []string{"q", "query", "ll", "destination"} {
		if m := pairPattern.FindStringSubmatch(q.Get(key)); m != nil {
			if c, ok := parsePair(m[1], m[2]); ok {
				return c, true
			}
		}
	}
	return domain.Coords{}, false
}

func parsePair(latS, lonS string) (domain.Coords, bool) {
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	if err1 != nil || err2 != nil {
		return domain.Coords{}, false
	}
	c := domain.Coords{Lat: lat, Lon: lon}
	return c, c.Valid()
}

type BackfillResult struct {
	Updated int      `json:"updated"`
	Failed  []string `json:"failed"`
}

// BackfillMeetingPointCoordinates fills missing coordinates from each
// point's map link. Points that already have coordinates are left alone.
func BackfillMeetingPointCoordinates(ctx context.Context, repo domain.MeetingPointRepository, log zerolog.Logger) (BackfillResult, error) {
	ctx, span := tracer.Start(ctx, "BackfillMeetingPointCoordinates")
	defer span.End()

	points, err := repo.ListMeetingPoints(ctx)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("load meeting points: %w", err)
	}
	res := BackfillResult{Failed: []string{}}
	for _, mp := range points {
		if _, ok := mp.Coords(); ok {
			continue
		}
		c, ok := CoordsFromMapsURL(mp.GoogleMapsURL)
		if !ok {
			log.Warn().Str("meeting_point_id", mp.ID).Str("url", mp.GoogleMapsURL).Msg("no coordinates in maps url")
			res.Failed = append(res.Failed, mp.ID)
			continue
		}
		if err := repo.SetMeetingPointCoords(ctx, mp.ID, c); err != nil {
			log.Warn().Str("meeting_point_id", mp.ID).Err(err).Msg("store coordinates failed")
			res.Failed = append(res.Failed, mp.ID)
			continue
		}
		res.Updated++
	}
	return res, nil
}
