package domain

import (
	"fmt"
	"math"
	"strings"
)

type Region string

const (
	RegionNorth   Region = "North"
	RegionEast    Region = "East"
	RegionSouth   Region = "South"
	RegionWest    Region = "West"
	RegionCentral Region = "Central"
)

// ParseRegion accepts any casing of the five fixed zones.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north":
		return RegionNorth, nil
	case "east":
		return RegionEast, nil
	case "south":
		return RegionSouth, nil
	case "west":
		return RegionWest, nil
	case "central":
		return RegionCentral, nil
	}
	return "", fmt.Errorf("%w: unknown region %q", ErrMalformedRecord, s)
}

type Hotel struct {
	ID                     string
	Name                   string
	Address                string
	Region                 Region
	SubRegion              string
	Lat, Lon               *float64
	AssignedMeetingPointID *string
}

type MeetingPoint struct {
	ID            string
	Name          string
	Address       string
	Region        Region
	GoogleMapsURL string
	Lat, Lon      *float64
}

type Coords struct{ Lat, Lon float64 }

// CoordsOf returns usable coordinates, or false when either value is
// missing, not a number, or out of range.
func CoordsOf(lat, lon *float64) (Coords, bool) {
	if lat == nil || lon == nil {
		return Coords{}, false
	}
	c := Coords{Lat: *lat, Lon: *lon}
	if !c.Valid() {
		return Coords{}, false
	}
	return c, true
}

func (c Coords) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (h Hotel) Coords() (Coords, bool)        { return CoordsOf(h.Lat, h.Lon) }
func (m MeetingPoint) Coords() (Coords, bool) { return CoordsOf(m.Lat, m.Lon) }
