package bus

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Shahpura, Rajasthan
const (
	CenterLat = 27.3872
	CenterLng = 75.9554
)

func SeedStops() []Stop {
	return []Stop{
		{ID: "1", Name: "Shahpura Main Stand", Lat: 27.3872, Lng: 75.9554},
		{ID: "2", Name: "Amarpura Mod", Lat: 27.3500, Lng: 75.9400},
		{ID: "3", Name: "Manoharpur Stand", Lat: 27.3000, Lng: 75.9300},
		{ID: "4", Name: "Chandwaji (NH-48)", Lat: 27.2185, Lng: 75.9535},
	}
}

// SeedFleet returns the built-in fleet with timestamps relative to now.
func SeedFleet(now time.Time) []Record {
	ms := now.UnixMilli()
	return []Record{
		{
			ID:             "SH-01",
			Route:          "Jaipur Exp",
			Destination:    "Jaipur Sindhi Camp",
			LastUpdated:    ms,
			Lat:            27.3600,
			Lng:            75.9500,
			Capacity:       CapacityAvailable,
			SeatsRemaining: 15,
			MaxSeats:       45,
			Crowdsourced:   true,
			EtaMins:        Ptr(12),
			Traffic:        TrafficSmooth,
		},
		{
			ID:             "SH-02",
			Route:          "Kotputli Local",
			Destination:    "Kotputli",
			LastUpdated:    ms - 600000,
			Lat:            27.4200,
			Lng:            75.9600,
			Capacity:       CapacityFull,
			SeatsRemaining: 0,
			MaxSeats:       40,
			Crowdsourced:   false,
			EtaMins:        Ptr(25),
			Traffic:        TrafficHeavy,
		},
	}
}

type fleetFile struct {
	Buses []Record `yaml:"buses"`
	Stops []Stop   `yaml:"stops"`
}

// LoadFleetFile reads a YAML fleet definition. Missing lastUpdated values are
// stamped with now; stops default to SeedStops when the file lists none.
func LoadFleetFile(path string, now time.Time) ([]Record, []Stop, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var ff fleetFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, nil, fmt.Errorf("parse fleet file %s: %w", path, err)
	}
	if err := ValidateFleet(ff.Buses); err != nil {
		return nil, nil, fmt.Errorf("fleet file %s: %w", path, err)
	}
	for i := range ff.Buses {
		if ff.Buses[i].LastUpdated == 0 {
			ff.Buses[i].LastUpdated = now.UnixMilli()
		}
		if ff.Buses[i].Capacity == "" {
			ff.Buses[i].Capacity = CapacityAvailable
		}
		if ff.Buses[i].Traffic == "" {
			ff.Buses[i].Traffic = TrafficSmooth
		}
		ff.Buses[i] = ff.Buses[i].Normalize()
	}
	stops := ff.Stops
	if len(stops) == 0 {
		stops = SeedStops()
	}
	return ff.Buses, stops, nil
}

// ValidateFleet checks ids are present and unique and seat limits are positive.
func ValidateFleet(buses []Record) error {
	if len(buses) == 0 {
		return fmt.Errorf("fleet is empty")
	}
	seen := make(map[string]bool, len(buses))
	for _, b := range buses {
		if b.ID == "" {
			return fmt.Errorf("bus with empty id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate bus id %q", b.ID)
		}
		seen[b.ID] = true
		if b.MaxSeats <= 0 {
			return fmt.Errorf("bus %q: maxSeats must be positive", b.ID)
		}
		if b.Capacity != "" && !b.Capacity.Valid() {
			return fmt.Errorf("bus %q: invalid capacity %q", b.ID, b.Capacity)
		}
		if b.Traffic != "" && !b.Traffic.Valid() {
			return fmt.Errorf("bus %q: invalid traffic %q", b.ID, b.Traffic)
		}
	}
	return nil
}
