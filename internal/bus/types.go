package bus

import "time"

type Capacity string

const (
	CapacityAvailable  Capacity = "AVAILABLE"
	CapacityStanding   Capacity = "STANDING"
	CapacityFull       Capacity = "FULL"
	CapacityOverloaded Capacity = "OVERLOADED"
)

func (c Capacity) Valid() bool {
	switch c {
	case CapacityAvailable, CapacityStanding, CapacityFull, CapacityOverloaded:
		return true
	}
	return false
}

type Traffic string

const (
	TrafficSmooth Traffic = "SMOOTH"
	TrafficHeavy  Traffic = "HEAVY"
	TrafficBlock  Traffic = "BLOCK"
)

func (t Traffic) Valid() bool {
	switch t {
	case TrafficSmooth, TrafficHeavy, TrafficBlock:
		return true
	}
	return false
}

type Language string

const (
	LangEnglish Language = "en"
	LangHindi   Language = "hi"
)

func (l Language) Valid() bool { return l == LangEnglish || l == LangHindi }

// Locale returns the speech locale tag for the language.
func (l Language) Locale() string {
	if l == LangHindi {
		return "hi-IN"
	}
	return "en-US"
}

// Record is the canonical state of one tracked vehicle.
type Record struct {
	ID             string   `json:"id" yaml:"id"`
	Route          string   `json:"routeNumber" yaml:"routeNumber"`
	Destination    string   `json:"destination" yaml:"destination"`
	LastUpdated    int64    `json:"lastUpdated" yaml:"lastUpdated"` // unix ms
	Lat            float64  `json:"lat" yaml:"lat"`
	Lng            float64  `json:"lng" yaml:"lng"`
	Capacity       Capacity `json:"capacity" yaml:"capacity"`
	SeatsRemaining int      `json:"seatsRemaining" yaml:"seatsRemaining"`
	MaxSeats       int      `json:"maxSeats" yaml:"maxSeats"`
	Crowdsourced   bool     `json:"isCrowdsourced" yaml:"isCrowdsourced"`
	Traffic        Traffic  `json:"traffic" yaml:"traffic"`
	EtaMins        *int     `json:"etaMins,omitempty" yaml:"etaMins,omitempty"`
	Prediction     *string  `json:"prediction,omitempty" yaml:"prediction,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	if r.EtaMins != nil {
		v := *r.EtaMins
		out.EtaMins = &v
	}
	if r.Prediction != nil {
		v := *r.Prediction
		out.Prediction = &v
	}
	return out
}

// Normalize enforces 0 <= SeatsRemaining <= MaxSeats and FULL => no seats.
func (r Record) Normalize() Record {
	if r.SeatsRemaining < 0 {
		r.SeatsRemaining = 0
	}
	if r.SeatsRemaining > r.MaxSeats {
		r.SeatsRemaining = r.MaxSeats
	}
	if r.Capacity == CapacityFull {
		r.SeatsRemaining = 0
	}
	if r.EtaMins != nil && *r.EtaMins < 0 {
		zero := 0
		r.EtaMins = &zero
	}
	return r
}

func (r Record) UpdatedAt() time.Time { return time.UnixMilli(r.LastUpdated) }

// PendingUpdate is a mutation buffered while offline, awaiting remote delivery.
type PendingUpdate struct {
	ID        string `json:"id"`
	BusID     string `json:"busId"`
	Patch     Patch  `json:"updates"`
	CreatedAt int64  `json:"timestamp"` // unix ms
}

type Stop struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
}

// Position is a derived view of a bus for map consumers.
type Position struct {
	BusID       string    `json:"busId"`
	Route       string    `json:"routeNumber"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	BearingDeg  float64   `json:"bearing"`
	SpeedMps    float64   `json:"speedMps"`
	NearestStop string    `json:"nearestStop,omitempty"`
	Capacity    Capacity  `json:"capacity"`
	Traffic     Traffic   `json:"traffic"`
	Timestamp   time.Time `json:"timestamp"`
}
