package bus

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyPatch   = errors.New("patch has no fields")
	ErrInvalidPatch = errors.New("invalid patch")
)

var validate = validator.New()

// Patch is a partial field-set for a Record. Nil fields are left untouched.
// ID, MaxSeats and LastUpdated are not patchable.
type Patch struct {
	Route          *string   `json:"routeNumber,omitempty" validate:"omitempty,min=1"`
	Destination    *string   `json:"destination,omitempty" validate:"omitempty,min=1"`
	Lat            *float64  `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng            *float64  `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Capacity       *Capacity `json:"capacity,omitempty" validate:"omitempty,oneof=AVAILABLE STANDING FULL OVERLOADED"`
	SeatsRemaining *int      `json:"seatsRemaining,omitempty" validate:"omitempty,gte=0"`
	Crowdsourced   *bool     `json:"isCrowdsourced,omitempty"`
	Traffic        *Traffic  `json:"traffic,omitempty" validate:"omitempty,oneof=SMOOTH HEAVY BLOCK"`
	EtaMins        *int      `json:"etaMins,omitempty" validate:"omitempty,gte=0"`
	Prediction     *string   `json:"prediction,omitempty"`
}

// Validate reports an empty patch or out-of-range values.
func (p Patch) Validate() error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	if p.Capacity != nil && *p.Capacity == CapacityFull && p.SeatsRemaining != nil && *p.SeatsRemaining > 0 {
		return fmt.Errorf("%w: capacity FULL with %d seats remaining", ErrInvalidPatch, *p.SeatsRemaining)
	}
	return nil
}

func (p Patch) Empty() bool { return len(p.Fields()) == 0 }

// Fields lists the JSON names of the fields set on the patch.
func (p Patch) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Route != nil, "routeNumber")
	add(p.Destination != nil, "destination")
	add(p.Lat != nil, "lat")
	add(p.Lng != nil, "lng")
	add(p.Capacity != nil, "capacity")
	add(p.SeatsRemaining != nil, "seatsRemaining")
	add(p.Crowdsourced != nil, "isCrowdsourced")
	add(p.Traffic != nil, "traffic")
	add(p.EtaMins != nil, "etaMins")
	add(p.Prediction != nil, "prediction")
	return out
}

// Merge returns r with every set field of p copied over. Fields the patch sets
// are kept as given: seats above MaxSeats are rejected, and free seats without
// an explicit capacity make the bus AVAILABLE. Unset fields may still be
// derived (FULL empties the seats).
func (p Patch) Merge(r Record) (Record, error) {
	if p.SeatsRemaining != nil && *p.SeatsRemaining > r.MaxSeats {
		return Record{}, fmt.Errorf("%w: seatsRemaining %d exceeds maxSeats %d", ErrInvalidPatch, *p.SeatsRemaining, r.MaxSeats)
	}
	out := r.Clone()
	if p.Route != nil {
		out.Route = *p.Route
	}
	if p.Destination != nil {
		out.Destination = *p.Destination
	}
	if p.Lat != nil {
		out.Lat = *p.Lat
	}
	if p.Lng != nil {
		out.Lng = *p.Lng
	}
	if p.Capacity != nil {
		out.Capacity = *p.Capacity
	}
	if p.SeatsRemaining != nil {
		out.SeatsRemaining = *p.SeatsRemaining
		if p.Capacity == nil && out.SeatsRemaining > 0 {
			out.Capacity = CapacityAvailable
		}
	}
	if p.Crowdsourced != nil {
		out.Crowdsourced = *p.Crowdsourced
	}
	if p.Traffic != nil {
		out.Traffic = *p.Traffic
	}
	if p.EtaMins != nil {
		v := *p.EtaMins
		out.EtaMins = &v
	}
	if p.Prediction != nil {
		v := *p.Prediction
		out.Prediction = &v
	}
	return out.Normalize(), nil
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
