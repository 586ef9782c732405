package api

import (
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"graminbus/internal/bus"
)

const gtfsRealtimeVersion = "2.0"

// VehiclePositionsFeed renders positions as a full-dataset GTFS-Realtime feed.
func VehiclePositionsFeed(positions []bus.Position, now time.Time) *gtfsrtpb.FeedMessage {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, p := range positions {
		vp := &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{RouteId: proto.String(p.Route)},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(p.BusID),
				Label: proto.String(p.Route),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(p.Lat)),
				Longitude: proto.Float32(float32(p.Lng)),
				Bearing:   proto.Float32(float32(p.BearingDeg)),
				Speed:     proto.Float32(float32(p.SpeedMps)),
			},
			Timestamp: proto.Uint64(uint64(p.Timestamp.Unix())),
		}
		if occ, ok := occupancy(p.Capacity); ok {
			vp.OccupancyStatus = occ.Enum()
		}
		if cong, ok := congestion(p.Traffic); ok {
			vp.CongestionLevel = cong.Enum()
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(p.BusID),
			Vehicle: vp,
		})
	}
	return fm
}

func occupancy(c bus.Capacity) (gtfsrtpb.VehiclePosition_OccupancyStatus, bool) {
	switch c {
	case bus.CapacityAvailable:
		return gtfsrtpb.VehiclePosition_MANY_SEATS_AVAILABLE, true
	case bus.CapacityStanding:
		return gtfsrtpb.VehiclePosition_STANDING_ROOM_ONLY, true
	case bus.CapacityFull:
		return gtfsrtpb.VehiclePosition_FULL, true
	case bus.CapacityOverloaded:
		return gtfsrtpb.VehiclePosition_CRUSHED_STANDING_ROOM_ONLY, true
	}
	return 0, false
}

func congestion(t bus.Traffic) (gtfsrtpb.VehiclePosition_CongestionLevel, bool) {
	switch t {
	case bus.TrafficSmooth:
		return gtfsrtpb.VehiclePosition_RUNNING_SMOOTHLY, true
	case bus.TrafficHeavy:
		return gtfsrtpb.VehiclePosition_STOP_AND_GO, true
	case bus.TrafficBlock:
		return gtfsrtpb.VehiclePosition_SEVERE_CONGESTION, true
	}
	return 0, false
}

func (s *Server) vehiclePositionsHandler(w http.ResponseWriter, r *http.Request) {
	fm := VehiclePositionsFeed(s.svc.Positions(), time.Now())

	if r.URL.Query().Get("format") == "json" {
		b, err := protojson.MarshalOptions{Multiline: true}.Marshal(fm)
		if err != nil {
			s.serverErrorResponse(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		return
	}

	b, err := proto.Marshal(fm)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(b)
}
