// Package feed publishes the fleet as a GTFS-Realtime VehiclePositions feed.
package feed

import (
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
	"google.golang.org/protobuf/proto"
)

// ContentType of a serialized feed.
const ContentType = "application/x-protobuf"

const gtfsRealtimeVersion = "2.0"

// VehiclePositions builds a full-dataset feed of the buses on the road.
// Parked and out-of-service buses are not in service and are left out.
func VehiclePositions(snap *fleet.Snapshot, now time.Time) *gtfsrtpb.FeedMessage {
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	for _, b := range snap.Buses {
		if b.Status != models.StatusOnRoad {
			continue
		}
		msg.Entity = append(msg.Entity, entity(b))
	}
	return msg
}

func entity(b models.Bus) *gtfsrtpb.FeedEntity {
	vp := &gtfsrtpb.VehiclePosition{
		Vehicle: &gtfsrtpb.VehicleDescriptor{
			Id:           proto.String(b.ID),
			Label:        proto.String(b.Model),
			LicensePlate: proto.String(b.PlateNumber),
		},
		Position: &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(b.CurrentLocation.Lat)),
			Longitude: proto.Float32(float32(b.CurrentLocation.Lng)),
			Speed:     proto.Float32(float32(b.Speed / 3.6)), // m/s
		},
		CurrentStatus: gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum(),
	}
	ts := b.CurrentLocation.Timestamp
	if ts.IsZero() {
		ts = b.LastUpdated
	}
	if !ts.IsZero() {
		vp.Timestamp = proto.Uint64(uint64(ts.Unix()))
	}
	return &gtfsrtpb.FeedEntity{
		Id:      proto.String(b.ID),
		Vehicle: vp,
	}
}

// Marshal serializes the VehiclePositions feed of snap.
func Marshal(snap *fleet.Snapshot, now time.Time) ([]byte, error) {
	return proto.Marshal(VehiclePositions(snap, now))
}
