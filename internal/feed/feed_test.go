package feed

import (
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
	"google.golang.org/protobuf/proto"
)

func TestVehiclePositions(t *testing.T) {
	now := time.Date(2025, 5, 4, 9, 30, 0, 0, time.UTC)
	fix := now.Add(-3 * time.Second)
	snap := &fleet.Snapshot{Buses: []models.Bus{
		{ID: "b1", PlateNumber: "00123-124-16", Model: "Mercedes-Benz O500", Status: models.StatusOnRoad,
			CurrentLocation: models.Location{Lat: 36.7538, Lng: 3.0588, Timestamp: fix}, Speed: 36},
		{ID: "b2", Status: models.StatusParked},
		{ID: "b3", Status: models.StatusOutOfService},
	}}

	raw, err := Marshal(snap, now)
	require.NoError(t, err)

	var msg gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(raw, &msg))

	assert.Equal(t, "2.0", msg.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, gtfsrtpb.FeedHeader_FULL_DATASET, msg.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(now.Unix()), msg.GetHeader().GetTimestamp())

	require.Len(t, msg.GetEntity(), 1, "only buses in service are published")
	e := msg.GetEntity()[0]
	assert.Equal(t, "b1", e.GetId())
	vp := e.GetVehicle()
	assert.Equal(t, "00123-124-16", vp.GetVehicle().GetLicensePlate())
	assert.Equal(t, "Mercedes-Benz O500", vp.GetVehicle().GetLabel())
	assert.InDelta(t, 36.7538, vp.GetPosition().GetLatitude(), 1e-5)
	assert.InDelta(t, 3.0588, vp.GetPosition().GetLongitude(), 1e-5)
	assert.InDelta(t, 10.0, vp.GetPosition().GetSpeed(), 1e-5, "km/h exported as m/s")
	assert.Equal(t, uint64(fix.Unix()), vp.GetTimestamp())
}

func TestVehiclePositions_EmptyFleet(t *testing.T) {
	msg := VehiclePositions(&fleet.Snapshot{}, time.Unix(1700000000, 0))
	assert.Empty(t, msg.GetEntity())
	assert.Equal(t, uint64(1700000000), msg.GetHeader().GetTimestamp())
}

func TestVehiclePositions_FallsBackToLastUpdated(t *testing.T) {
	updated := time.Unix(1700000100, 0)
	msg := VehiclePositions(&fleet.Snapshot{Buses: []models.Bus{
		{ID: "b1", Status: models.StatusOnRoad, LastUpdated: updated},
	}}, time.Unix(1700000200, 0))

	require.Len(t, msg.GetEntity(), 1)
	assert.Equal(t, uint64(1700000100), msg.GetEntity()[0].GetVehicle().GetTimestamp())
}
