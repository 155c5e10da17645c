package outbox

import "example.com/ridesync/internal/platform/events"

const rideUpsertedSchema = `{
  "type": "object",
  "title": "RideUpserted",
  "properties": {
    "ride_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string", "enum": ["strava", "rwgps"]},
    "provider_ride_id": {"type": "string"},
    "start_date": {"type": "string", "format": "date-time"},
    "distance_m": {"type": "number", "minimum": 0},
    "moving_time_s": {"type": "integer", "minimum": 0},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["ride_id", "user_id", "provider", "provider_ride_id", "start_date", "distance_m", "moving_time_s", "updated_at"],
  "additionalProperties": false
}`

const componentUsageRecalculatedSchema = `{
  "type": "object",
  "title": "ComponentUsageRecalculated",
  "properties": {
    "component_id": {"type": "string"},
    "user_id": {"type": "string"},
    "total_rides": {"type": "integer", "minimum": 0},
    "total_distance_m": {"type": "number", "minimum": 0},
    "total_time_s": {"type": "integer", "minimum": 0},
    "updated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["component_id", "user_id", "total_rides", "total_distance_m", "total_time_s", "updated_at"],
  "additionalProperties": false
}`

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "rides_added": {"type": "integer"},
    "rides_updated": {"type": "integer"},
    "duplicates_skipped": {"type": "integer"},
    "reconciled": {"type": "integer"},
    "flagged": {"type": "integer"},
    "malformed": {"type": "integer"},
    "error": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "provider", "occurred_at"],
  "additionalProperties": false
}`

// schemaCatalog maps event types to the JSON schema registered for their subject.
var schemaCatalog = map[string]string{
	events.TypeRideUpserted:               rideUpsertedSchema,
	events.TypeComponentUsageRecalculated: componentUsageRecalculatedSchema,
	events.TypeSyncCompleted:              syncCompletedSchema,
}
