package contracts

// Exchanges
const (
	ExchangeVehicleFanout = "vehicle_fanout" // live position broadcast
	ExchangeTripTopic     = "trip_topic"     // trip lifecycle events
)

// Queues
const (
	QueueConsensusBatch = "consensus_batch" // route ids whose pending traces hit the threshold
	QueueTripEvents     = "trip_events"     // durable trip lifecycle log
)

// Routing patterns
const (
	RouteTripStartedPrefix = "trip.started." // {trip_id}
	RouteTripEndedPrefix   = "trip.ended."   // {trip_id}
	RouteConsensusKey      = "consensus.run"
)
