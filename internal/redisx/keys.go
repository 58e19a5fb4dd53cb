package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Snapshot counter aggregator terakhir (dibaca API buat GET /stats)
	KeyStatsSnapshot = "stats:snapshot"

	// Channel pub/sub buat frame broadcaster (EVENT | STATS_UPDATE)
	ChannelFrames = "saga:frames"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLSnapshot    = time.Hour
)
