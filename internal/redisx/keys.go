package redisx

import "time"

const (
	// Cache status order: hash checkout:order_status:{order_id} -> {version, body}
	KeyOrderStatus = "checkout:order_status:%s"

	// Dedup: dedup:{scope}:{id} (scope = webhook:gateway-a, projector, ...)
	KeyDedup = "dedup:%s:%s"

	// Lease supaya cuma satu replica yang sweep per tick
	KeySweeperLock = "lock:checkout:sweeper"
)

var (
	TTLStatusCache = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
