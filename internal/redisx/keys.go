package redisx

import "time"

const (
	// Idempotent create order: idem:order:create:{Idempotency-Key} -> "pending" | order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Stock projection per product: hash stock:{product_id} {stock, version, updated_at, deleted}
	KeyStock = "stock:%d"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	TTLTombstone   = 48 * time.Hour
)
