package redisx

import (
	"fmt"
	"time"
)

const (
	// idem:order:create:{idempotency key} -> order id
	keyIdemOrderCreate = "idem:order:create:%s"

	// dedup:{service}:{event id}
	keyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreateKey(key string) string { return fmt.Sprintf(keyIdemOrderCreate, key) }

func DedupKey(service, id string) string { return fmt.Sprintf(keyDedup, service, id) }
