package shared

import (
	"fmt"
	"hash/fnv"
)

// StockLockKey derives the pg_advisory_xact_lock key guarding a product/warehouse stock row.
// The advisory lock covers rows that do not exist yet, which SELECT ... FOR UPDATE cannot.
func StockLockKey(productUUID, warehouseUUID string) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "stock:%s:%s", productUUID, warehouseUUID)
	return int64(h.Sum64())
}
