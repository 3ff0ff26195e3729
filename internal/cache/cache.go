package cache

import (
	"time"

	"github.com/ppiankov/finverify/internal/model"
)

// Cache holds whole snapshot sets per entity. Sets are cached and invalidated
// as a unit so a reader never mixes snapshots from two refreshes.
type Cache interface {
	Get(entity string) (map[string]model.MetricSnapshot, bool)
	Set(entity string, snapshots map[string]model.MetricSnapshot, ttl time.Duration)
	Invalidate(entity string)
	Clear()
}

// CacheKey namespaces an entity for the backing cache
func CacheKey(entity string) string {
	return "finverify:v1:snapshots:" + entity
}
