// Package lockkey derives deterministic string keys identifying contended
// resources. Equal inputs always produce equal keys; the resource class
// prefix keeps tables and offerings from ever colliding.
package lockkey

import (
	"fmt"
	"strings"
	"time"
)

// SlotGranularity is the coarsest unit a slot timestamp is rounded to
// before it enters a key, so callers quoting the same slot with
// second-level jitter still contend on the same resource.
const SlotGranularity = time.Minute

// ForTable derives the lock key for a physical table at a given slot.
func ForTable(businessID, tableID string, slot time.Time) string {
	return build("table", businessID, tableID, slot)
}

// ForOffering derives the lock key for a bookable offering (a rental
// unit, a service appointment) at a given slot.
func ForOffering(businessID, offeringID string, slot time.Time) string {
	return build("offering", businessID, offeringID, slot)
}

func build(class, businessID, resourceID string, slot time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		class,
		normalize(businessID),
		normalize(resourceID),
		slot.UTC().Truncate(SlotGranularity).Format("2006-01-02T15:04"),
	)
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
