package booking

import (
	"slices"

	"freezy-bot/internal/models"
)

// PickSlot keeps prev when the new list still offers it, otherwise falls
// back to the first slot, or to nothing.
func PickSlot(prev string, slots []string) string {
	if prev != "" && slices.Contains(slots, prev) {
		return prev
	}
	if len(slots) > 0 {
		return slots[0]
	}
	return ""
}

// OfferableSlots hides every slot once the quota is known to be used up.
// A nil quota means it has not loaded and does not gate anything.
func OfferableSlots(slots []string, quota *models.InterventionQuota) []string {
	if quota != nil && quota.Exhausted() {
		return nil
	}
	return slices.Clone(slots)
}
