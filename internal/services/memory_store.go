package services

import (
	"context"
	"sort"
	"time"

	"github.com/temcen/fusionrec/pkg/models"
)

// MemoryCatalog is an in-process InteractionStore and ItemFeatureStore over
// a fixed event log and item set. Offline evaluation uses it to replay
// history as of a cutoff.
type MemoryCatalog struct {
	items  map[string]models.Item
	byUser map[string][]models.InteractionEvent
	events []models.InteractionEvent
}

func NewMemoryCatalog(items []models.Item, events []models.InteractionEvent) *MemoryCatalog {
	c := &MemoryCatalog{
		items:  make(map[string]models.Item, len(items)),
		byUser: make(map[string][]models.InteractionEvent),
		events: make([]models.InteractionEvent, len(events)),
	}
	for _, item := range items {
		c.items[item.ID] = item
	}
	copy(c.events, events)
	sort.SliceStable(c.events, func(i, j int) bool {
		return c.events[i].Timestamp.Before(c.events[j].Timestamp)
	})
	for _, e := range c.events {
		c.byUser[e.UserID] = append(c.byUser[e.UserID], e)
	}
	return c
}

func (c *MemoryCatalog) GetRecentPurchases(_ context.Context, userID string, limit int) ([]models.RecentPurchase, error) {
	history := c.byUser[userID]
	ordered := make([]models.InteractionEvent, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.After(ordered[j].Timestamp)
		}
		return ordered[i].ItemID < ordered[j].ItemID
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	purchases := make([]models.RecentPurchase, 0, len(ordered))
	for _, e := range ordered {
		item := c.items[e.ItemID]
		purchases = append(purchases, models.RecentPurchase{
			ItemID:      e.ItemID,
			PurchasedAt: e.Timestamp,
			Category:    item.Category,
			Price:       item.Price,
			Quantity:    e.Quantity,
			Amount:      e.Amount,
		})
	}
	return purchases, nil
}

func (c *MemoryCatalog) GetPurchasedItems(_ context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	var items []string
	for _, e := range c.byUser[userID] {
		if _, ok := seen[e.ItemID]; ok {
			continue
		}
		seen[e.ItemID] = struct{}{}
		items = append(items, e.ItemID)
	}
	sort.Strings(items)
	return items, nil
}

func (c *MemoryCatalog) GetInteractionsSince(_ context.Context, since time.Time) ([]models.InteractionEvent, error) {
	idx := sort.Search(len(c.events), func(i int) bool {
		return !c.events[i].Timestamp.Before(since)
	})
	out := make([]models.InteractionEvent, len(c.events)-idx)
	copy(out, c.events[idx:])
	return out, nil
}

func (c *MemoryCatalog) GetItemAttributes(_ context.Context, itemIDs []string) (map[string]models.Item, error) {
	out := make(map[string]models.Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := c.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (c *MemoryCatalog) ListActiveItems(_ context.Context) ([]models.Item, error) {
	var items []models.Item
	for _, item := range c.items {
		if item.Active {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Before returns a catalog restricted to events strictly before cutoff.
func (c *MemoryCatalog) Before(cutoff time.Time) *MemoryCatalog {
	idx := sort.Search(len(c.events), func(i int) bool {
		return !c.events[i].Timestamp.Before(cutoff)
	})
	items := make([]models.Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	return NewMemoryCatalog(items, c.events[:idx])
}

func (c *MemoryCatalog) purchased(userID string) map[string]struct{} {
	out := make(map[string]struct{}, len(c.byUser[userID]))
	for _, e := range c.byUser[userID] {
		out[e.ItemID] = struct{}{}
	}
	return out
}
