package models

import "time"

// Item is a catalog entry as seen by the similarity builders. Items are
// immutable within one index generation.
type Item struct {
	ID         string   `json:"item_id"`
	Title      string   `json:"title,omitempty"`
	Category   string   `json:"category"`
	Brand      string   `json:"brand"`
	Style      string   `json:"style,omitempty"`
	Color      string   `json:"color,omitempty"`
	Size       string   `json:"size,omitempty"`
	Material   string   `json:"material,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	Price      float64  `json:"price"`
	Rating     *float64 `json:"rating,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Popularity float64  `json:"popularity"`
	Active     bool     `json:"active"`
}

const (
	UnknownAttribute = "unknown"
	DefaultRating    = 2.5
)

// RatingOrDefault returns the item rating, or DefaultRating when the catalog
// has none recorded.
func (i Item) RatingOrDefault() float64 {
	if i.Rating == nil {
		return DefaultRating
	}
	return *i.Rating
}

// Attribute values with blanks replaced by UnknownAttribute, in the fixed
// order brand, category, style, color, size, material, gender.
func (i Item) CategoricalAttributes() [7]string {
	attrs := [7]string{i.Brand, i.Category, i.Style, i.Color, i.Size, i.Material, i.Gender}
	for idx, v := range attrs {
		if v == "" {
			attrs[idx] = UnknownAttribute
		}
	}
	return attrs
}

// InteractionEvent is a single purchase line from the interaction log.
type InteractionEvent struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
	Quantity  int       `json:"quantity"`
	Amount    float64   `json:"amount"`
}

// RecentPurchase is one anchor purchase used by candidate generation.
type RecentPurchase struct {
	ItemID      string    `json:"item_id"`
	PurchasedAt time.Time `json:"purchased_at"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Quantity    int       `json:"quantity"`
	Amount      float64   `json:"amount"`
}

// UserItemPair is one row of the binary user x item purchase matrix.
type UserItemPair struct {
	UserID string
	ItemID string
}
