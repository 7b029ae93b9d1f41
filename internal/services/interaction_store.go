package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/pkg/models"
)

// PostgresInteractionStore reads the purchase log from the warehouse.
type PostgresInteractionStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresInteractionStore(db DatabaseQuerier, logger *logrus.Logger) *PostgresInteractionStore {
	return &PostgresInteractionStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresInteractionStore) GetRecentPurchases(ctx context.Context, userID string, limit int) ([]models.RecentPurchase, error) {
	query := `
		SELECT p.item_id, p.purchased_at, COALESCE(i.category, ''), COALESCE(i.price, 0), p.quantity, p.amount
		FROM purchases p
		LEFT JOIN items i ON i.item_id = p.item_id
		WHERE p.user_id = $1
		ORDER BY p.purchased_at DESC, p.item_id ASC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent purchases query failed: %w", err)
	}
	defer rows.Close()

	var purchases []models.RecentPurchase
	for rows.Next() {
		var p models.RecentPurchase
		if err := rows.Scan(&p.ItemID, &p.PurchasedAt, &p.Category, &p.Price, &p.Quantity, &p.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan recent purchase: %w", err)
		}
		purchases = append(purchases, p)
	}

	return purchases, rows.Err()
}

func (s *PostgresInteractionStore) GetPurchasedItems(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT item_id
		FROM purchases
		WHERE user_id = $1
		ORDER BY item_id
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("purchased items query failed: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("failed to scan purchased item: %w", err)
		}
		items = append(items, itemID)
	}

	return items, rows.Err()
}

func (s *PostgresInteractionStore) GetInteractionsSince(ctx context.Context, since time.Time) ([]models.InteractionEvent, error) {
	query := `
		SELECT user_id, item_id, purchased_at, quantity, amount
		FROM purchases
		WHERE purchased_at >= $1
		ORDER BY user_id, purchased_at
	`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("interaction log query failed: %w", err)
	}
	defer rows.Close()

	var events []models.InteractionEvent
	for rows.Next() {
		var e models.InteractionEvent
		if err := rows.Scan(&e.UserID, &e.ItemID, &e.Timestamp, &e.Quantity, &e.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"since":  since,
		"events": len(events),
	}).Debug("Loaded interaction log")

	return events, nil
}
