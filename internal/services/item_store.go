package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/pkg/models"
)

const itemColumns = `item_id, COALESCE(title, ''), COALESCE(category, ''), COALESCE(brand, ''),
		COALESCE(style, ''), COALESCE(color, ''), COALESCE(size, ''), COALESCE(material, ''),
		COALESCE(gender, ''), COALESCE(price, 0), rating, COALESCE(tags, '{}'),
		COALESCE(popularity_30d, 0), is_active`

// PostgresItemStore reads item attributes from the catalog tables.
type PostgresItemStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresItemStore(db DatabaseQuerier, logger *logrus.Logger) *PostgresItemStore {
	return &PostgresItemStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresItemStore) GetItemAttributes(ctx context.Context, itemIDs []string) (map[string]models.Item, error) {
	if len(itemIDs) == 0 {
		return map[string]models.Item{}, nil
	}

	query := `SELECT ` + itemColumns + `
		FROM items
		WHERE item_id = ANY($1)
	`

	rows, err := s.db.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("item attributes query failed: %w", err)
	}
	defer rows.Close()

	items := make(map[string]models.Item, len(itemIDs))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = item
	}

	return items, rows.Err()
}

func (s *PostgresItemStore) ListActiveItems(ctx context.Context) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + `
		FROM items
		WHERE is_active = true
		ORDER BY item_id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("active items query failed: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.WithField("items", len(items)).Debug("Loaded active catalog")
	return items, nil
}

func scanItem(rows pgx.Rows) (models.Item, error) {
	var item models.Item
	err := rows.Scan(
		&item.ID, &item.Title, &item.Category, &item.Brand,
		&item.Style, &item.Color, &item.Size, &item.Material,
		&item.Gender, &item.Price, &item.Rating, &item.Tags,
		&item.Popularity, &item.Active,
	)
	if err != nil {
		return item, fmt.Errorf("failed to scan item: %w", err)
	}
	return item, nil
}
