package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/database"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// PostgresStore keeps annotations in federation_table_annotations.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore on an open store database.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert creates or replaces the annotation of a table. UpdatedAt is set
// from the database clock.
func (s *PostgresStore) Upsert(ctx context.Context, catalog, db, table string, a *models.TableAnnotation) error {
	props := a.Properties
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal annotation properties: %w", err)
	}

	query := `
		INSERT INTO federation_table_annotations (
			catalog_name, db_name, table_name, description, owner, properties
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (catalog_name, db_name, table_name)
		DO UPDATE SET
			description = EXCLUDED.description,
			owner = EXCLUDED.owner,
			properties = EXCLUDED.properties,
			updated_at = now()
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		strings.ToLower(catalog), db, table, a.Description, a.Owner, propsJSON,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert table annotation: %w", err)
	}
	return nil
}

// Get returns the annotation of a table, or apperrors.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, catalog, db, table string) (*models.TableAnnotation, error) {
	query := `
		SELECT description, owner, properties, updated_at
		FROM federation_table_annotations
		WHERE catalog_name = $1 AND db_name = $2 AND table_name = $3`

	var a models.TableAnnotation
	var propsJSON []byte
	err := s.db.QueryRow(ctx, query, strings.ToLower(catalog), db, table).
		Scan(&a.Description, &a.Owner, &propsJSON, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get table annotation: %w", err)
	}

	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &a.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal annotation properties: %w", err)
		}
	}
	return &a, nil
}

// Delete removes the annotation of a table. Deleting a missing annotation
// is not an error.
func (s *PostgresStore) Delete(ctx context.Context, catalog, db, table string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM federation_table_annotations
		WHERE catalog_name = $1 AND db_name = $2 AND table_name = $3`,
		strings.ToLower(catalog), db, table)
	if err != nil {
		return fmt.Errorf("failed to delete table annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Annotate(ctx context.Context, catalog, db string, table *models.Table) error {
	if table == nil {
		return nil
	}
	a, err := s.Get(ctx, catalog, db, table.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	table.Annotation = a
	return nil
}

var _ Store = (*PostgresStore)(nil)
