package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/models"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Postgres SQLSTATE codes the store translates into domain errors
const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
	pqCheckViolation     = "23514"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store on an instrumented postgres driver
func NewStore(databaseURL string) (*Store, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql driver: %w", err)
	}

	db, err := sqlx.Connect(driverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// otelsql wraps the driver under a generated name; keep $n bind vars.
	db = sqlx.NewDb(db.DB, "postgres")

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the connection for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListCategories retrieves all categories ordered by name
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT id, name, slug, description, created_at FROM categories ORDER BY name")
	return categories, err
}

const toolColumns = `t.id, t.name, t.slug, t.description, t.category_id, t.daily_rate, t.deposit_amount,
	t.image_url, t.lock_id, t.is_active, t.is_featured, t.created_at, t.updated_at`

// GetToolBySlug retrieves an active tool by slug
func (s *Store) GetToolBySlug(ctx context.Context, slug string) (*models.Tool, error) {
	var tool models.Tool
	err := s.db.GetContext(ctx, &tool,
		"SELECT "+toolColumns+" FROM tools t WHERE t.slug = $1 AND t.is_active = TRUE", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool %q: %w", slug, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tool, nil
}

// GetToolByID retrieves a tool by ID, active or not
func (s *Store) GetToolByID(ctx context.Context, id string) (*models.Tool, error) {
	var tool models.Tool
	err := s.db.GetContext(ctx, &tool,
		"SELECT "+toolColumns+" FROM tools t WHERE t.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tool, nil
}

// ToolFilter narrows catalog listings
type ToolFilter struct {
	CategorySlug string
	FeaturedOnly bool
	Limit        int
}

// ListTools retrieves active tools, newest first
func (s *Store) ListTools(ctx context.Context, f ToolFilter) ([]models.Tool, error) {
	query := "SELECT " + toolColumns + " FROM tools t JOIN categories c ON c.id = t.category_id WHERE t.is_active = TRUE"
	args := []interface{}{}

	if f.CategorySlug != "" {
		args = append(args, f.CategorySlug)
		query += fmt.Sprintf(" AND c.slug = $%d", len(args))
	}
	if f.FeaturedOnly {
		query += " AND t.is_featured = TRUE"
	}
	query += " ORDER BY t.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	tools := []models.Tool{}
	err := s.db.SelectContext(ctx, &tools, query, args...)
	return tools, err
}

// CreateTool inserts a tool; a duplicate slug is a conflict
func (s *Store) CreateTool(ctx context.Context, tool *models.Tool) error {
	query := `
		INSERT INTO tools (id, name, slug, description, category_id, daily_rate, deposit_amount, image_url, lock_id, is_active, is_featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		tool.ID, tool.Name, tool.Slug, tool.Description, tool.CategoryID, tool.DailyRate, tool.DepositAmount,
		tool.ImageURL, tool.LockID, tool.IsActive, tool.IsFeatured,
	).Scan(&tool.CreatedAt, &tool.UpdatedAt)
	return mapError(err, "create tool")
}

// UpdateTool updates the editable tool fields
func (s *Store) UpdateTool(ctx context.Context, tool *models.Tool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tools
		SET name = $1, slug = $2, description = $3, category_id = $4, daily_rate = $5, deposit_amount = $6,
		    image_url = $7, lock_id = $8, updated_at = NOW()
		WHERE id = $9`,
		tool.Name, tool.Slug, tool.Description, tool.CategoryID, tool.DailyRate, tool.DepositAmount,
		tool.ImageURL, tool.LockID, tool.ID)
	if err != nil {
		return mapError(err, "update tool")
	}
	return requireAffected(res, "tool "+tool.ID)
}

// SetToolFeatured toggles the featured flag
func (s *Store) SetToolFeatured(ctx context.Context, id string, featured bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tools SET is_featured = $1, updated_at = NOW() WHERE id = $2", featured, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "tool "+id)
}

// DeactivateTool soft deletes a tool unless it still has active bookings.
// The tool row is locked so a concurrent booking insert cannot slip in.
func (s *Store) DeactivateTool(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		"SELECT TRUE FROM tools WHERE id = $1 FOR UPDATE", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("tool %s: %w", id, models.ErrNotFound)
		}
		return err
	}

	var active int
	if err := tx.GetContext(ctx, &active,
		"SELECT COUNT(*) FROM bookings WHERE tool_id = $1 AND status = ANY($2)",
		id, pq.Array(models.StatusStrings(models.ActiveStatuses))); err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: cannot delete tool with %d active booking(s)", models.ErrConflict, active)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE tools SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id); err != nil {
		return err
	}

	return tx.Commit()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}

// mapError translates constraint violations into domain errors
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			if pqErr.Constraint == "bookings_payment_intent_id_key" {
				return fmt.Errorf("%s: payment intent already correlated: %w", op, models.ErrIntegrityViolation)
			}
			return fmt.Errorf("%s: %s: %w", op, pqErr.Constraint, models.ErrConflict)
		case pqExclusionViolation:
			return fmt.Errorf("%s: overlapping live booking: %w", op, models.ErrIntegrityViolation)
		case pqCheckViolation:
			return fmt.Errorf("%s: %s: %w", op, pqErr.Constraint, models.ErrValidation)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
