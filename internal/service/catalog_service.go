package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/store"
	"tool-rental-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const featuredToolsLimit = 6

// CatalogService serves the tool catalog and its admin edit path
type CatalogService struct {
	store  CatalogStore
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// ToolInput holds the admin-editable tool fields
type ToolInput struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	CategoryID    string          `json:"category_id" binding:"required"`
	DailyRate     decimal.Decimal `json:"daily_rate"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	ImageURL      *string         `json:"image_url,omitempty"`
	LockID        *string         `json:"lock_id,omitempty"`
	IsFeatured    bool            `json:"is_featured"`
}

func (in *ToolInput) validate() (string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if in.CategoryID == "" {
		return "", fmt.Errorf("%w: category is required", models.ErrValidation)
	}
	if in.DailyRate.IsNegative() || in.DepositAmount.IsNegative() {
		return "", fmt.Errorf("%w: prices must not be negative", models.ErrValidation)
	}
	slug := Slugify(in.Name)
	if slug == "" {
		return "", fmt.Errorf("%w: name must contain letters or digits", models.ErrValidation)
	}
	return slug, nil
}

var (
	slugStrip  = regexp.MustCompile(`[^\w\s-]`)
	slugSpace  = regexp.MustCompile(`[\s_]+`)
	slugHyphen = regexp.MustCompile(`-+`)
)

// Slugify derives a URL-safe slug from a tool name
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ListCategories returns every category
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// ListTools returns active tools, optionally in one category
func (s *CatalogService) ListTools(ctx context.Context, categorySlug string) ([]models.Tool, error) {
	return s.store.ListTools(ctx, store.ToolFilter{CategorySlug: categorySlug})
}

// FeaturedTools returns the newest featured tools for the landing page
func (s *CatalogService) FeaturedTools(ctx context.Context) ([]models.Tool, error) {
	return s.store.ListTools(ctx, store.ToolFilter{FeaturedOnly: true, Limit: featuredToolsLimit})
}

// GetTool returns an active tool by slug
func (s *CatalogService) GetTool(ctx context.Context, slug string) (*models.Tool, error) {
	return s.store.GetToolBySlug(ctx, slug)
}

// GetToolByID returns any tool, active or not
func (s *CatalogService) GetToolByID(ctx context.Context, id string) (*models.Tool, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.store.GetToolByID(ctx, id)
}

// CreateTool adds a tool to the catalog
func (s *CatalogService) CreateTool(ctx context.Context, in *ToolInput) (*models.Tool, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	slug, err := in.validate()
	if err != nil {
		return nil, err
	}

	tool := &models.Tool{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(in.Name),
		Slug:          slug,
		Description:   in.Description,
		CategoryID:    in.CategoryID,
		DailyRate:     in.DailyRate,
		DepositAmount: in.DepositAmount,
		ImageURL:      in.ImageURL,
		LockID:        in.LockID,
		IsActive:      true,
		IsFeatured:    in.IsFeatured,
	}
	if err := s.store.CreateTool(ctx, tool); err != nil {
		return nil, err
	}

	s.logger.Info("Tool created", zap.String("tool_id", tool.ID), zap.String("slug", tool.Slug))
	return tool, nil
}

// UpdateTool edits a tool; the slug follows the name
func (s *CatalogService) UpdateTool(ctx context.Context, id string, in *ToolInput) (*models.Tool, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	slug, err := in.validate()
	if err != nil {
		return nil, err
	}

	tool, err := s.store.GetToolByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tool.Name = strings.TrimSpace(in.Name)
	tool.Slug = slug
	tool.Description = in.Description
	tool.CategoryID = in.CategoryID
	tool.DailyRate = in.DailyRate
	tool.DepositAmount = in.DepositAmount
	tool.ImageURL = in.ImageURL
	tool.LockID = in.LockID

	if err := s.store.UpdateTool(ctx, tool); err != nil {
		return nil, err
	}
	if tool.IsFeatured != in.IsFeatured {
		if err := s.store.SetToolFeatured(ctx, id, in.IsFeatured); err != nil {
			return nil, err
		}
		tool.IsFeatured = in.IsFeatured
	}

	s.logger.Info("Tool updated", zap.String("tool_id", id))
	return tool, nil
}

// SetFeatured toggles whether a tool shows on the landing page
func (s *CatalogService) SetFeatured(ctx context.Context, id string, featured bool) error {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	return s.store.SetToolFeatured(ctx, id, featured)
}

// DeleteTool deactivates a tool. Tools with active bookings are kept.
func (s *CatalogService) DeleteTool(ctx context.Context, id string) error {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return err
	}
	if err := s.store.DeactivateTool(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Tool deactivated", zap.String("tool_id", id))
	return nil
}
