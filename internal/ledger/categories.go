package ledger

import (
	"context"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// CategoryService manages categories and their nested sub-categories.
type CategoryService struct {
	*Repo[model.Category, *model.Category]
}

// NewCategoryService creates the category service.
func NewCategoryService(store service.DocumentStore, bus *events.Bus, clock service.Clock) *CategoryService {
	repo := NewRepo[model.Category](store, model.CollectionCategories, bus, clock)
	repo.validate = validateCategory
	return &CategoryService{Repo: repo}
}

func validateCategory(c *model.Category) error {
	if err := requireName(c.Name); err != nil {
		return err
	}
	if c.Type != model.CategoryTypeIncome && c.Type != model.CategoryTypeExpense {
		return common.Invalid("type", "must be INCOME or EXPENSE")
	}

	seen := make(map[string]bool, len(c.SubCategories))
	for i := range c.SubCategories {
		sub := &c.SubCategories[i]
		if sub.ID == "" {
			sub.ID = NewID()
		}
		if seen[sub.ID] {
			return common.Invalid("subCategories", "ids must be unique within a category")
		}
		seen[sub.ID] = true
		if err := requireName(sub.Name); err != nil {
			return err
		}
	}
	return nil
}

// AddSubCategory appends a sub-category with a fresh id.
func (s *CategoryService) AddSubCategory(ctx context.Context, categoryID, name string) (*model.Category, error) {
	category, err := s.GetByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, common.Invalid("categoryId", "does not exist")
	}
	category.SubCategories = append(category.SubCategories, model.SubCategory{ID: NewID(), Name: name})
	return s.Save(ctx, category)
}

// RemoveSubCategory drops a sub-category by id.
func (s *CategoryService) RemoveSubCategory(ctx context.Context, categoryID, subID string) (*model.Category, error) {
	category, err := s.GetByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, common.Invalid("categoryId", "does not exist")
	}
	kept := category.SubCategories[:0]
	for _, sub := range category.SubCategories {
		if sub.ID != subID {
			kept = append(kept, sub)
		}
	}
	category.SubCategories = kept
	return s.Save(ctx, category)
}
