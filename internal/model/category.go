package model

// CategoryType indicates whether a category is for income or expense.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for income transactions.
	CategoryTypeIncome CategoryType = "INCOME"
	// CategoryTypeExpense represents categories for expense transactions.
	CategoryTypeExpense CategoryType = "EXPENSE"
)

// SubCategory is nested inside its Category document.
type SubCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category groups transactions. Sub-category ids are unique within a category.
type Category struct {
	Meta
	Name          string        `json:"name"`
	Type          CategoryType  `json:"type"`
	Color         string        `json:"color,omitempty"`
	SubCategories []SubCategory `json:"subCategories"`
}
