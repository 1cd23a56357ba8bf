package models

import "strings"

// Category is one value of the fixed provider taxonomy. Providers
// reference categories by value; the taxonomy is re-seeded into storage
// on every refresh cycle.
type Category string

const (
	CategoryGeneralPractitioner Category = "general_practitioner"
	CategoryPediatrician        Category = "pediatrician"
	CategoryDentist             Category = "dentist"
	CategoryGynecologist        Category = "gynecologist"
	CategoryPharmacy            Category = "pharmacy"
)

// Taxonomy returns the full fixed category set in seed order.
func Taxonomy() []Category {
	return []Category{
		CategoryGeneralPractitioner,
		CategoryPediatrician,
		CategoryDentist,
		CategoryGynecologist,
		CategoryPharmacy,
	}
}

// categorySeparator joins multiple category values into the single
// storage column holding them.
const categorySeparator = "|"

// JoinCategories flattens categories into the pipe-separated storage form.
func JoinCategories(categories []Category) string {
	if len(categories) == 0 {
		return ""
	}
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, categorySeparator)
}

// SplitCategories parses the pipe-separated storage form back into values.
func SplitCategories(joined string) []Category {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, categorySeparator)
	categories := make([]Category, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			categories = append(categories, Category(p))
		}
	}
	return categories
}
