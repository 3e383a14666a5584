package catalog

import (
	"strings"
	"time"

	"github.com/shivam349/codex1/internal/apperr"
)

// Category is the fixed product classification.
type Category string

const (
	CategoryPremium   Category = "premium"
	CategoryStandard  Category = "standard"
	CategoryOrganic   Category = "organic"
	CategoryFlavoured Category = "flavoured"
)

// Categories lists every accepted category.
var Categories = []Category{CategoryPremium, CategoryStandard, CategoryOrganic, CategoryFlavoured}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

const (
	DefaultRating = 5.0
	DefaultWeight = "250g"
	DefaultOrigin = "Mithila, India"
	MaxRating     = 5.0
)

// Product is the item stored in the products table.
type Product struct {
	ID             string    `json:"id" dynamodbav:"product_id"` // PK
	Name           string    `json:"name" dynamodbav:"name"`
	Description    string    `json:"description" dynamodbav:"description"`
	Price          float64   `json:"price" dynamodbav:"price"`
	CompareAtPrice *float64  `json:"compareAtPrice,omitempty" dynamodbav:"compare_at_price,omitempty"`
	Category       Category  `json:"category" dynamodbav:"category"`
	Stock          int       `json:"stock" dynamodbav:"stock"`
	InStock        bool      `json:"inStock" dynamodbav:"-"` // derived from Stock on every read
	Featured       bool      `json:"featured" dynamodbav:"featured"`
	Rating         float64   `json:"rating" dynamodbav:"rating"`
	Reviews        int       `json:"reviews" dynamodbav:"reviews"`
	Image          string    `json:"image" dynamodbav:"image"`
	Images         []string  `json:"images" dynamodbav:"images,omitempty"`
	Weight         string    `json:"weight" dynamodbav:"weight"`
	Origin         string    `json:"origin" dynamodbav:"origin"`
	CreatedAt      time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// NewProduct holds the fields accepted on creation. Nil pointers mean "not supplied".
type NewProduct struct {
	Name           string
	Description    string
	Price          *float64
	CompareAtPrice *float64
	Category       Category
	Stock          int
	Featured       bool
	Rating         *float64
	Reviews        int
	Image          string
	Images         []string
	Weight         string
	Origin         string
}

// Patch is a partial update. A nil field keeps the stored value; a non-nil
// field is written even when it holds a zero value.
type Patch struct {
	Name           *string
	Description    *string
	Price          *float64
	CompareAtPrice *float64
	Category       *Category
	Stock          *int
	Featured       *bool
	Rating         *float64
	Reviews        *int
	Image          *string
	Images         *[]string
	Weight         *string
	Origin         *string
}

// Apply overwrites the supplied fields of p.
func (pt Patch) Apply(p *Product) {
	if pt.Name != nil {
		p.Name = *pt.Name
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.Price != nil {
		p.Price = *pt.Price
	}
	if pt.CompareAtPrice != nil {
		v := *pt.CompareAtPrice
		p.CompareAtPrice = &v
	}
	if pt.Category != nil {
		p.Category = *pt.Category
	}
	if pt.Stock != nil {
		p.Stock = *pt.Stock
	}
	if pt.Featured != nil {
		p.Featured = *pt.Featured
	}
	if pt.Rating != nil {
		p.Rating = *pt.Rating
	}
	if pt.Reviews != nil {
		p.Reviews = *pt.Reviews
	}
	if pt.Image != nil {
		p.Image = *pt.Image
	}
	if pt.Images != nil {
		p.Images = append([]string(nil), (*pt.Images)...)
	}
	if pt.Weight != nil {
		p.Weight = *pt.Weight
	}
	if pt.Origin != nil {
		p.Origin = *pt.Origin
	}
}

// Empty reports whether no field was supplied.
func (pt Patch) Empty() bool {
	return pt == Patch{}
}

// Validate checks the product invariants.
func Validate(p Product) error {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if p.Category == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(p.Image) == "" {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: " + strings.Join(missing, ", "))
	}
	switch {
	case !p.Category.Valid():
		return apperr.Newf(apperr.KindValidation, "category must be one of %s", joinCategories())
	case p.Price < 0:
		return apperr.Validation("price must not be negative")
	case p.CompareAtPrice != nil && *p.CompareAtPrice < 0:
		return apperr.Validation("compareAtPrice must not be negative")
	case p.Stock < 0:
		return apperr.Validation("stock must not be negative")
	case p.Rating < 0 || p.Rating > MaxRating:
		return apperr.Newf(apperr.KindValidation, "rating must be between 0 and %g", MaxRating)
	case p.Reviews < 0:
		return apperr.Validation("reviews must not be negative")
	}
	return nil
}

func joinCategories() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// Filter narrows List. Nil or empty fields impose no constraint.
type Filter struct {
	Category Category
	Featured *bool
	InStock  *bool
}

func (f Filter) match(p Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Featured != nil && p.Featured != *f.Featured {
		return false
	}
	if f.InStock != nil && p.InStock != *f.InStock {
		return false
	}
	return true
}

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page selects a 1-based offset page. Zero values take the defaults.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() (Page, error) {
	if p.Page < 0 || p.PageSize < 0 {
		return Page{}, apperr.Validation("page and limit must be positive integers")
	}
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p, nil
}

// ListResult is one page of products plus the counts the API envelope needs.
type ListResult struct {
	Items    []Product
	Total    int
	Page     int
	PageSize int
	Pages    int
}
