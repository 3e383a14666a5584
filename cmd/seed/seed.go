package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/catalog"
)

func price(v float64) *float64 { return &v }

// demoProducts is the starter catalogue.
var demoProducts = []catalog.NewProduct{
	{
		Name:        "Premium Makhana",
		Description: "Hand-picked, extra large fox nuts from the ponds of Mithila.",
		Price:       price(299),
		Category:    catalog.CategoryPremium,
		Stock:       100,
		Featured:    true,
		Image:       "/images/premium-makhana.jpg",
	},
	{
		Name:        "Organic Makhana",
		Description: "Certified organic makhana, grown without pesticides.",
		Price:       price(349),
		Category:    catalog.CategoryOrganic,
		Stock:       80,
		Featured:    true,
		Image:       "/images/organic-makhana.jpg",
	},
	{
		Name:        "Roasted Makhana",
		Description: "Lightly roasted in ghee with a pinch of rock salt.",
		Price:       price(249),
		Category:    catalog.CategoryStandard,
		Stock:       120,
		Image:       "/images/roasted-makhana.jpg",
	},
	{
		Name:        "Masala Makhana",
		Description: "Roasted makhana tossed in a house blend of Indian spices.",
		Price:       price(279),
		Category:    catalog.CategoryFlavoured,
		Stock:       90,
		Featured:    true,
		Image:       "/images/masala-makhana.jpg",
	},
	{
		Name:        "Peri Peri Makhana",
		Description: "Tangy and hot peri peri seasoning.",
		Price:       price(299),
		Category:    catalog.CategoryFlavoured,
		Stock:       70,
		Image:       "/images/peri-peri-makhana.jpg",
	},
	{
		Name:        "Cheese & Herbs Makhana",
		Description: "Cheddar and mixed herbs on crunchy roasted makhana.",
		Price:       price(329),
		Category:    catalog.CategoryFlavoured,
		Stock:       60,
		Image:       "/images/cheese-herbs-makhana.jpg",
	},
}

// productCatalog is the slice of catalog.Store the seeder needs.
type productCatalog interface {
	List(ctx context.Context, f catalog.Filter, pg catalog.Page) (catalog.ListResult, error)
	Create(ctx context.Context, in catalog.NewProduct) (*catalog.Product, error)
}

// seedCatalog creates each product whose name is not already present
// (case-insensitive). It returns how many were created.
func seedCatalog(ctx context.Context, store productCatalog, products []catalog.NewProduct, log logrus.FieldLogger) (int, error) {
	existing := map[string]bool{}
	for page := 1; ; page++ {
		res, err := store.List(ctx, catalog.Filter{}, catalog.Page{Page: page, PageSize: catalog.MaxPageSize})
		if err != nil {
			return 0, fmt.Errorf("list products: %w", err)
		}
		for _, p := range res.Items {
			existing[strings.ToLower(p.Name)] = true
		}
		if page >= res.Pages {
			break
		}
	}

	created := 0
	for _, in := range products {
		if existing[strings.ToLower(in.Name)] {
			log.WithField("name", in.Name).Debug("product exists, skipping")
			continue
		}
		p, err := store.Create(ctx, in)
		if err != nil {
			return created, fmt.Errorf("create %q: %w", in.Name, err)
		}
		existing[strings.ToLower(in.Name)] = true
		created++
		log.WithFields(logrus.Fields{"id": p.ID, "name": p.Name}).Info("product created")
	}
	return created, nil
}
