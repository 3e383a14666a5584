package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/validation"
)

// GET /api/products?category=&featured=&inStock=&page=&limit=
func (s *Server) listProducts(c *gin.Context) {
	var f catalog.Filter
	if cat := c.Query("category"); cat != "" {
		f.Category = catalog.Category(cat)
		if !f.Category.Valid() {
			s.fail(c, apperr.Newf(apperr.KindValidation, "Invalid category %q", cat))
			return
		}
	}
	var err error
	if f.Featured, err = queryBool(c, "featured"); err != nil {
		s.fail(c, err)
		return
	}
	if f.InStock, err = queryBool(c, "inStock"); err != nil {
		s.fail(c, err)
		return
	}
	page, err := queryPositive(c, "page")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryPositive(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.Catalog.List(c.Request.Context(), f, catalog.Page{Page: page, PageSize: limit})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.cacheable(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(res.Items),
		"total":   res.Total,
		"page":    res.Page,
		"pages":   res.Pages,
		"data":    res.Items,
	})
}

// GET /api/products/:id
func (s *Server) getProduct(c *gin.Context) {
	p, err := s.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.cacheable(c)
	ok(c, http.StatusOK, p)
}

// POST /api/products (admin)
func (s *Server) createProduct(c *gin.Context) {
	var req validation.CreateProductRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	p, err := s.Catalog.Create(c.Request.Context(), req.NewProduct())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Location", "/api/products/"+p.ID)
	ok(c, http.StatusCreated, p)
}

// PUT /api/products/:id (admin)
func (s *Server) updateProduct(c *gin.Context) {
	var req validation.UpdateProductRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	p, err := s.Catalog.Update(c.Request.Context(), c.Param("id"), req.Patch())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DELETE /api/products/:id (admin)
func (s *Server) deleteProduct(c *gin.Context) {
	if err := s.Catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	okMsg(c, http.StatusOK, "Product deleted successfully", nil)
}

func (s *Server) cacheable(c *gin.Context) {
	if age := int(s.Options.ProductsCacheMaxAge.Seconds()); age > 0 {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", age))
	}
}

// queryBool parses an optional boolean query parameter; absent means nil.
func queryBool(c *gin.Context, name string) (*bool, error) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "%s must be true or false", name)
	}
	return &b, nil
}

// queryPositive parses an optional positive integer; absent means 0 (the default).
func queryPositive(c *gin.Context, name string) (int, error) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Newf(apperr.KindValidation, "%s must be a positive integer", name)
	}
	return n, nil
}
