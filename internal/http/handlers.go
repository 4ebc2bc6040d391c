package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shopsys/internal/domain"
	"shopsys/internal/service"
)

type productReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	TypeID      int64  `json:"type_id" binding:"required"`
	Stock       int64  `json:"stock"`
}

type productTypeReq struct {
	Name string `json:"name" binding:"required"`
}

type previewReq struct {
	Items []domain.LineRequest `json:"items"`
}

// @Summary List active product types
// @Tags catalog
// @Produce json
// @Success 200 {array} domain.ProductType
// @Router /product-types [get]
func (s *Server) listProductTypes(c *gin.Context) {
	types, err := s.products.ProductTypes(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// @Summary Create a product type
// @Tags catalog
// @Accept json
// @Produce json
// @Param input body productTypeReq true "Product type"
// @Success 201 {object} domain.ProductType
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /product-types [post]
func (s *Server) createProductType(c *gin.Context) {
	var req productTypeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pt, err := s.products.CreateType(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pt)
}

// @Summary Search the catalog
// @Description Active products ordered by popularity, one page at a time.
// @Tags catalog
// @Produce json
// @Param q query string false "Keyword in name or description"
// @Param type_id query int false "Product type"
// @Param page query int false "Page, starting at 0"
// @Success 200 {object} domain.SearchResult
// @Failure 400 {object} map[string]string
// @Router /products [get]
func (s *Server) searchProducts(c *gin.Context) {
	var typeID int64
	if v := c.Query("type_id"); v != "" {
		id, err := parseID(v)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type_id"})
			return
		}
		typeID = id
	}
	page := 0
	if v := c.Query("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = p
	}
	res, err := s.products.Search(c.Request.Context(), c.Query("q"), typeID, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Get product
// @Tags catalog
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 404 {object} map[string]string
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.products.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Check whether a quantity can be ordered
// @Tags catalog
// @Produce json
// @Param id path int true "Product ID"
// @Param quantity query int true "Quantity"
// @Success 200 {object} domain.StockCheck
// @Failure 400 {object} map[string]string
// @Router /products/{id}/stock [get]
func (s *Server) checkStock(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	qty, err := strconv.ParseInt(c.Query("quantity"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	check, err := s.orders.CheckStock(c.Request.Context(), id, qty)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// @Summary Product image
// @Tags catalog
// @Produce png
// @Produce jpeg
// @Param id path int true "Product ID"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Router /products/{id}/image [get]
func (s *Server) getProductImage(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	data, contentType, err := s.products.Image(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, data)
}

// @Summary Create product
// @Tags catalog
// @Accept json
// @Produce json
// @Param input body productReq true "Product"
// @Success 201 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.products.Create(c.Request.Context(), domain.Product{
		Name:        req.Name,
		Description: req.Description,
		TypeID:      req.TypeID,
		Stock:       req.Stock,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Update product
// @Tags catalog
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param input body productReq true "Product"
// @Success 200 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.products.Update(c.Request.Context(), domain.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		TypeID:      req.TypeID,
		Stock:       req.Stock,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Delete product
// @Description Hides the product from the catalog. Its order history stays.
// @Tags catalog
// @Param id path int true "Product ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /products/{id} [delete]
func (s *Server) deleteProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.products.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Upload product image
// @Description Multipart field "image" or the raw request body. PNG or JPEG up to 5 MiB.
// @Tags catalog
// @Accept mpfd
// @Param id path int true "Product ID"
// @Param image formData file false "Image"
// @Success 204
// @Failure 413 {object} map[string]string
// @Failure 415 {object} map[string]string
// @Router /products/{id}/image [post]
func (s *Server) uploadProductImage(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image field required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			fail(c, err)
			return
		}
		defer f.Close()
		body = f
	}
	// one byte over the cap is enough to reject
	data, err := io.ReadAll(io.LimitReader(body, service.MaxImageSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read image"})
		return
	}
	if err := s.products.UploadImage(c.Request.Context(), id, data); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Units available per product
// @Tags orders
// @Produce json
// @Param ids query string true "Comma separated product IDs"
// @Success 200 {object} map[string]int64
// @Failure 400 {object} map[string]string
// @Router /orders/availability [get]
func (s *Server) availability(c *gin.Context) {
	var ids []int64
	for _, part := range strings.Split(c.Query("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ids"})
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids required"})
		return
	}
	avail, err := s.orders.PreviewAvailability(c.Request.Context(), ids)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

// @Summary Confirm selected products before ordering
// @Tags orders
// @Accept json
// @Produce json
// @Param input body previewReq true "Selected lines"
// @Success 200 {array} domain.ConfirmationLine
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/preview [post]
func (s *Server) previewOrder(c *gin.Context) {
	var req previewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	lines, err := s.orders.Confirm(c.Request.Context(), req.Items)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

// @Summary Place an order
// @Description Validates the form and stock, then records every line under one new order number.
// @Tags orders
// @Accept json
// @Produce json
// @Param input body domain.OrderRequest true "Order form"
// @Success 201 {object} domain.Result
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /orders [post]
func (s *Server) submitOrder(c *gin.Context) {
	var req domain.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := s.orders.Submit(c.Request.Context(), req, c.GetString(ctxUser))
	if err != nil {
		fail(c, err)
		return
	}
	if f := res.Failure; f != nil {
		if f.Kind == domain.FailureValidation {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": f.Message, "field": f.Field})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": f.Message})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// @Summary Get order lines
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {array} domain.OrderLine
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	lines, err := s.orders.Order(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}
