package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"shopsys/internal/repository"
	"shopsys/internal/service"
)

type Server struct {
	engine   *gin.Engine
	products *service.ProductService
	orders   *service.OrderService
	users    *service.UserService
	sessions sessions.Store
}

func NewServer(products *service.ProductService, orders *service.OrderService, users *service.UserService, store sessions.Store) *Server {
	r := gin.New()
	r.MaxMultipartMemory = service.MaxImageSize + 1<<20
	r.Use(requestLogger(), gin.Recovery())
	s := &Server{engine: r, products: products, orders: orders, users: users, sessions: store}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/login", s.login)
		v1.POST("/logout", s.logout)
		v1.GET("/me", s.requireSession, s.me)

		v1.GET("/product-types", s.listProductTypes)
		products := v1.Group("/products")
		products.GET("", s.searchProducts)
		products.GET(":id", s.getProduct)
		products.GET(":id/stock", s.checkStock)
		products.GET(":id/image", s.getProductImage)

		admin := v1.Group("", s.requireSession, s.requireAdmin)
		admin.POST("/product-types", s.createProductType)
		admin.POST("/products", s.createProduct)
		admin.PUT("/products/:id", s.updateProduct)
		admin.DELETE("/products/:id", s.deleteProduct)
		admin.POST("/products/:id/image", s.uploadProductImage)

		orders := v1.Group("/orders", s.requireSession)
		orders.GET("/availability", s.availability)
		orders.POST("/preview", s.previewOrder)
		orders.POST("", s.submitOrder)
		orders.GET(":id", s.getOrder)
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrProductNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail answers with the status for err. Internal errors are logged, not shown.
func fail(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		entry(c).WithError(err).Error("request failed")
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func entry(c *gin.Context) *log.Entry {
	return log.WithField("request_id", c.GetString(ctxRequestID))
}
