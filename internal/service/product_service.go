package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"shopsys/internal/domain"
	"shopsys/internal/repository"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrImageTooLarge    = errors.New("image too large")
	ErrUnsupportedImage = errors.New("only PNG and JPEG images are accepted")
)

const (
	// MaxImageSize caps uploaded product images
	MaxImageSize = 5 << 20
	// DefaultPageSize is the number of products per search page
	DefaultPageSize = 5
)

// TypeCache keeps the product type list close at hand
type TypeCache interface {
	ProductTypes(ctx context.Context, load func(ctx context.Context) ([]domain.ProductType, error)) ([]domain.ProductType, error)
	Invalidate(ctx context.Context) error
}

// ProductService encapsulates catalog browsing and maintenance
type ProductService struct {
	repo     repository.Catalog
	types    TypeCache
	pageSize int
}

// NewProductService builds the catalog service. types may be nil.
func NewProductService(repo repository.Catalog, types TypeCache, pageSize int) *ProductService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ProductService{repo: repo, types: types, pageSize: pageSize}
}

func validProduct(p domain.Product) bool {
	name := strings.TrimSpace(p.Name)
	return name != "" &&
		utf8.RuneCountInString(name) <= maxTextLength &&
		utf8.RuneCountInString(p.Description) <= maxTextLength &&
		p.TypeID > 0 && p.Stock >= 0
}

func (s *ProductService) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if !validProduct(p) {
		return nil, ErrInvalidInput
	}
	cp := p
	cp.Name = strings.TrimSpace(cp.Name)
	cp.Status = domain.StatusActive
	if err := s.repo.Create(ctx, &cp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrapf(ErrInvalidInput, "unknown product type %d", p.TypeID)
		}
		return nil, err
	}
	return s.repo.GetByID(ctx, cp.ID)
}

// GetByID returns an active product
func (s *ProductService) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active() {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *ProductService) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.ID <= 0 || !validProduct(p) {
		return nil, ErrInvalidInput
	}
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cp := p
	cp.Name = strings.TrimSpace(cp.Name)
	if cp.Status == "" {
		cp.Status = current.Status
	}
	if err := s.repo.Update(ctx, &cp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrapf(ErrInvalidInput, "unknown product type %d", p.TypeID)
		}
		return nil, err
	}
	return s.repo.GetByID(ctx, cp.ID)
}

// Delete hides the product from the catalog. Ledger rows keep pointing at it.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	return s.repo.SetStatus(ctx, id, domain.StatusDeleted)
}

// Search returns one page of active products matching keyword and type.
// Pages count from 0. A zero typeID matches every type; negative pages are
// read as the first one and huge pages are capped so the offset cannot overflow.
func (s *ProductService) Search(ctx context.Context, keyword string, typeID int64, page int) (*domain.SearchResult, error) {
	if page < 0 {
		page = 0
	}
	if maxPage := math.MaxInt32 / s.pageSize; page > maxPage {
		page = maxPage
	}
	keyword = repository.TruncateKeyword(strings.TrimSpace(keyword))

	list, total, err := s.repo.Search(ctx, repository.ProductQuery{
		Keyword: keyword,
		TypeID:  typeID,
		Offset:  page * s.pageSize,
		Limit:   s.pageSize,
	})
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].HasImage {
			list[i].ImageURL = fmt.Sprintf("/api/v1/products/%d/image", list[i].ID)
		}
	}

	totalPages := int((total + int64(s.pageSize) - 1) / int64(s.pageSize))
	res := &domain.SearchResult{
		Products:    list,
		Page:        page,
		TotalPages:  totalPages,
		Total:       total,
		HasNext:     page+1 < totalPages,
		HasPrevious: page > 0,
		Keyword:     keyword,
	}
	if typeID != 0 {
		res.TypeID = &typeID
	}
	return res, nil
}

// ProductTypes lists the active product types by name
func (s *ProductService) ProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	if s.types == nil {
		return s.repo.ListActiveTypes(ctx)
	}
	return s.types.ProductTypes(ctx, s.repo.ListActiveTypes)
}

func (s *ProductService) CreateType(ctx context.Context, name string) (*domain.ProductType, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxTextLength {
		return nil, ErrInvalidInput
	}
	t := domain.ProductType{Name: name, Status: domain.StatusActive}
	if err := s.repo.CreateType(ctx, &t); err != nil {
		return nil, err
	}
	if s.types != nil {
		if err := s.types.Invalidate(ctx); err != nil {
			return nil, errors.Wrap(err, "invalidate product types")
		}
	}
	return &t, nil
}

// Image returns the stored image and its detected content type
func (s *ProductService) Image(ctx context.Context, id int64) ([]byte, string, error) {
	if id <= 0 {
		return nil, "", ErrInvalidInput
	}
	data, err := s.repo.Image(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// UploadImage replaces the product image. The content must be PNG or JPEG.
func (s *ProductService) UploadImage(ctx context.Context, id int64, data []byte) error {
	if id <= 0 || len(data) == 0 {
		return ErrInvalidInput
	}
	if len(data) > MaxImageSize {
		return ErrImageTooLarge
	}
	mt := mimetype.Detect(data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") {
		return errors.Wrapf(ErrUnsupportedImage, "got %s", mt.String())
	}
	return s.repo.SetImage(ctx, id, data)
}
