package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"shopsys/internal/domain"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore keeps the catalog in a relational database
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewSQLStore(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

type sqlTxKey struct{}

// q returns the transaction bound to ctx, or the pool
func (s *SQLStore) q(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *SQLStore) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	q := s.q(ctx)
	if s.dialect == DialectPostgres {
		var id int64
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(query+" RETURNING id"), args...)
		return id, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	q := s.q(ctx)
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// mapErr turns driver errors into repository errors
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return ErrDuplicate
		case 1452:
			return ErrNotFound
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrNotFound
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return ErrDuplicate
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrNotFound
		}
		if strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
	}
	return err
}

var _ Catalog = (*SQLStore)(nil)

type productRow struct {
	ID          int64         `db:"id"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	TypeID      int64         `db:"type_id"`
	TypeName    string        `db:"type_name"`
	Stock       sql.NullInt64 `db:"stock"`
	HasImage    bool          `db:"has_image"`
	Status      domain.Status `db:"status"`
}

func (r productRow) toDomain() *domain.Product {
	return &domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		TypeID:      r.TypeID,
		TypeName:    r.TypeName,
		Stock:       r.Stock.Int64,
		HasImage:    r.HasImage,
		Status:      r.Status,
	}
}

const hasImageExpr = `CASE WHEN p.image IS NULL THEN 0 ELSE 1 END`

func (s *SQLStore) Create(ctx context.Context, p *domain.Product) error {
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	id, err := s.insertID(ctx,
		`INSERT INTO products (name, description, type_id, stock, status) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.TypeID, p.Stock, p.Status)
	if err != nil {
		return errors.Wrap(mapErr(err), "insert product")
	}
	p.ID = id
	return nil
}

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	q := s.q(ctx)
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT p.id, p.name, p.description, p.type_id, COALESCE(t.name, '') AS type_name,
			p.stock, `+hasImageExpr+` AS has_image, p.status
		FROM products p
		LEFT JOIN product_types t ON t.id = p.type_id
		WHERE p.id = ?`), id)
	if err != nil {
		return nil, mapErr(err)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) Update(ctx context.Context, p *domain.Product) error {
	n, err := s.exec(ctx,
		`UPDATE products SET name = ?, description = ?, type_id = ?, stock = ?, status = ? WHERE id = ?`,
		p.Name, p.Description, p.TypeID, p.Stock, p.Status, p.ID)
	if err != nil {
		return errors.Wrap(mapErr(err), "update product")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	n, err := s.exec(ctx, `UPDATE products SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return errors.Wrap(err, "update product status")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Search(ctx context.Context, f ProductQuery) ([]domain.ProductSummary, int64, error) {
	where := []string{`p.status <> '1'`, `t.status <> '1'`}
	var args []any
	if k := strings.ToLower(strings.TrimSpace(f.Keyword)); k != "" {
		like := "%" + k + "%"
		where = append(where, `(LOWER(p.name) LIKE ? OR LOWER(p.description) LIKE ?)`)
		args = append(args, like, like)
	}
	if f.TypeID != 0 {
		where = append(where, `p.type_id = ?`)
		args = append(args, f.TypeID)
	}
	cond := strings.Join(where, " AND ")

	q := s.q(ctx)
	var total int64
	err := sqlx.GetContext(ctx, q, &total, q.Rebind(`
		SELECT COUNT(*) FROM products p
		JOIN product_types t ON t.id = p.type_id
		WHERE `+cond), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	out := make([]domain.ProductSummary, 0)
	err = sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT p.id, p.name, p.description, p.type_id, t.name AS type_name,
			`+hasImageExpr+` AS has_image, COALESCE(o.total, 0) AS total_ordered
		FROM products p
		JOIN product_types t ON t.id = p.type_id
		LEFT JOIN (
			SELECT product_id, SUM(amount) AS total FROM order_lines GROUP BY product_id
		) o ON o.product_id = p.id
		WHERE `+cond+`
		ORDER BY total_ordered DESC, p.id
		LIMIT ? OFFSET ?`), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "search products")
	}
	return out, total, nil
}

func (s *SQLStore) Image(ctx context.Context, id int64) ([]byte, error) {
	q := s.q(ctx)
	var img []byte
	if err := sqlx.GetContext(ctx, q, &img, q.Rebind(`SELECT image FROM products WHERE id = ?`), id); err != nil {
		return nil, mapErr(err)
	}
	if len(img) == 0 {
		return nil, ErrNotFound
	}
	return img, nil
}

func (s *SQLStore) SetImage(ctx context.Context, id int64, image []byte) error {
	n, err := s.exec(ctx, `UPDATE products SET image = ? WHERE id = ?`, image, id)
	if err != nil {
		return errors.Wrap(err, "store product image")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateType(ctx context.Context, t *domain.ProductType) error {
	if t.Status == "" {
		t.Status = domain.StatusActive
	}
	id, err := s.insertID(ctx, `INSERT INTO product_types (name, status) VALUES (?, ?)`, t.Name, t.Status)
	if err != nil {
		return errors.Wrap(mapErr(err), "insert product type")
	}
	t.ID = id
	return nil
}

func (s *SQLStore) ListActiveTypes(ctx context.Context) ([]domain.ProductType, error) {
	q := s.q(ctx)
	out := make([]domain.ProductType, 0)
	err := sqlx.SelectContext(ctx, q, &out,
		`SELECT id, name, status FROM product_types WHERE status <> '1' ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list product types")
	}
	return out, nil
}

// SQLOrders is the order ledger table
type SQLOrders struct{ store *SQLStore }

func NewSQLOrders(store *SQLStore) *SQLOrders { return &SQLOrders{store: store} }

var _ OrderRepository = (*SQLOrders)(nil)

func (so *SQLOrders) SumOrdered(ctx context.Context, productID int64) (int64, error) {
	q := so.store.q(ctx)
	var sum int64
	err := sqlx.GetContext(ctx, q, &sum,
		q.Rebind(`SELECT COALESCE(SUM(amount), 0) FROM order_lines WHERE product_id = ?`), productID)
	if err != nil {
		return 0, errors.Wrap(err, "sum ordered amount")
	}
	return sum, nil
}

func (so *SQLOrders) MaxOrderID(ctx context.Context) (int64, error) {
	var max int64
	err := sqlx.GetContext(ctx, so.store.q(ctx), &max, `SELECT COALESCE(MAX(order_id), 0) FROM order_lines`)
	if err != nil {
		return 0, errors.Wrap(err, "max order id")
	}
	return max, nil
}

func (so *SQLOrders) Insert(ctx context.Context, l *domain.OrderLine) error {
	_, err := so.store.exec(ctx, `
		INSERT INTO order_lines (order_id, customer_name, product_id, amount, delivery_address, delivery_date, ordered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.OrderID, l.CustomerName, l.ProductID, l.Amount, l.DeliveryAddress, l.DeliveryDate, l.OrderedAt.UTC())
	if err != nil {
		return errors.Wrap(mapErr(err), "insert order line")
	}
	return nil
}

func (so *SQLOrders) ByOrderID(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	q := so.store.q(ctx)
	out := make([]domain.OrderLine, 0)
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT order_id, customer_name, product_id, amount, delivery_address, delivery_date, ordered_at
		FROM order_lines WHERE order_id = ? ORDER BY product_id`), orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order lines")
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Lock takes the row lock on order_lock. It must run inside a transaction.
func (so *SQLOrders) Lock(ctx context.Context) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); !ok {
		return errors.New("order lock outside transaction")
	}
	n, err := so.store.exec(ctx, `UPDATE order_lock SET locked_at = ? WHERE id = 1`, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "lock orders")
	}
	if n == 0 {
		return errors.New("order_lock row missing")
	}
	return nil
}

// SQLUsers is the users table
type SQLUsers struct{ store *SQLStore }

func NewSQLUsers(store *SQLStore) *SQLUsers { return &SQLUsers{store: store} }

var _ UserRepository = (*SQLUsers)(nil)

func (su *SQLUsers) Create(ctx context.Context, u *domain.User) error {
	id, err := su.store.insertID(ctx,
		`INSERT INTO users (username, password_hash, role, enabled) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Role, u.Enabled)
	if err != nil {
		return errors.Wrap(mapErr(err), "insert user")
	}
	u.ID = id
	return nil
}

func (su *SQLUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	q := su.store.q(ctx)
	var u domain.User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(
		`SELECT id, username, password_hash, role, enabled FROM users WHERE username = ?`), username)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// SQLTx binds a database transaction to the context handed to fn
type SQLTx struct{ store *SQLStore }

func NewSQLTx(store *SQLStore) *SQLTx { return &SQLTx{store: store} }

func (t *SQLTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}
