package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
	"github.com/merchkit/discount-engine/internal/ledger"
	"github.com/merchkit/discount-engine/internal/repository"
	apperrors "github.com/merchkit/discount-engine/pkg/errors"
)

// DBTX is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// it, which keeps the repository testable without a live database.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DiscountRepository implements repository.DiscountRepository using PostgreSQL.
type DiscountRepository struct {
	db DBTX
}

// NewDiscountRepository creates a new PostgreSQL-backed discount repository.
func NewDiscountRepository(db DBTX) *DiscountRepository {
	return &DiscountRepository{db: db}
}

const discountColumns = `
	id, store_id, code, name, kind, value::text, max_discount_amount::text,
	applies_to, product_ids, category_ids, customer_ids,
	minimum_type, minimum_value::text, status, starts_at, ends_at,
	usage_limit, current_usage, usage_limit_per_customer, views,
	buy_quantity, get_quantity, get_discount_type, get_discount_value::text,
	created_at, updated_at`

// Create inserts a new discount definition. The code is stored upper-cased
// so the per-store uniqueness constraint is case-insensitive.
func (r *DiscountRepository) Create(ctx context.Context, d *domain.Discount) error {
	productIDs, categoryIDs, customerIDs, err := marshalScopeIDs(d.Scope)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO discounts (
			id, store_id, code, name, kind, value, max_discount_amount,
			applies_to, product_ids, category_ids, customer_ids,
			minimum_type, minimum_value, status, starts_at, ends_at,
			usage_limit, current_usage, usage_limit_per_customer, views,
			buy_quantity, get_quantity, get_discount_type, get_discount_value,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		          $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

	args := []any{
		d.ID,
		d.StoreID,
		strings.ToUpper(d.Code),
		d.Name,
		d.Kind,
		d.Value.String(),
		decimalOrNil(d.MaxDiscountAmount),
		d.Scope.AppliesTo,
		productIDs,
		categoryIDs,
		customerIDs,
	}
	if d.Minimum != nil {
		args = append(args, d.Minimum.Type, d.Minimum.Value.String())
	} else {
		args = append(args, nil, nil)
	}
	args = append(args,
		d.Window.Status,
		d.Window.StartsAt,
		d.Window.EndsAt,
		d.UsageLimit,
		d.CurrentUsage,
		d.UsageLimitPerCustomer,
		d.Views,
	)
	if p := d.BuyXGetY; p != nil {
		args = append(args, p.BuyQuantity, p.GetQuantity, p.GetDiscountType, p.GetDiscountValue.String())
	} else {
		args = append(args, nil, nil, nil, nil)
	}
	args = append(args, d.CreatedAt, d.UpdatedAt)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("discount", "code", d.Code)
		}
		return fmt.Errorf("insert discount: %w", err)
	}
	return nil
}

// GetByID retrieves a discount and its per-customer usage map.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`
	d, err := r.scanDiscount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadCustomerUsage(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetByCode retrieves a discount by store and code, case-insensitively.
func (r *DiscountRepository) GetByCode(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE store_id = $1 AND code = $2`
	d, err := r.scanDiscount(r.db.QueryRow(ctx, query, storeID, strings.ToUpper(strings.TrimSpace(code))))
	if err != nil {
		return nil, err
	}
	if err := r.loadCustomerUsage(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns a store's discounts matching the filter with the total count.
func (r *DiscountRepository) List(ctx context.Context, storeID string, filter repository.DiscountFilter) ([]domain.Discount, int, error) {
	conditions := []string{"store_id = $1"}
	args := []any{storeID}
	argIndex := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, *filter.Kind)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM discounts
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		discountColumns, strings.Join(conditions, " AND "), argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}
	defer rows.Close()

	discounts := []domain.Discount{}
	totalCount := 0
	for rows.Next() {
		d, total, err := scanDiscountWithTotal(rows)
		if err != nil {
			return nil, 0, err
		}
		totalCount = total
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate discount rows: %w", err)
	}

	return discounts, totalCount, nil
}

// Update modifies a discount's definition fields. Usage counters are
// deliberately excluded; they change only through the ledger methods.
func (r *DiscountRepository) Update(ctx context.Context, d *domain.Discount) error {
	productIDs, categoryIDs, customerIDs, err := marshalScopeIDs(d.Scope)
	if err != nil {
		return err
	}

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE discounts
		SET code = $1, name = $2, kind = $3, value = $4, max_discount_amount = $5,
		    applies_to = $6, product_ids = $7, category_ids = $8, customer_ids = $9,
		    minimum_type = $10, minimum_value = $11, status = $12,
		    starts_at = $13, ends_at = $14, usage_limit = $15,
		    usage_limit_per_customer = $16, buy_quantity = $17, get_quantity = $18,
		    get_discount_type = $19, get_discount_value = $20, updated_at = $21
		WHERE id = $22`

	args := []any{
		strings.ToUpper(d.Code),
		d.Name,
		d.Kind,
		d.Value.String(),
		decimalOrNil(d.MaxDiscountAmount),
		d.Scope.AppliesTo,
		productIDs,
		categoryIDs,
		customerIDs,
	}
	if d.Minimum != nil {
		args = append(args, d.Minimum.Type, d.Minimum.Value.String())
	} else {
		args = append(args, nil, nil)
	}
	args = append(args, d.Window.Status, d.Window.StartsAt, d.Window.EndsAt, d.UsageLimit, d.UsageLimitPerCustomer)
	if p := d.BuyXGetY; p != nil {
		args = append(args, p.BuyQuantity, p.GetQuantity, p.GetDiscountType, p.GetDiscountValue.String())
	} else {
		args = append(args, nil, nil, nil, nil)
	}
	args = append(args, d.UpdatedAt, d.ID)

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("discount", "code", d.Code)
		}
		return fmt.Errorf("update discount: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("discount", d.ID)
	}
	return nil
}

// RecordRedemption performs the guarded counter increments in a single
// transaction. The global increment is a conditional UPDATE whose WHERE
// clause re-checks the limit inside the database, so concurrent redemptions
// serialize on the row and exactly one wins the last slot; a read-then-write
// of the definition would race past the cap.
func (r *DiscountRepository) RecordRedemption(ctx context.Context, def *domain.Discount, customerID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redemption tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE discounts
		SET current_usage = current_usage + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR current_usage < usage_limit)`,
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Either the row is gone or the guard rejected the increment.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM discounts WHERE id = $1)`, def.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check discount existence: %w", err)
		}
		if !exists {
			return apperrors.NotFound("discount", def.ID)
		}
		return ledger.ErrUsageLimitReached
	}

	if customerID != "" {
		perCustomerLimit := 0
		if def.UsageLimitPerCustomer != nil {
			perCustomerLimit = *def.UsageLimitPerCustomer
		}
		ct, err = tx.Exec(ctx, `
			INSERT INTO discount_customer_usage (discount_id, customer_id, usage_count, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (discount_id, customer_id) DO UPDATE
			SET usage_count = discount_customer_usage.usage_count + 1, updated_at = NOW()
			WHERE $3 = 0 OR discount_customer_usage.usage_count < $3`,
			def.ID, customerID, perCustomerLimit,
		)
		if err != nil {
			return fmt.Errorf("increment customer usage: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ledger.ErrCustomerLimitReached
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redemption tx: %w", err)
	}
	return nil
}

// RecordView increments the impression counter. Views are uncapped, so a
// plain atomic increment suffices.
func (r *DiscountRepository) RecordView(ctx context.Context, discountID string) error {
	ct, err := r.db.Exec(ctx, `UPDATE discounts SET views = views + 1 WHERE id = $1`, discountID)
	if err != nil {
		return fmt.Errorf("increment discount views: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("discount", discountID)
	}
	return nil
}

// CreateRedemption appends a redemption audit row.
func (r *DiscountRepository) CreateRedemption(ctx context.Context, redemption *domain.Redemption) error {
	query := `
		INSERT INTO discount_redemptions (id, discount_id, store_id, customer_id, order_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		redemption.ID,
		redemption.DiscountID,
		redemption.StoreID,
		nullIfEmpty(redemption.CustomerID),
		nullIfEmpty(redemption.OrderID),
		redemption.Amount.String(),
		redemption.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// loadCustomerUsage fills the per-customer usage map for a definition.
func (r *DiscountRepository) loadCustomerUsage(ctx context.Context, d *domain.Discount) error {
	rows, err := r.db.Query(ctx,
		`SELECT customer_id, usage_count FROM discount_customer_usage WHERE discount_id = $1`, d.ID)
	if err != nil {
		return fmt.Errorf("load customer usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var (
			customerID string
			count      int
		)
		if err := rows.Scan(&customerID, &count); err != nil {
			return fmt.Errorf("scan customer usage row: %w", err)
		}
		usage[customerID] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate customer usage rows: %w", err)
	}

	if len(usage) > 0 {
		d.CustomerUsage = usage
	}
	return nil
}

// discountRow matches the column order of discountColumns.
type discountRow struct {
	id, storeID, code, name, kind          string
	value                                  string
	maxDiscountAmount                      *string
	appliesTo                              string
	productIDs, categoryIDs, customerIDs   []byte
	minimumType, minimumValue              *string
	status                                 string
	startsAt, endsAt                       *time.Time
	usageLimit                             *int
	currentUsage                           int
	usageLimitPerCustomer                  *int
	views                                  int
	buyQuantity, getQuantity               *int
	getDiscountType, getDiscountValue      *string
	createdAt, updatedAt                   time.Time
}

func (row *discountRow) fields() []any {
	return []any{
		&row.id, &row.storeID, &row.code, &row.name, &row.kind,
		&row.value, &row.maxDiscountAmount,
		&row.appliesTo, &row.productIDs, &row.categoryIDs, &row.customerIDs,
		&row.minimumType, &row.minimumValue, &row.status, &row.startsAt, &row.endsAt,
		&row.usageLimit, &row.currentUsage, &row.usageLimitPerCustomer, &row.views,
		&row.buyQuantity, &row.getQuantity, &row.getDiscountType, &row.getDiscountValue,
		&row.createdAt, &row.updatedAt,
	}
}

func (row *discountRow) toDomain() (*domain.Discount, error) {
	value, err := decimal.NewFromString(row.value)
	if err != nil {
		return nil, fmt.Errorf("parse discount value: %w", err)
	}

	d := &domain.Discount{
		ID:                    row.id,
		StoreID:               row.storeID,
		Code:                  row.code,
		Name:                  row.name,
		Kind:                  row.kind,
		Value:                 value,
		Scope:                 domain.Scope{AppliesTo: row.appliesTo},
		Window:                domain.Window{Status: row.status, StartsAt: row.startsAt, EndsAt: row.endsAt},
		UsageLimit:            row.usageLimit,
		CurrentUsage:          row.currentUsage,
		UsageLimitPerCustomer: row.usageLimitPerCustomer,
		Views:                 row.views,
		CreatedAt:             row.createdAt,
		UpdatedAt:             row.updatedAt,
	}

	if row.maxDiscountAmount != nil {
		cap, err := decimal.NewFromString(*row.maxDiscountAmount)
		if err != nil {
			return nil, fmt.Errorf("parse max discount amount: %w", err)
		}
		d.MaxDiscountAmount = &cap
	}

	if err := unmarshalIDs(row.productIDs, &d.Scope.ProductIDs); err != nil {
		return nil, fmt.Errorf("unmarshal product_ids: %w", err)
	}
	if err := unmarshalIDs(row.categoryIDs, &d.Scope.CategoryIDs); err != nil {
		return nil, fmt.Errorf("unmarshal category_ids: %w", err)
	}
	if err := unmarshalIDs(row.customerIDs, &d.Scope.CustomerIDs); err != nil {
		return nil, fmt.Errorf("unmarshal customer_ids: %w", err)
	}

	if row.minimumType != nil && row.minimumValue != nil {
		minValue, err := decimal.NewFromString(*row.minimumValue)
		if err != nil {
			return nil, fmt.Errorf("parse minimum value: %w", err)
		}
		d.Minimum = &domain.MinimumRequirement{Type: *row.minimumType, Value: minValue}
	}

	if row.kind == domain.KindBuyXGetY && row.buyQuantity != nil && row.getQuantity != nil && row.getDiscountType != nil {
		params := &domain.BuyXGetYParams{
			BuyQuantity:     *row.buyQuantity,
			GetQuantity:     *row.getQuantity,
			GetDiscountType: *row.getDiscountType,
		}
		if row.getDiscountValue != nil {
			v, err := decimal.NewFromString(*row.getDiscountValue)
			if err != nil {
				return nil, fmt.Errorf("parse get discount value: %w", err)
			}
			params.GetDiscountValue = v
		}
		d.BuyXGetY = params
	}

	return d, nil
}

func (r *DiscountRepository) scanDiscount(row pgx.Row) (*domain.Discount, error) {
	var dr discountRow
	if err := row.Scan(dr.fields()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan discount: %w", err)
	}
	return dr.toDomain()
}

func scanDiscountWithTotal(rows pgx.Rows) (*domain.Discount, int, error) {
	var (
		dr    discountRow
		total int
	)
	if err := rows.Scan(append(dr.fields(), &total)...); err != nil {
		return nil, 0, fmt.Errorf("scan discount row: %w", err)
	}
	d, err := dr.toDomain()
	if err != nil {
		return nil, 0, err
	}
	return d, total, nil
}

func marshalScopeIDs(scope domain.Scope) (productIDs, categoryIDs, customerIDs []byte, err error) {
	if productIDs, err = json.Marshal(emptyIfNil(scope.ProductIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal product_ids: %w", err)
	}
	if categoryIDs, err = json.Marshal(emptyIfNil(scope.CategoryIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal category_ids: %w", err)
	}
	if customerIDs, err = json.Marshal(emptyIfNil(scope.CustomerIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal customer_ids: %w", err)
	}
	return productIDs, categoryIDs, customerIDs, nil
}

func unmarshalIDs(data []byte, target *[]string) error {
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, target)
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
