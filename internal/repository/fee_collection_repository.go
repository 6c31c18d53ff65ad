package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/pkg/database"
)

const collectionColumns = `f.id, f.student_id, f.receipt_number, f.amount, f.payment_mode, f.reference_number, f.remarks, f.collected_by_staff_id,
f.collection_date, f.is_verified, f.verified_by_admin_id, f.verified_at, f.semester, f.funding_kind, f.student_fee_assignment_id,
f.assignment_amount, f.assignment_pending_after, f.is_direct_payment, f.direct_fee_category_id, f.created_at, f.updated_at`

// LedgerTx exposes the row-locking operations that must share one database transaction.
type LedgerTx interface {
	LockAssignment(ctx context.Context, id string) (*models.StudentFeeAssignment, error)
	UpdateAssignmentBalance(ctx context.Context, update models.AssignmentBalanceUpdate) error
	NextReceiptSequence(ctx context.Context) (int64, error)
	InsertCollection(ctx context.Context, collection *models.FeeCollection) error
	LockCollection(ctx context.Context, id string) (*models.FeeCollection, error)
	MarkVerified(ctx context.Context, id, adminID string, at time.Time) error
	UpdateCollectionNotes(ctx context.Context, id, remarks string, reference *string, at time.Time) error
}

// FeeCollectionRepository persists fee collections and their line items.
type FeeCollectionRepository struct {
	db *sqlx.DB
}

// NewFeeCollectionRepository constructs a collection repository.
func NewFeeCollectionRepository(db *sqlx.DB) *FeeCollectionRepository {
	return &FeeCollectionRepository{db: db}
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (r *FeeCollectionRepository) InTx(ctx context.Context, fn func(LedgerTx) error) error {
	return database.WithTx(ctx, r.db, "ledger transaction", func(tx *sqlx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// GetByID returns a collection with its line items.
func (r *FeeCollectionRepository) GetByID(ctx context.Context, id string) (*models.FeeCollection, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_collections f WHERE f.id = $1`, collectionColumns)
	var collection models.FeeCollection
	if err := r.db.GetContext(ctx, &collection, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fee collection: %w", err)
	}
	items, err := r.ListLineItems(ctx, collection.ID)
	if err != nil {
		return nil, err
	}
	collection.LineItems = items
	return &collection, nil
}

// GetByReceiptNumber returns the collection that issued the receipt.
func (r *FeeCollectionRepository) GetByReceiptNumber(ctx context.Context, receiptNumber string) (*models.FeeCollection, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_collections f WHERE f.receipt_number = $1`, collectionColumns)
	var collection models.FeeCollection
	if err := r.db.GetContext(ctx, &collection, query, receiptNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get fee collection by receipt: %w", err)
	}
	return &collection, nil
}

// ListLineItems returns the items of a collection in insertion order.
func (r *FeeCollectionRepository) ListLineItems(ctx context.Context, collectionID string) ([]models.CollectionLineItem, error) {
	const query = `SELECT id, collection_id, position, fee_structure_id, kind, amount, description FROM fee_collection_items WHERE collection_id = $1 ORDER BY position ASC`
	var items []models.CollectionLineItem
	if err := r.db.SelectContext(ctx, &items, query, collectionID); err != nil {
		return nil, fmt.Errorf("list collection items: %w", err)
	}
	return items, nil
}

// List returns collections matching the filter with the total count.
func (r *FeeCollectionRepository) List(ctx context.Context, filter models.CollectionFilter) ([]models.FeeCollection, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("f.student_id = $%d", len(args)))
	}
	if filter.StaffID != "" {
		args = append(args, filter.StaffID)
		conditions = append(conditions, fmt.Sprintf("f.collected_by_staff_id = $%d", len(args)))
	}
	if filter.PaymentMode != "" {
		args = append(args, filter.PaymentMode)
		conditions = append(conditions, fmt.Sprintf("f.payment_mode = $%d", len(args)))
	}
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		conditions = append(conditions, fmt.Sprintf("f.is_verified = $%d", len(args)))
	}
	if filter.Semester != "" {
		args = append(args, filter.Semester)
		conditions = append(conditions, fmt.Sprintf("f.semester = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, models.DateOnly(*filter.From))
		conditions = append(conditions, fmt.Sprintf("f.collection_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, models.DateOnly(*filter.To))
		conditions = append(conditions, fmt.Sprintf("f.collection_date <= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf(`SELECT %s FROM fee_collections f%s ORDER BY f.collection_date DESC, f.created_at DESC LIMIT %d OFFSET %d`, collectionColumns, where, pageSize, offset)
	var collections []models.FeeCollection
	if err := r.db.SelectContext(ctx, &collections, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list fee collections: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM fee_collections f%s`, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fee collections: %w", err)
	}
	return collections, total, nil
}

// GetReceipt loads the receipt projection of a collection.
func (r *FeeCollectionRepository) GetReceipt(ctx context.Context, collectionID string) (*models.ReceiptView, error) {
	const query = `SELECT f.id AS collection_id, f.receipt_number, f.student_id, st.full_name AS student_name, st.nis AS student_number,
f.collected_by_staff_id, u.full_name AS collected_by_name, f.collection_date, f.payment_mode, f.reference_number, f.remarks, f.amount,
f.semester, f.funding_kind, f.is_verified, f.verified_by_admin_id, f.verified_at, dc.name AS direct_category_name,
f.student_fee_assignment_id AS assignment_id, ac.name AS assignment_category, a.total_amount AS assignment_total,
f.assignment_amount, f.assignment_pending_after
FROM fee_collections f
JOIN students st ON st.id = f.student_id
JOIN users u ON u.id = f.collected_by_staff_id
LEFT JOIN fee_categories dc ON dc.id = f.direct_fee_category_id
LEFT JOIN student_fee_assignments a ON a.id = f.student_fee_assignment_id
LEFT JOIN fee_structures s ON s.id = a.fee_structure_id
LEFT JOIN fee_categories ac ON ac.id = s.fee_category_id
WHERE f.id = $1`
	var view models.ReceiptView
	if err := r.db.GetContext(ctx, &view, query, collectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}

	return &view, nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (l *ledgerTx) LockAssignment(ctx context.Context, id string) (*models.StudentFeeAssignment, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE a.id = $1 FOR UPDATE OF a`, assignmentColumns, assignmentFrom)
	var assignment models.StudentFeeAssignment
	if err := l.tx.GetContext(ctx, &assignment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock fee assignment: %w", err)
	}
	return &assignment, nil
}

func (l *ledgerTx) UpdateAssignmentBalance(ctx context.Context, update models.AssignmentBalanceUpdate) error {
	const query = `UPDATE student_fee_assignments SET paid_amount = :paid_amount, pending_amount = :pending_amount, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := l.tx.NamedExecContext(ctx, query, update); err != nil {
		return fmt.Errorf("update assignment balance: %w", err)
	}
	return nil
}

func (l *ledgerTx) NextReceiptSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := l.tx.GetContext(ctx, &seq, `SELECT nextval('fee_receipt_number_seq')`); err != nil {
		return 0, fmt.Errorf("next receipt sequence: %w", err)
	}
	return seq, nil
}

func (l *ledgerTx) InsertCollection(ctx context.Context, collection *models.FeeCollection) error {
	if collection.ID == "" {
		collection.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	collection.CreatedAt = now
	collection.UpdatedAt = now
	const query = `INSERT INTO fee_collections (id, student_id, receipt_number, amount, payment_mode, reference_number, remarks, collected_by_staff_id,
collection_date, is_verified, semester, funding_kind, student_fee_assignment_id, assignment_amount, assignment_pending_after, is_direct_payment, direct_fee_category_id, created_at, updated_at)
VALUES (:id, :student_id, :receipt_number, :amount, :payment_mode, :reference_number, :remarks, :collected_by_staff_id,
:collection_date, :is_verified, :semester, :funding_kind, :student_fee_assignment_id, :assignment_amount, :assignment_pending_after, :is_direct_payment, :direct_fee_category_id, :created_at, :updated_at)`
	if _, err := l.tx.NamedExecContext(ctx, query, collection); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert fee collection: %w", err)
	}

	const itemQuery = `INSERT INTO fee_collection_items (id, collection_id, position, fee_structure_id, kind, amount, description)
VALUES (:id, :collection_id, :position, :fee_structure_id, :kind, :amount, :description)`
	for i := range collection.LineItems {
		item := &collection.LineItems[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CollectionID = collection.ID
		item.Position = i + 1
		if _, err := l.tx.NamedExecContext(ctx, itemQuery, item); err != nil {
			return fmt.Errorf("insert collection item: %w", err)
		}
	}
	return nil
}

func (l *ledgerTx) LockCollection(ctx context.Context, id string) (*models.FeeCollection, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_collections f WHERE f.id = $1 FOR UPDATE`, collectionColumns)
	var collection models.FeeCollection
	if err := l.tx.GetContext(ctx, &collection, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock fee collection: %w", err)
	}
	return &collection, nil
}

func (l *ledgerTx) MarkVerified(ctx context.Context, id, adminID string, at time.Time) error {
	const query = `UPDATE fee_collections SET is_verified = TRUE, verified_by_admin_id = $2, verified_at = $3, updated_at = $3 WHERE id = $1 AND is_verified = FALSE`
	if _, err := l.tx.ExecContext(ctx, query, id, adminID, at); err != nil {
		return fmt.Errorf("verify fee collection: %w", err)
	}
	return nil
}

func (l *ledgerTx) UpdateCollectionNotes(ctx context.Context, id, remarks string, reference *string, at time.Time) error {
	const query = `UPDATE fee_collections SET remarks = $2, reference_number = $3, updated_at = $4 WHERE id = $1 AND is_verified = FALSE`
	if _, err := l.tx.ExecContext(ctx, query, id, remarks, reference, at); err != nil {
		return fmt.Errorf("amend fee collection: %w", err)
	}
	return nil
}
