package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/export"
	"github.com/noah-isme/sma-fee-api/pkg/receipt"
)

const (
	receiptCacheKeyPrefix = "receipt:"
	defaultReceiptPrefix  = "RCPT"
)

type collectionStore interface {
	InTx(ctx context.Context, fn func(repository.LedgerTx) error) error
	GetByID(ctx context.Context, id string) (*models.FeeCollection, error)
	GetByReceiptNumber(ctx context.Context, receiptNumber string) (*models.FeeCollection, error)
	ListLineItems(ctx context.Context, collectionID string) ([]models.CollectionLineItem, error)
	List(ctx context.Context, filter models.CollectionFilter) ([]models.FeeCollection, int, error)
	GetReceipt(ctx context.Context, collectionID string) (*models.ReceiptView, error)
}

type assignmentReader interface {
	GetByID(ctx context.Context, id string) (*models.StudentFeeAssignment, error)
}

type catalogFinder interface {
	FindStructuresByIDs(ctx context.Context, ids []string) ([]models.FeeStructure, error)
	GetCategory(ctx context.Context, id string) (*models.FeeCategory, error)
}

type ledgerDirectory interface {
	StudentPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error)
	StudentExists(ctx context.Context, studentID string) (bool, error)
	StaffExists(ctx context.Context, staffID string) (bool, error)
	HasVerifyPermission(ctx context.Context, adminID string) (bool, error)
}

type receiptCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	RenderReceipt(doc export.ReceiptDocument) ([]byte, error)
	RenderRegister(data export.Dataset, title string, numeric ...string) ([]byte, error)
}

// PaymentLedgerOption customises the payment ledger.
type PaymentLedgerOption func(*PaymentLedgerService)

// WithReceiptCache caches receipt views for ttl.
func WithReceiptCache(cache receiptCache, ttl time.Duration) PaymentLedgerOption {
	return func(s *PaymentLedgerService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithLedgerMetrics records collection counters.
func WithLedgerMetrics(metrics *MetricsService) PaymentLedgerOption {
	return func(s *PaymentLedgerService) { s.metrics = metrics }
}

// WithLedgerAudit writes audit rows for collect, verify and amend and serves them back as history.
func WithLedgerAudit(audit auditTrail) PaymentLedgerOption {
	return func(s *PaymentLedgerService) { s.audit = audit }
}

// WithReceiptSigner enables verification codes on receipts.
func WithReceiptSigner(signer *receipt.Signer) PaymentLedgerOption {
	return func(s *PaymentLedgerService) { s.signer = signer }
}

// WithReceiptBranding sets the receipt number prefix and the school name printed on receipts.
func WithReceiptBranding(prefix, schoolName string) PaymentLedgerOption {
	return func(s *PaymentLedgerService) {
		if p := strings.ToUpper(strings.TrimSpace(prefix)); p != "" {
			s.receiptPrefix = p
		}
		s.schoolName = strings.TrimSpace(schoolName)
	}
}

// WithLedgerExporters sets the CSV and PDF renderers.
func WithLedgerExporters(csv datasetRenderer, pdf pdfRenderer) PaymentLedgerOption {
	return func(s *PaymentLedgerService) {
		s.csv = csv
		s.pdf = pdf
	}
}

// WithLedgerClock overrides the clock used for collection dates and status derivation.
func WithLedgerClock(now func() time.Time) PaymentLedgerOption {
	return func(s *PaymentLedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

// PaymentLedgerService records fee collections, verifies them and issues receipts.
type PaymentLedgerService struct {
	collections collectionStore
	assignments assignmentReader
	catalog     catalogFinder
	directory   ledgerDirectory
	validator   *validator.Validate
	logger      *zap.Logger

	cache         receiptCache
	cacheTTL      time.Duration
	metrics       *MetricsService
	audit         auditTrail
	signer        *receipt.Signer
	csv           datasetRenderer
	pdf           pdfRenderer
	receiptPrefix string
	schoolName    string
	now           func() time.Time
}

// NewPaymentLedgerService constructs the payment ledger.
func NewPaymentLedgerService(
	collections collectionStore,
	assignments assignmentReader,
	catalog catalogFinder,
	directory ledgerDirectory,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...PaymentLedgerOption,
) *PaymentLedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &PaymentLedgerService{
		collections:   collections,
		assignments:   assignments,
		catalog:       catalog,
		directory:     directory,
		validator:     registerFeeValidations(validate),
		logger:        logger,
		receiptPrefix: defaultReceiptPrefix,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// BuildAndCollect validates a collect request, loads what it references and posts it.
func (s *PaymentLedgerService) BuildAndCollect(ctx context.Context, req dto.CollectFeeRequest, staffID string) (*models.CollectionResult, error) {
	result, err := s.buildAndCollect(ctx, req, staffID)
	if err != nil && s.metrics != nil {
		s.metrics.RecordCollectionRejection(appErrors.FromError(err).Code)
	}
	return result, err
}

func (s *PaymentLedgerService) buildAndCollect(ctx context.Context, req dto.CollectFeeRequest, staffID string) (*models.CollectionResult, error) {
	req.PaymentMode = models.PaymentMode(strings.ToLower(strings.TrimSpace(string(req.PaymentMode))))
	req.Semester = models.Semester(strings.ToLower(strings.TrimSpace(string(req.Semester))))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.FromValidation(err, "invalid fee collection payload")
	}
	if err := s.ensureStaff(ctx, staffID); err != nil {
		return nil, err
	}

	collectionDate := s.now()
	if req.CollectionDate != "" {
		parsed, err := time.Parse("2006-01-02", req.CollectionDate)
		if err != nil {
			return nil, appErrors.Field("collection_date", "collection date must be formatted 2006-01-02")
		}
		if parsed.After(models.DateOnly(collectionDate)) {
			return nil, appErrors.Field("collection_date", "collection date cannot be in the future")
		}
		collectionDate = parsed
	}

	in := CollectionInput{
		StudentID:       strings.TrimSpace(req.StudentID),
		StaffID:         staffID,
		PaymentMode:     req.PaymentMode,
		ReferenceNumber: req.ReferenceNumber,
		Remarks:         req.Remarks,
		Semester:        req.Semester,
		CollectionDate:  collectionDate,
		Amount:          req.Amount,
	}

	if req.Direct != nil {
		if req.Pending != nil {
			return nil, appErrors.Field("funding", "choose either a pending payment or a direct payment, not both")
		}
		exists, err := s.directory.StudentExists(ctx, in.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if !exists {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		if _, err := s.catalog.GetCategory(ctx, req.Direct.FeeCategoryID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Field("direct.fee_category_id", "fee category not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee category")
		}
		in.Direct = &DirectPayment{CategoryID: req.Direct.FeeCategoryID, Description: req.Direct.Description}
	} else if req.Pending != nil {
		if err := s.loadPendingSelection(ctx, &in, *req.Pending); err != nil {
			return nil, err
		}
	}

	draft, err := BuildCollection(in)
	if err != nil {
		return nil, err
	}
	return s.Collect(ctx, draft)
}

func (s *PaymentLedgerService) loadPendingSelection(ctx context.Context, in *CollectionInput, sel dto.PendingSelection) error {
	placement, err := s.directory.StudentPlacement(ctx, in.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student has no active enrollment")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student placement")
	}
	in.Placement = placement
	in.IncludeLateFee = sel.IncludeLateFee
	in.ExpectedPendingAmount = sel.ExpectedPendingAmount
	in.OptionalFeeIDs = sel.OptionalFeeIDs

	if id := strings.TrimSpace(sel.AssignmentID); id != "" {
		assignment, err := s.assignments.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Field("pending.assignment_id", "fee assignment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee assignment")
		}
		in.Assignment = assignment
	}
	if len(sel.OptionalFeeIDs) > 0 {
		structures, err := s.catalog.FindStructuresByIDs(ctx, sel.OptionalFeeIDs)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load optional fees")
		}
		in.Optional = structures
	}
	return nil
}

func (s *PaymentLedgerService) ensureStaff(ctx context.Context, staffID string) error {
	if strings.TrimSpace(staffID) == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "missing collector identity")
	}
	ok, err := s.directory.StaffExists(ctx, staffID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check collector")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "collector is not an active staff member")
	}
	return nil
}

// Collect posts a built draft in one transaction: the assignment is locked and re-checked,
// a receipt number is allocated, then the collection and the new balance are written together.
func (s *PaymentLedgerService) Collect(ctx context.Context, draft *CollectionDraft) (*models.CollectionResult, error) {
	if draft == nil {
		return nil, appErrors.Clone(appErrors.ErrNoFundingSource, "")
	}
	start := time.Now()
	collection := draft.Collection
	collection.LineItems = append([]models.CollectionLineItem(nil), draft.Collection.LineItems...)

	err := s.collections.InTx(ctx, func(tx repository.LedgerTx) error {
		var locked *models.StudentFeeAssignment
		if id := draft.AssignmentID(); id != "" {
			assignment, err := tx.LockAssignment(ctx, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Field("pending.assignment_id", "fee assignment not found")
				}
				return err
			}
			if draft.ExpectedPending != nil && !draft.ExpectedPending.Equal(assignment.PendingAmount) {
				return appErrors.Clone(appErrors.ErrStaleAssignment, fmt.Sprintf("assignment pending is %s, expected %s", assignment.PendingAmount.StringFixed(2), draft.ExpectedPending.StringFixed(2)))
			}
			if err := applyToAssignment(assignment, draft.AssignmentShare, s.now()); err != nil {
				return err
			}
			collection.AssignmentPendingAfter = decimal.NewNullDecimal(assignment.PendingAmount)
			locked = assignment
		}

		seq, err := tx.NextReceiptSequence(ctx)
		if err != nil {
			return err
		}
		// The year is the posting year so numbers sort in issue order whatever the collection date.
		collection.ReceiptNumber = fmt.Sprintf("%s-%d-%06d", s.receiptPrefix, s.now().Year(), seq)

		if err := tx.InsertCollection(ctx, &collection); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.Clone(appErrors.ErrConflict, "receipt number already issued, retry the collection")
			}
			return err
		}
		if locked != nil {
			if err := tx.UpdateAssignmentBalance(ctx, locked.BalanceUpdate(s.now())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err, "failed to record fee collection")
	}

	if s.metrics != nil {
		s.metrics.RecordCollection(collection.PaymentMode, collection.FundingKind, collection.Amount, time.Since(start))
	}
	s.logger.Info("fee collected",
		zap.String("collection_id", collection.ID),
		zap.String("receipt_number", collection.ReceiptNumber),
		zap.String("student_id", collection.StudentID),
		zap.String("amount", collection.Amount.StringFixed(2)),
		zap.String("funding_kind", string(collection.FundingKind)),
	)
	newValues, _ := json.Marshal(collection)
	emitAudit(ctx, s.audit, s.logger, "payment-ledger-service", &models.AuditLog{
		UserID:     optionalString(collection.CollectedByStaffID),
		Action:     models.AuditActionFeeCollect,
		Resource:   "fee_collection",
		ResourceID: &collection.ID,
		NewValues:  newValues,
	})

	return &models.CollectionResult{
		CollectionID:  collection.ID,
		ReceiptNumber: collection.ReceiptNumber,
		Amount:        collection.Amount,
	}, nil
}

// Verify marks a collection verified by an admin. Verification is one-way.
func (s *PaymentLedgerService) Verify(ctx context.Context, collectionID, adminID string) (*models.FeeCollection, error) {
	allowed, err := s.directory.HasVerifyPermission(ctx, adminID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check verify permission")
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may verify fee collections")
	}

	var verified *models.FeeCollection
	err = s.collections.InTx(ctx, func(tx repository.LedgerTx) error {
		collection, err := tx.LockCollection(ctx, collectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "fee collection not found")
			}
			return err
		}
		if collection.IsVerified {
			return appErrors.Clone(appErrors.ErrAlreadyVerified, fmt.Sprintf("collection %s was already verified", collection.ReceiptNumber))
		}
		if _, err := collection.Funding(); err != nil {
			return err
		}
		at := s.now()
		if err := tx.MarkVerified(ctx, collection.ID, adminID, at); err != nil {
			return err
		}
		collection.IsVerified = true
		collection.VerifiedByAdminID = &adminID
		collection.VerifiedAt = &at
		collection.UpdatedAt = at
		verified = collection
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err, "failed to verify fee collection")
	}

	s.invalidateReceipt(ctx, verified.ID)
	if s.metrics != nil {
		s.metrics.RecordVerification()
	}
	newValues, _ := json.Marshal(map[string]interface{}{"is_verified": true, "verified_at": verified.VerifiedAt})
	emitAudit(ctx, s.audit, s.logger, "payment-ledger-service", &models.AuditLog{
		UserID:     optionalString(adminID),
		Action:     models.AuditActionFeeVerify,
		Resource:   "fee_collection",
		ResourceID: &verified.ID,
		NewValues:  newValues,
	})
	return verified, nil
}

// Amend edits remarks and reference number of an unverified collection.
func (s *PaymentLedgerService) Amend(ctx context.Context, collectionID string, req dto.AmendCollectionRequest, actorID string) (*models.FeeCollection, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.FromValidation(err, "invalid amendment payload")
	}
	if req.Remarks == nil && req.ReferenceNumber == nil {
		return nil, appErrors.Field("remarks", "nothing to amend")
	}

	var before, after models.FeeCollection
	err := s.collections.InTx(ctx, func(tx repository.LedgerTx) error {
		collection, err := tx.LockCollection(ctx, collectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "fee collection not found")
			}
			return err
		}
		if collection.IsVerified {
			return appErrors.Clone(appErrors.ErrImmutableRecord, "")
		}
		before = *collection
		funding, err := collection.Funding()
		if err != nil {
			return err
		}

		remarks := collection.Remarks
		if req.Remarks != nil {
			remarks = strings.TrimSpace(*req.Remarks)
		}
		reference := collection.ReferenceNumber
		if req.ReferenceNumber != nil {
			reference = optionalString(*req.ReferenceNumber)
		}
		if collection.PaymentMode.RequiresReference() && reference == nil {
			return appErrors.Field("reference_number", fmt.Sprintf("reference number is required for %s payments", collection.PaymentMode))
		}
		if _, direct := funding.(models.DirectFunding); direct && remarks == "" {
			return appErrors.Field("remarks", "direct payments must keep a description")
		}

		at := s.now()
		if err := tx.UpdateCollectionNotes(ctx, collection.ID, remarks, reference, at); err != nil {
			return err
		}
		collection.Remarks = remarks
		collection.ReferenceNumber = reference
		collection.UpdatedAt = at
		after = *collection
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err, "failed to amend fee collection")
	}

	s.invalidateReceipt(ctx, after.ID)
	oldValues, _ := json.Marshal(map[string]interface{}{"remarks": before.Remarks, "reference_number": before.ReferenceNumber})
	newValues, _ := json.Marshal(map[string]interface{}{"remarks": after.Remarks, "reference_number": after.ReferenceNumber})
	emitAudit(ctx, s.audit, s.logger, "payment-ledger-service", &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionFeeAmend,
		Resource:   "fee_collection",
		ResourceID: &after.ID,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
	return &after, nil
}

const collectionHistoryLimit = 100

// History returns the audit trail of a collection, newest first.
func (s *PaymentLedgerService) History(ctx context.Context, collectionID string) ([]models.AuditLog, error) {
	if _, err := s.collections.GetByID(ctx, collectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee collection not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee collection")
	}
	if s.audit == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.audit.ListForResource(ctx, "fee_collection", collectionID, collectionHistoryLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load collection history")
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

// GetReceipt returns the printable projection of a committed collection.
func (s *PaymentLedgerService) GetReceipt(ctx context.Context, collectionID string) (*models.ReceiptView, error) {
	key := receiptCacheKeyPrefix + collectionID
	if s.cache != nil {
		var cached models.ReceiptView
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	view, err := s.collections.GetReceipt(ctx, collectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReceiptNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receipt")
	}
	if strings.TrimSpace(view.ReceiptNumber) == "" {
		return nil, appErrors.Clone(appErrors.ErrReceiptNotFound, "")
	}
	items, err := s.collections.ListLineItems(ctx, collectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receipt lines")
	}
	s.composeReceipt(view, items)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, view, s.cacheTTL)
	}
	return view, nil
}

func (s *PaymentLedgerService) composeReceipt(view *models.ReceiptView, items []models.CollectionLineItem) {
	view.SchoolName = s.schoolName
	view.Lines = make([]models.ReceiptLine, 0, len(items)+1)

	switch view.FundingKind {
	case models.FundingKindAssignment:
		if view.AssignmentID != nil && view.AssignmentAmount.Valid {
			category := "Fee"
			if view.AssignmentCategory != nil {
				category = *view.AssignmentCategory
			}
			view.Assignment = &models.ReceiptAssignment{
				AssignmentID:  *view.AssignmentID,
				CategoryName:  category,
				TotalAmount:   view.AssignmentTotal.Decimal,
				AmountApplied: view.AssignmentAmount.Decimal,
				PendingAfter:  view.AssignmentPendingAfter.Decimal,
			}
			view.Lines = append(view.Lines, models.ReceiptLine{
				Description: category,
				Kind:        string(models.FundingKindAssignment),
				Amount:      view.AssignmentAmount.Decimal,
			})
		}
	case models.FundingKindDirect:
		description := view.Remarks
		if view.DirectCategoryName != nil && *view.DirectCategoryName != "" {
			description = *view.DirectCategoryName + ": " + view.Remarks
		}
		view.Lines = append(view.Lines, models.ReceiptLine{
			Description: description,
			Kind:        string(models.FundingKindDirect),
			Amount:      view.Amount,
		})
	}
	for _, item := range items {
		structureID := item.FeeStructureID
		view.Lines = append(view.Lines, models.ReceiptLine{
			Description:    item.Description,
			FeeStructureID: &structureID,
			Kind:           string(item.Kind),
			Amount:         item.Amount,
		})
	}

	if s.signer != nil {
		code, err := s.signer.Code(receiptFields(view.ReceiptNumber, view.StudentID, view.Amount, view.CollectionDate))
		if err != nil {
			s.logger.Warn("failed to sign receipt", zap.String("receipt_number", view.ReceiptNumber), zap.Error(err))
		} else {
			view.VerificationCode = code
		}
	}
}

// CheckReceiptCode reports whether a printed verification code belongs to the receipt.
func (s *PaymentLedgerService) CheckReceiptCode(ctx context.Context, receiptNumber, code string) (*models.ReceiptCheck, error) {
	receiptNumber = strings.TrimSpace(receiptNumber)
	if receiptNumber == "" {
		return nil, appErrors.Field("receipt_number", "receipt number is required")
	}
	if strings.TrimSpace(code) == "" {
		return nil, appErrors.Field("code", "verification code is required")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "receipt verification is not configured")
	}
	collection, err := s.collections.GetByReceiptNumber(ctx, receiptNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrReceiptNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receipt")
	}
	check := &models.ReceiptCheck{ReceiptNumber: collection.ReceiptNumber}
	if s.signer.Verify(receiptFields(collection.ReceiptNumber, collection.StudentID, collection.Amount, collection.CollectionDate), code) {
		check.Valid = true
		check.Amount = collection.Amount
		check.IsVerified = collection.IsVerified
	}
	return check, nil
}

// ReceiptPDF renders the receipt as a PDF and returns it with a suggested filename.
func (s *PaymentLedgerService) ReceiptPDF(ctx context.Context, collectionID string) ([]byte, string, error) {
	if s.pdf == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "pdf rendering is not configured")
	}
	view, err := s.GetReceipt(ctx, collectionID)
	if err != nil {
		return nil, "", err
	}
	doc := export.ReceiptDocument{
		SchoolName:       view.SchoolName,
		ReceiptNumber:    view.ReceiptNumber,
		CollectionDate:   view.CollectionDate.Format("02 Jan 2006"),
		StudentName:      view.StudentName,
		StudentNumber:    view.StudentNumber,
		CollectedBy:      view.CollectedByName,
		PaymentMode:      strings.ToUpper(string(view.PaymentMode)),
		Remarks:          view.Remarks,
		Total:            view.Amount.StringFixed(2),
		Verified:         view.IsVerified,
		VerificationCode: view.VerificationCode,
	}
	if view.ReferenceNumber != nil {
		doc.ReferenceNumber = *view.ReferenceNumber
	}
	for _, line := range view.Lines {
		doc.Lines = append(doc.Lines, export.ReceiptLine{Description: line.Description, Amount: line.Amount.StringFixed(2)})
	}
	if view.Assignment != nil {
		doc.BalanceNote = fmt.Sprintf("%s: %s of %s paid on this receipt, %s outstanding after posting.",
			view.Assignment.CategoryName,
			view.Assignment.AmountApplied.StringFixed(2),
			view.Assignment.TotalAmount.StringFixed(2),
			view.Assignment.PendingAfter.StringFixed(2),
		)
	}
	content, err := s.pdf.RenderReceipt(doc)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return content, view.ReceiptNumber + ".pdf", nil
}

// ListCollections returns a filtered page of collections with pagination metadata.
func (s *PaymentLedgerService) ListCollections(ctx context.Context, query dto.CollectionQuery) ([]models.FeeCollection, *models.Pagination, error) {
	filter, err := collectionFilter(query)
	if err != nil {
		return nil, nil, err
	}
	collections, total, err := s.collections.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee collections")
	}
	return collections, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

var collectionExportHeaders = []string{"receipt_number", "collection_date", "student_id", "amount", "payment_mode", "reference_number", "funding_kind", "semester", "verified", "collected_by", "remarks"}

// ExportCollectionsCSV renders every collection matching the query as CSV.
func (s *PaymentLedgerService) ExportCollectionsCSV(ctx context.Context, query dto.CollectionQuery) ([]byte, error) {
	if s.csv == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "csv export is not configured")
	}
	dataset, err := s.collectionRegister(ctx, query)
	if err != nil {
		return nil, err
	}
	content, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return content, nil
}

// ExportCollectionsPDF prints the same register as a landscape PDF for the cash office.
func (s *PaymentLedgerService) ExportCollectionsPDF(ctx context.Context, query dto.CollectionQuery) ([]byte, error) {
	if s.pdf == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "pdf export is not configured")
	}
	dataset, err := s.collectionRegister(ctx, query)
	if err != nil {
		return nil, err
	}
	title := "Fee collections register"
	if s.schoolName != "" {
		title = s.schoolName + " - " + title
	}
	content, err := s.pdf.RenderRegister(dataset, title, "amount")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return content, nil
}

// collectionRegister pages through every matching collection and appends a total row.
func (s *PaymentLedgerService) collectionRegister(ctx context.Context, query dto.CollectionQuery) (export.Dataset, error) {
	filter, err := collectionFilter(query)
	if err != nil {
		return export.Dataset{}, err
	}
	filter.Page = 1
	filter.PageSize = maxExportPageSize

	rows := make([]map[string]string, 0)
	total := decimal.Zero
	for {
		collections, count, err := s.collections.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee collections")
		}
		for _, c := range collections {
			rows = append(rows, collectionRow(c))
			total = total.Add(c.Amount)
		}
		if len(collections) == 0 || filter.Page*filter.PageSize >= count {
			break
		}
		filter.Page++
	}
	return export.Dataset{
		Headers: collectionExportHeaders,
		Rows:    rows,
		Footer:  map[string]string{"receipt_number": fmt.Sprintf("TOTAL (%d)", len(rows)), "amount": total.StringFixed(2)},
	}, nil
}

const maxExportPageSize = 500

func collectionRow(c models.FeeCollection) map[string]string {
	row := map[string]string{
		"receipt_number":  c.ReceiptNumber,
		"collection_date": c.CollectionDate.Format("2006-01-02"),
		"student_id":      c.StudentID,
		"amount":          c.Amount.StringFixed(2),
		"payment_mode":    string(c.PaymentMode),
		"funding_kind":    string(c.FundingKind),
		"verified":        fmt.Sprintf("%t", c.IsVerified),
		"collected_by":    c.CollectedByStaffID,
		"remarks":         c.Remarks,
	}
	if c.ReferenceNumber != nil {
		row["reference_number"] = *c.ReferenceNumber
	}
	if c.Semester != nil {
		row["semester"] = string(*c.Semester)
	}
	return row
}

func collectionFilter(query dto.CollectionQuery) (models.CollectionFilter, error) {
	filter := models.CollectionFilter{
		StudentID:   strings.TrimSpace(query.StudentID),
		StaffID:     strings.TrimSpace(query.StaffID),
		PaymentMode: models.PaymentMode(strings.ToLower(string(query.PaymentMode))),
		Verified:    query.Verified,
		Semester:    models.Semester(strings.ToLower(string(query.Semester))),
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	if filter.PaymentMode != "" && !filter.PaymentMode.Valid() {
		return filter, appErrors.Field("payment_mode", "unsupported payment mode")
	}
	if filter.Semester != "" && !filter.Semester.Valid() {
		return filter, appErrors.Field("semester", "unsupported semester")
	}
	if query.From != "" {
		from, err := time.Parse("2006-01-02", query.From)
		if err != nil {
			return filter, appErrors.Field("from", "from must be formatted 2006-01-02")
		}
		filter.From = &from
	}
	if query.To != "" {
		to, err := time.Parse("2006-01-02", query.To)
		if err != nil {
			return filter, appErrors.Field("to", "to must be formatted 2006-01-02")
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, appErrors.Field("to", "to must not be before from")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > maxExportPageSize {
		filter.PageSize = maxExportPageSize
	}
	return filter, nil
}

func (s *PaymentLedgerService) invalidateReceipt(ctx context.Context, collectionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, receiptCacheKeyPrefix+collectionID); err != nil {
		s.logger.Warn("failed to invalidate receipt cache", zap.String("collection_id", collectionID), zap.Error(err))
	}
}

func receiptFields(number, studentID string, amount decimal.Decimal, date time.Time) receipt.Fields {
	return receipt.Fields{ReceiptNumber: number, StudentID: studentID, Amount: amount.StringFixed(2), CollectionDate: date}
}
