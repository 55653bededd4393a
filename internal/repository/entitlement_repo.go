package repository

import (
	"errors"

	"skillyug/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EntitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) WithTx(tx *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: tx}
}

// Grant inserts the entitlement unless the buyer already holds the course. It returns
// the row that holds the grant, which belongs to a different order when the buyer
// already owned the course.
func (r *EntitlementRepository) Grant(e *models.Entitlement) (*models.Entitlement, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return e, nil
	}
	existing, err := r.Get(e.BuyerID, e.CourseID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return r.GetByOrderRef(e.OrderRef)
	}
	return existing, nil
}

// Get returns nil, nil when the buyer does not hold the course.
func (r *EntitlementRepository) Get(buyerID, courseID string) (*models.Entitlement, error) {
	var e models.Entitlement
	err := r.db.Where("buyer_id = ? AND course_id = ?", buyerID, courseID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EntitlementRepository) GetByOrderRef(ref string) (*models.Entitlement, error) {
	var e models.Entitlement
	err := r.db.Where("order_ref = ?", ref).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EntitlementRepository) Exists(buyerID, courseID string) (bool, error) {
	var c int64
	err := r.db.Model(&models.Entitlement{}).Where("buyer_id = ? AND course_id = ?", buyerID, courseID).Count(&c).Error
	return c > 0, err
}

func (r *EntitlementRepository) CountByBuyerCourse(buyerID, courseID string) (int64, error) {
	var c int64
	err := r.db.Model(&models.Entitlement{}).Where("buyer_id = ? AND course_id = ?", buyerID, courseID).Count(&c).Error
	return c, err
}

// ListPurchases returns the buyer's entitlements with course and price details, newest first.
func (r *EntitlementRepository) ListPurchases(buyerID string, limit, offset int) ([]models.Purchase, error) {
	var list []models.Purchase
	err := r.db.Table("entitlements AS e").
		Select("e.course_id, c.title, e.order_ref, o.amount_minor_units, o.currency, e.granted_at").
		Joins("LEFT JOIN courses c ON c.id = e.course_id").
		Joins("LEFT JOIN orders o ON o.order_ref = e.order_ref").
		Where("e.buyer_id = ?", buyerID).
		Order("e.granted_at DESC").Limit(limit).Offset(offset).
		Scan(&list).Error
	return list, err
}
