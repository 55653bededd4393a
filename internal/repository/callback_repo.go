package repository

import (
	"skillyug/internal/models"

	"gorm.io/gorm"
)

// CallbackRepository is append-only: rows are inserted and read, never updated or deleted.
type CallbackRepository struct {
	db *gorm.DB
}

func NewCallbackRepository(db *gorm.DB) *CallbackRepository {
	return &CallbackRepository{db: db}
}

func (r *CallbackRepository) Create(rec *models.CallbackRecord) error {
	return r.db.Create(rec).Error
}

func (r *CallbackRepository) ListByOrderRef(ref string) ([]models.CallbackRecord, error) {
	var list []models.CallbackRecord
	err := r.db.Where("order_ref = ?", ref).Order("received_at ASC").Find(&list).Error
	return list, err
}

func (r *CallbackRepository) CountByOrderRef(ref string) (int64, error) {
	var c int64
	err := r.db.Model(&models.CallbackRecord{}).Where("order_ref = ?", ref).Count(&c).Error
	return c, err
}
