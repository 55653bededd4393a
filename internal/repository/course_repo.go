package repository

import (
	"errors"

	"skillyug/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCourseNotFound = errors.New("course not found")

// CourseRepository holds the catalog prices checkout charges against.
type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) Create(c *models.Course) error {
	return r.db.Create(c).Error
}

// Upsert creates the course or replaces its title, price and purchasable flag.
func (r *CourseRepository) Upsert(c *models.Course) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "price_minor_units", "currency", "purchasable", "updated_at"}),
	}).Create(c).Error
}

func (r *CourseRepository) GetByID(id string) (*models.Course, error) {
	var c models.Course
	err := r.db.Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Price returns the authoritative catalog price for courseID.
func (r *CourseRepository) Price(courseID string) (int64, string, error) {
	c, err := r.GetByID(courseID)
	if err != nil {
		return 0, "", err
	}
	return c.PriceMinorUnits, c.Currency, nil
}

func (r *CourseRepository) IsPurchasable(courseID string) (bool, error) {
	c, err := r.GetByID(courseID)
	if err != nil {
		return false, err
	}
	return c.Purchasable && c.PriceMinorUnits > 0, nil
}
