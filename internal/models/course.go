package models

import "time"

// Course is the catalog entry checkout prices against.
type Course struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	PriceMinorUnits int64     `gorm:"not null" json:"price_minor_units"`
	Currency        string    `gorm:"size:3;not null;default:'INR'" json:"currency"`
	Purchasable     bool      `gorm:"not null" json:"purchasable"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Course) TableName() string {
	return "courses"
}
