package models

import "time"

type Entitlement struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BuyerID   string    `gorm:"size:64;not null;uniqueIndex:idx_entitlement_pair" json:"buyer_id"`
	CourseID  string    `gorm:"size:64;not null;uniqueIndex:idx_entitlement_pair" json:"course_id"`
	OrderRef  string    `gorm:"size:64;not null;uniqueIndex" json:"order_ref"`
	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
}

func (Entitlement) TableName() string {
	return "entitlements"
}

// Purchase is an entitlement joined with its course for the buyer's library.
type Purchase struct {
	CourseID         string    `json:"course_id"`
	Title            string    `json:"title"`
	OrderRef         string    `json:"order_ref"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	GrantedAt        time.Time `json:"granted_at"`
}
