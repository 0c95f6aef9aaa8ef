package models

import "gorm.io/gorm"

// User owns every other entity. The engine never crosses ownership
// boundaries except when pairing a user's own senders for warmup.
type User struct {
	gorm.Model
	Email string `gorm:"not null;uniqueIndex" json:"email"`
	Name  string `json:"name"`

	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	// Relations
	Senders   []Sender   `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Campaigns []Campaign `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Leads     []Lead     `gorm:"foreignKey:UserID" json:"leads,omitempty"`
}
