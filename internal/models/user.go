package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an account known to the assistance platform. Credentials live in the
// external identity provider; this row carries what authorization and the
// allocation rules need.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Email     string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string         `gorm:"size:255" json:"name,omitempty"`
	// Department scopes finance managers to the pools of their department.
	Department string `gorm:"size:100;index" json:"department,omitempty"`
	// EligibilityScore is the applicant-suitability score checked against a
	// pool's eligibility threshold.
	EligibilityScore float64 `gorm:"not null;default:0" json:"eligibilityScore"`
	// ProfileID links the user to an authorization profile (role).
	// A nil value means the user has no profile assigned (limited access).
	ProfileID *uint    `gorm:"index" json:"profileId,omitempty"`
	Profile   *Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
}

// Role returns the name of the user's profile, or "" when none is assigned.
func (u *User) Role() string {
	if u.Profile == nil {
		return ""
	}
	return u.Profile.Name
}
