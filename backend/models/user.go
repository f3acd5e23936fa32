package models

import (
	"gorm.io/gorm"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

type User struct {
	gorm.Model
	Username     string     `gorm:"size:100;unique;not null;index" json:"username"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	IDNumber     *string    `gorm:"size:50;unique" json:"id_number,omitempty"`
	FullName     string     `gorm:"size:100;index" json:"full_name"`
	Status       UserStatus `gorm:"size:20;not null;default:active" json:"status"`

	Groups []Group `gorm:"many2many:user_groups" json:"groups,omitempty"`
	Roles  []Role  `gorm:"many2many:user_roles" json:"roles,omitempty"`
}

type Group struct {
	gorm.Model
	Name        string `gorm:"size:100;unique;not null" json:"name"`
	Description string `json:"description"`

	Users []User `gorm:"many2many:user_groups" json:"users,omitempty"`
}

type Role struct {
	gorm.Model
	Code        string `gorm:"size:50;unique;not null" json:"code"`
	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `json:"description"`

	Permissions []Permission `gorm:"many2many:role_permissions" json:"permissions,omitempty"`
	Users       []User       `gorm:"many2many:user_roles" json:"-"`
}

// Permission codes checked by the route middleware, e.g. "manage_exams",
// "grade_exams", "view_all_results".
type Permission struct {
	gorm.Model
	Code string `gorm:"size:50;unique;not null" json:"code"`
	Name string `gorm:"size:100;not null" json:"name"`
}
