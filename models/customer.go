package models

import (
	"context"
	"errors"
	"time"

	"github.com/marron15/gym-api/config"
	"gorm.io/gorm"
)

// Customer carries only the columns the reservation display joins and the
// seeders need. Customer CRUD itself lives in the membership service.
type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	FirstName string    `gorm:"size:100;not null" json:"first_name"`
	LastName  string    `gorm:"size:100" json:"last_name"`
	Email     string    `gorm:"size:100;index" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Status    string    `gorm:"size:20;default:'active'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCustomerById(ctx context.Context, id int) (*Customer, error) {
	db := config.GetDB()
	var customer Customer
	err := db.WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("customer not found")
		}
		return nil, err
	}
	return &customer, nil
}
