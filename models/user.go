package models

import (
	"context"
	"errors"
	"os"

	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/config"
	"github.com/aimastermebjm-byte/Azzahra-Fashion-Muslim-sub003/utils"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type User struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:191" json:"name"`
	Username string `gorm:"size:64;uniqueIndex" json:"username"`
	Password string `gorm:"size:191" json:"-"`
	Role     string `gorm:"size:32;default:admin" json:"role"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func Login(ctx context.Context, input LoginInput) (string, *User, error) {
	var user User
	err := config.GetDB().WithContext(ctx).First(&user, "username = ?", input.Username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := utils.ComparePassword(user.Password, input.Password); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := utils.JwtGenerate(user.ID, user.Name, user.Role)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// EnsureDefaultAdmin seeds the first operator account when the table is
// empty. Password comes from ADMIN_PASSWORD, falling back to a throwaway
// default for local development.
func EnsureDefaultAdmin(ctx context.Context) error {
	var count int64
	if err := config.GetDB().WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "default123"
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	admin := User{
		Name:     "Administrator",
		Username: "admin",
		Password: string(hashed),
		Role:     "admin",
	}
	return config.GetDB().WithContext(ctx).Create(&admin).Error
}
