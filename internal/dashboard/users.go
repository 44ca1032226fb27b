// v1
// internal/dashboard/users.go
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLen = 8

var (
	ErrEmailExists      = errors.New("email already exists")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordMismatch = errors.New("passwords did not match")
	ErrEmailRequired    = errors.New("email is required")
	ErrEmailNotFound    = errors.New("email not found")
	ErrBadPassword      = errors.New("password incorrect")
)

// User is an administrator account.
type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"size:150;uniqueIndex;not null"`
	Name         string `gorm:"size:150"`
	PasswordHash string `gorm:"column:password;size:150;not null"`
	CreatedAt    time.Time
}

func (User) TableName() string {
	return "users"
}

// Users is the account repository backed by the site database.
type Users struct {
	db   *gorm.DB
	cost int
}

func NewUsers(db *gorm.DB) (*Users, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return &Users{db: db, cost: bcrypt.DefaultCost}, nil
}

// Register validates the form fields and creates the account.
func (u *Users) Register(ctx context.Context, email, name, password, confirm string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, ErrEmailRequired
	}
	if _, err := u.ByEmail(ctx, email); err == nil {
		return User{}, ErrEmailExists
	} else if !errors.Is(err, ErrEmailNotFound) {
		return User{}, err
	}
	if len(password) < minPasswordLen {
		return User{}, ErrPasswordTooShort
	}
	if password != confirm {
		return User{}, ErrPasswordMismatch
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user := User{Email: email, Name: strings.TrimSpace(name), PasswordHash: string(hash)}
	if err := u.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrEmailExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks the credentials and returns the account.
func (u *Users) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := u.ByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadPassword
	}
	return user, nil
}

func (u *Users) ByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := u.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrEmailNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (u *Users) ByID(ctx context.Context, id uint) (User, error) {
	var user User
	if err := u.db.WithContext(ctx).Take(&user, id).Error; err != nil {
		return User{}, err
	}
	return user, nil
}
