package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	Role      string    `gorm:"size:20;not null;index" json:"role"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string  `json:"username" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Email    *string `json:"email"`
	Password string  `json:"password" validate:"required,min=8"`
	Role     string  `json:"role" validate:"required,oneof=admin buyer supplier"`
}

type LoginInfo struct {
	Token string `json:"token"`
	Id    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func (u *User) toDomain() aftersales.User {
	return aftersales.User{
		ID:        u.ID,
		Name:      u.Name,
		Role:      aftersales.Role(u.Role),
		IsActive:  utils.DereferencePtr(u.IsActive),
		CreatedAt: u.CreatedAt,
	}
}

// CreateUser hashes the password and stores an active user.
func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	role, err := aftersales.ParseRole(input.Role)
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	active := true
	user := User{
		ID:       uuid.NewString(),
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     strings.TrimSpace(input.Name),
		Email:    input.Email,
		Password: string(hashed),
		Role:     string(role),
		IsActive: &active,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, errors.New("username already exists")
		}
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, errors.New("invalid username or password")
	}

	err := utils.ComparePassword(user.Password, password)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, errors.New("invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	if !utils.DereferencePtr(user.IsActive) {
		return nil, errors.New("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginInfo{Token: token, Id: user.ID, Name: user.Name, Role: user.Role}, nil
}

// UserDirectory answers the assignment lookups against the users table.
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	if db == nil {
		db = config.GetDB()
	}
	return &UserDirectory{db: db}
}

func (d *UserDirectory) FindById(ctx context.Context, id string) (*aftersales.User, error) {
	var row User
	found, err := take(d.db.WithContext(ctx).Where("id = ?", id), &row)
	if err != nil || !found {
		return nil, err
	}
	u := row.toDomain()
	return &u, nil
}

func (d *UserDirectory) FindActiveUsersByRole(ctx context.Context, role aftersales.Role) ([]aftersales.User, error) {
	var rows []User
	err := d.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", string(role), true).
		Order("created_at").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]aftersales.User, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toDomain())
	}
	return results, nil
}

// UserNames returns display names for the ids that exist.
func (d *UserDirectory) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	var rows []User
	if err := d.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(rows))
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
