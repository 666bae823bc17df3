package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

func NewSQLManager(db *sqlx.DB) *SQLManager {
	return &SQLManager{
		DB: db,
	}
}

type SQLManager struct {
	DB *sqlx.DB
}

type sqlData struct {
	ID           int64          `db:"id"`
	Username     string         `db:"username"`
	PasswordHash string         `db:"password_hash"`
	Email        string         `db:"email"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	Avatar       sql.NullString `db:"avatar"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

var sqlColumns = []string{
	"id",
	"username",
	"password_hash",
	"email",
	"first_name",
	"last_name",
	"avatar",
	"created_at",
	"updated_at",
}

var selectUsers = fmt.Sprintf("SELECT %s FROM users", strings.Join(sqlColumns, ", "))

func (d *sqlData) ToDTO() *User {
	return &User{
		ID:           d.ID,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		Email:        d.Email,
		FirstName:    d.FirstName.String,
		LastName:     d.LastName.String,
		Avatar:       d.Avatar.String,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (m *SQLManager) GetUser(ctx context.Context, id int64) (*User, error) {
	var d sqlData
	if err := m.DB.GetContext(ctx, &d, m.DB.Rebind(selectUsers+" WHERE id=?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to get user %d", id)
	}

	return d.ToDTO(), nil
}

func (m *SQLManager) GetUsers(ctx context.Context, limit, offset int) ([]User, error) {
	data := make([]sqlData, 0)
	if err := m.DB.SelectContext(ctx, &data, m.DB.Rebind(selectUsers+" ORDER BY id LIMIT ? OFFSET ?"), limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}

	dtos := make([]User, 0, len(data))
	for _, d := range data {
		dtos = append(dtos, *d.ToDTO())
	}
	return dtos, nil
}
