package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type AccountRole string

const (
	RoleOrdinary  AccountRole = "ordinary"
	RoleCollector AccountRole = "collector"
)

type Account struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Email     string          `json:"email" db:"email"`
	Role      AccountRole     `json:"role" db:"role"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt sql.NullTime    `json:"deleted_at" db:"deleted_at"`
}

func (a *Account) IsDeleted() bool {
	return a.DeletedAt.Valid
}
