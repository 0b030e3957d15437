package user

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User owns a prepaid balance. Balance is only written by the ledger engine
// while the row is locked.
type User struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Email     string          `db:"email" json:"email"`
	Subject   string          `db:"subject" json:"-"`
	Role      string          `db:"role" json:"role"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Banned    bool            `db:"banned" json:"banned"`
	RFID      *string         `db:"rfid" json:"rfid,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

type SetRFIDRequest struct {
	Tag string `json:"tag" validate:"required,min=4,max=64"`
}

type SetBannedRequest struct {
	Banned bool `json:"banned"`
}
