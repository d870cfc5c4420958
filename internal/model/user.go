package model

import (
	"time"

	"github.com/google/uuid"
)

// Per-application roles as stored on the local user record. The permission
// deriver maps them to concrete permission strings.
const (
	RoleFieldAgent  = "field_agent"
	RoleInspector   = "inspector"
	RoleTrader      = "trader"
	RoleRiskOfficer = "risk_officer"
)

type User struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Username       string           `db:"username" json:"username"`
	HashedPassword []byte           `db:"password" json:"-"`
	Roles          map[AppID]string `db:"roles" json:"roles"`
	Blocked        bool             `db:"blocked" json:"blocked"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
}
