package model

import (
	"time"

	"github.com/google/uuid"
)

// JWT claim / gin context keys.
const (
	UserUIDKey     = "uid"
	UserNameKey    = "name"
	SessionIDKey   = "sid"
	SessionAppKey  = "app"
	UserRolesKey   = "roles"
	UserSessionKey = "session"
)

// UnifiedSession is the identity record spanning both applications. One per
// user, created on first authentication, updated on every sync. CrossAppData
// holds foreign-key references only, never owned records.
type UnifiedSession struct {
	UserID      uuid.UUID          `db:"user_id" json:"userID"`
	PrimaryApp  AppID              `db:"primary_app" json:"primaryApp"`
	Permissions map[AppID][]string `db:"permissions" json:"permissions"`
	CrossApp    CrossAppData       `db:"cross_app_data" json:"crossAppData"`
	LastSync    time.Time          `db:"last_sync" json:"lastSync"`
	CreatedAt   time.Time          `db:"created_at" json:"createdAt"`
}

// CrossAppData lists record references shared between the applications.
type CrossAppData struct {
	InventoryRefs  []uuid.UUID `json:"inventoryRefs,omitempty"`
	TradeRefs      []uuid.UUID `json:"tradeRefs,omitempty"`
	ComplianceRefs []uuid.UUID `json:"complianceRefs,omitempty"`
}

// HasAccess reports whether the unified session grants any permission for
// the given application. Empty or absent means no access (fail closed).
func (s *UnifiedSession) HasAccess(app AppID) bool {
	return len(s.Permissions[app]) > 0
}

// AppSession is a single-application login. At most one per (user, app);
// creating a new one supersedes the old. Invalid once lastActivity is older
// than the session timeout, regardless of explicit logout.
type AppSession struct {
	SessionID    uuid.UUID  `db:"session_id" json:"sessionID"`
	UserID       uuid.UUID  `db:"user_id" json:"userID"`
	App          AppID      `db:"app" json:"app"`
	Permissions  []string   `db:"permissions" json:"permissions"`
	DeviceInfo   DeviceInfo `db:"device_info" json:"deviceInfo"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	LastActivity time.Time  `db:"last_activity" json:"lastActivity"`
}

// Expired reports whether the session has outlived the inactivity timeout
// at the given instant.
func (s *AppSession) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) >= timeout
}

type DeviceInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Country   string `json:"country,omitempty"`
	ASN       uint   `json:"asn,omitempty"`
	ASNOrg    string `json:"asnOrg,omitempty"`
}

// Credentials are passed through to the injected validator; this layer never
// interprets them beyond handing them over.
type Credentials struct {
	Username string `binding:"required" json:"username"`
	Password string `binding:"required" json:"password"`
}

// Profile is what the credential validator returns for a valid login.
type Profile struct {
	UserID   uuid.UUID        `json:"userID"`
	Username string           `json:"username"`
	Roles    map[AppID]string `json:"roles"`
}

type LoginRequest struct {
	Username string `binding:"required" json:"username"`
	Password string `binding:"required" json:"password"`
}

type SwitchRequest struct {
	TargetApp AppID `binding:"required" json:"targetApp"`
}

type LogoutRequest struct {
	AllApps bool `json:"allApps"`
}

// SessionResponse is returned by login and switch endpoints.
type SessionResponse struct {
	Unified     *UnifiedSession `json:"unified,omitempty"`
	Session     *AppSession     `json:"session"`
	AccessToken string          `json:"accessToken"`
}
