package license

import "time"

// Status is the display state of a key
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// KeyStatus derives the status of a key. Revocation wins over expiry.
func KeyStatus(revoked bool, expiresAt, now time.Time) Status {
	switch {
	case revoked:
		return StatusRevoked
	case !now.Before(expiresAt):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Key is an issued license key
type Key struct {
	ID          int64     `json:"id" db:"id"`
	Key         string    `json:"key" db:"key"`
	Game        Game      `json:"game" db:"game"`
	ResellerID  int64     `json:"resellerId" db:"reseller_id"`
	DeviceLimit int       `json:"deviceLimit" db:"device_limit"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt   time.Time `json:"expiresAt" db:"expires_at"`
	Revoked     bool      `json:"revoked" db:"revoked"`
}

// Status returns the key's status at now
func (k *Key) Status(now time.Time) Status {
	return KeyStatus(k.Revoked, k.ExpiresAt, now)
}

// Device is a client device bound to a key
type Device struct {
	ID           int64     `json:"id" db:"id"`
	KeyID        int64     `json:"keyId" db:"key_id"`
	DeviceID     string    `json:"deviceId" db:"device_id"`
	RegisteredAt time.Time `json:"registeredAt" db:"registered_at"`
}

// Reseller owns keys and a credit balance
type Reseller struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Credits      int64     `json:"credits" db:"credits"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// ReferralToken gates one reseller registration
type ReferralToken struct {
	Token     string     `json:"token" db:"token"`
	Used      bool       `json:"used" db:"used"`
	UsedBy    *string    `json:"usedBy,omitempty" db:"used_by"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UsedAt    *time.Time `json:"usedAt,omitempty" db:"used_at"`
}

// Update is an admin broadcast message
type Update struct {
	ID        int64     `json:"id" db:"id"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// KeyView is a key annotated for listings
type KeyView struct {
	*Key
	Status  Status `json:"status"`
	Devices int    `json:"devices"`
}

// Clock abstracts time for expiry decisions
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC
var SystemClock Clock = systemClock{}
