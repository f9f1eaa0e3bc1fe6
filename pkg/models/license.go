package models

import "time"

// License is a single entitlement record. Key is the primary key and never
// changes; UsageCount and LastUsedAt move only on successful validation.
type License struct {
	Key        string     `db:"license_key"  json:"license_key"  bson:"_id"`
	Active     bool       `db:"active"       json:"active"       bson:"active"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"   bson:"created_at"`
	ExpiresAt  *time.Time `db:"expires_at"   json:"expires_at"   bson:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at" bson:"last_used_at"`
	UsageCount int64      `db:"usage_count"  json:"usage_count"  bson:"usage_count"`
	Notes      *string    `db:"notes"        json:"notes"        bson:"notes"`
}

// ExpiredAt reports whether the license has an expiry strictly before t.
func (l *License) ExpiredAt(t time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(t)
}

// Clone returns a deep copy so callers can't mutate shared pointers.
func (l *License) Clone() *License {
	c := *l
	if l.ExpiresAt != nil {
		v := *l.ExpiresAt
		c.ExpiresAt = &v
	}
	if l.LastUsedAt != nil {
		v := *l.LastUsedAt
		c.LastUsedAt = &v
	}
	if l.Notes != nil {
		v := *l.Notes
		c.Notes = &v
	}
	return &c
}
