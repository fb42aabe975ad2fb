package model

import (
	"context"
	"time"
)

// Record is one login instance. CreatedAt identifies the record inside its Session.
type Record struct {
	Data      map[string]interface{} `json:"data" bson:"data"`
	ExpiresAt time.Time              `json:"expiresAt" bson:"expiresAt"`
	CreatedAt time.Time              `json:"createdAt" bson:"createdAt"`
}

// Expired reports whether the record is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Session holds every login instance of one session id. This is also the
// persisted document shape.
type Session struct {
	SessionID string   `json:"sessionId" bson:"sessionId"`
	Records   []Record `json:"sessions" bson:"sessions"`
}

// Find returns the record created at exactly createdAt.
func (s *Session) Find(createdAt time.Time) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, rec := range s.Records {
		if rec.CreatedAt.Equal(createdAt) {
			return rec, true
		}
	}
	return Record{}, false
}

// Clone returns a copy whose record slice can be modified without affecting s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	records := make([]Record, len(s.Records))
	copy(records, s.Records)
	return &Session{SessionID: s.SessionID, Records: records}
}

// Claim is the signed pair that identifies one Record.
type Claim struct {
	SessionID string
	CreatedAt time.Time
}

// ActiveSession is what a resolved token exposes to request handlers.
type ActiveSession struct {
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`

	logout func(ctx context.Context) error
}

// NewActiveSession builds an ActiveSession whose Logout invokes logout. Data is
// copied one level deep; nested values are still shared with the stored record.
func NewActiveSession(sessionID string, rec Record, logout func(ctx context.Context) error) *ActiveSession {
	data := make(map[string]interface{}, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	return &ActiveSession{
		SessionID: sessionID,
		Data:      data,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		logout:    logout,
	}
}

// Logout invalidates exactly this login instance.
func (a *ActiveSession) Logout(ctx context.Context) error {
	if a.logout == nil {
		return nil
	}
	return a.logout(ctx)
}
