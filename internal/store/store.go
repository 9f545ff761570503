// Package store provides persistence of sessions, fills and verification
// verdicts.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/execution"
	"marketsim/internal/replay"
	"marketsim/internal/simulation"
	"marketsim/internal/tradelog"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Sessions
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// Fills
	SaveTrades(ctx context.Context, sessionID string, trades []*execution.Trade) error
	GetTrades(ctx context.Context, sessionID string) ([]execution.Trade, error)

	// Verifications
	SaveVerification(ctx context.Context, v *Verification) error
	GetVerifications(ctx context.Context, filter VerificationFilter) ([]Verification, error)
	VerificationStats(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Close() error
}

// Session is one finished session and its sealed trade log.
type Session struct {
	ID            string
	SeasonID      string
	EngineVersion string
	TotalTicks    int
	TradeCount    int
	FinalCash     int64 // fixed-point raw value
	FinalEquity   int64 // fixed-point raw value
	Checksum      string
	Payload       *tradelog.Payload
	CreatedAt     time.Time
}

// NewSession builds a Session record from a sealed log and its outcome.
func NewSession(id string, p *tradelog.Payload, out simulation.Outcome) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:            id,
		SeasonID:      p.Meta.SeasonID,
		EngineVersion: p.Meta.EngineVersion,
		TotalTicks:    p.Meta.TotalTicks,
		TradeCount:    out.TradeCount,
		FinalCash:     int64(out.Cash),
		FinalEquity:   int64(out.Equity),
		Checksum:      p.Checksum,
		Payload:       p,
		CreatedAt:     time.Now(),
	}
}

// Verification is a stored replay verdict.
type Verification struct {
	ID          string
	SessionID   string
	SeasonID    string
	Code        string
	Message     string
	Divergences []replay.FieldDivergence
	Duration    time.Duration
	CreatedAt   time.Time
}

// NewVerification builds a Verification from a replay result.
func NewVerification(sessionID string, r *replay.Result) *Verification {
	return &Verification{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		SeasonID:    r.SeasonID,
		Code:        r.Code,
		Message:     r.Message,
		Divergences: r.Divergences,
		Duration:    r.Duration,
		CreatedAt:   time.Now(),
	}
}

// SessionFilter represents filters for querying sessions.
type SessionFilter struct {
	SeasonID  string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// VerificationFilter represents filters for querying verifications.
type VerificationFilter struct {
	SessionID string
	SeasonID  string
	Code      string
	Limit     int
}
