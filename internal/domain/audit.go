package domain

import (
	"fmt"
	"time"
)

// AuditEvent names an audited action.
type AuditEvent string

const (
	AuditBotEnabled      AuditEvent = "bot_enabled_changed"
	AuditPairAdded       AuditEvent = "pair_added"
	AuditPairRank        AuditEvent = "pair_rank_updated"
	AuditPairEnabled     AuditEvent = "pair_enabled_updated"
	AuditPairScore       AuditEvent = "pair_score_updated"
	AuditCascadeRun      AuditEvent = "cascade_run"
	AuditArchiveTrades   AuditEvent = "archive_trades"
	AuditArchiveCascades AuditEvent = "archive_cascades"
)

var auditEvents = map[AuditEvent]bool{
	AuditBotEnabled:      true,
	AuditPairAdded:       true,
	AuditPairRank:        true,
	AuditPairEnabled:     true,
	AuditPairScore:       true,
	AuditCascadeRun:      true,
	AuditArchiveTrades:   true,
	AuditArchiveCascades: true,
}

// ParseAuditEvent accepts a known event name. The empty string parses to the
// empty event, which filters nothing.
func ParseAuditEvent(s string) (AuditEvent, error) {
	e := AuditEvent(s)
	if s == "" || auditEvents[e] {
		return e, nil
	}
	return "", fmt.Errorf("%w: unknown audit event %q", ErrInvalidInput, s)
}

// AuditRecord is an action to append to the audit log. PairID and CascadeID
// are set when the action concerns one pair or one cascade run.
type AuditRecord struct {
	Event     AuditEvent
	PairID    string
	CascadeID string
	Detail    map[string]any
}

// Validate rejects unknown events.
func (r AuditRecord) Validate() error {
	if !auditEvents[r.Event] {
		return fmt.Errorf("%w: unknown audit event %q", ErrInvalidInput, r.Event)
	}
	return nil
}

// AuditEntry is a stored audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     AuditEvent     `json:"event"`
	PairID    string         `json:"pair_id,omitempty"`
	CascadeID string         `json:"cascade_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. Zero fields match everything.
type AuditFilter struct {
	ListOpts
	Event     AuditEvent
	CascadeID string
}
