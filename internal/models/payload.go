package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the closed set of domain data an outbox item can carry.
// Only the variants declared in this file implement it.
type Payload interface {
	EntityType() EntityType
	EntityID() string
	clonePayload() Payload
}

// VisitPayload describes a field visit to a party.
type VisitPayload struct {
	VisitID     string    `json:"visitId"`
	PartyID     string    `json:"partyId,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Notes       string    `json:"notes,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
}

func (p VisitPayload) EntityType() EntityType { return EntityVisit }
func (p VisitPayload) EntityID() string       { return p.VisitID }
func (p VisitPayload) clonePayload() Payload  { return p }

// TaskPayload describes a follow-up task, optionally tied to a visit.
type TaskPayload struct {
	TaskID  string     `json:"taskId"`
	VisitID string     `json:"visitId,omitempty"`
	Title   string     `json:"title"`
	Done    bool       `json:"done"`
	DueAt   *time.Time `json:"dueAt,omitempty"`
}

func (p TaskPayload) EntityType() EntityType { return EntityTask }
func (p TaskPayload) EntityID() string       { return p.TaskID }
func (p TaskPayload) clonePayload() Payload {
	if p.DueAt != nil {
		due := *p.DueAt
		p.DueAt = &due
	}
	return p
}

// PartyPayload describes a customer or prospect.
type PartyPayload struct {
	PartyID string `json:"partyId"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

func (p PartyPayload) EntityType() EntityType { return EntityParty }
func (p PartyPayload) EntityID() string       { return p.PartyID }
func (p PartyPayload) clonePayload() Payload  { return p }

// QuoteLine is a single priced line on a quote.
type QuoteLine struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

// QuotePayload describes a priced offer made to a party.
type QuotePayload struct {
	QuoteID  string      `json:"quoteId"`
	PartyID  string      `json:"partyId"`
	Currency string      `json:"currency"`
	Lines    []QuoteLine `json:"lines,omitempty"`
}

func (p QuotePayload) EntityType() EntityType { return EntityQuote }
func (p QuotePayload) EntityID() string       { return p.QuoteID }
func (p QuotePayload) clonePayload() Payload {
	if p.Lines != nil {
		p.Lines = append([]QuoteLine(nil), p.Lines...)
	}
	return p
}

// TotalCents sums the quote lines.
func (p QuotePayload) TotalCents() int64 {
	var total int64
	for _, l := range p.Lines {
		total += int64(l.Quantity) * l.UnitPriceCents
	}
	return total
}

// MediaPayload describes a captured file (photo, signature, document).
type MediaPayload struct {
	MediaID     string `json:"mediaId"`
	VisitID     string `json:"visitId,omitempty"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	SHA256      string `json:"sha256,omitempty"`
	LocalPath   string `json:"localPath,omitempty"`
}

func (p MediaPayload) EntityType() EntityType { return EntityMedia }
func (p MediaPayload) EntityID() string       { return p.MediaID }
func (p MediaPayload) clonePayload() Payload  { return p }

// EncodePayload serializes a payload variant to its JSON object form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EntityType(), err)
	}
	return data, nil
}

// DecodePayload parses raw JSON into the variant selected by entityType.
func DecodePayload(entityType EntityType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch entityType {
	case EntityVisit:
		var v VisitPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EntityTask:
		var v TaskPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EntityParty:
		var v PartyPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EntityQuote:
		var v QuotePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EntityMedia:
		var v MediaPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", entityType, err)
	}
	return p, nil
}
