package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusPending  CampaignStatus = "pending"
	CampaignStatusRunning  CampaignStatus = "running"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusCanceled CampaignStatus = "canceled"
	CampaignStatusFinished CampaignStatus = "finished"
)

// Campaign models a bulk WhatsApp send job against one recipient source.
type Campaign struct {
	ID              uuid.UUID
	Name            string
	SessionID       string
	SourceID        uuid.UUID
	Payload         Payload
	DelaySeconds    int
	TotalRecipients int64
	SentCount       int64
	FailedCount     int64
	Status          CampaignStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// Startable reports whether Start may be accepted in the current state.
func (c *Campaign) Startable() bool {
	switch c.Status {
	case CampaignStatusDraft, CampaignStatusPending, CampaignStatusPaused:
		return true
	}
	return false
}

// Terminal reports whether the campaign reached a final state.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignStatusCanceled || c.Status == CampaignStatusFinished
}

// Accounted reports whether every message has a recorded outcome.
func (c *Campaign) Accounted() bool {
	return c.TotalRecipients > 0 && c.SentCount+c.FailedCount >= c.TotalRecipients
}

// Progress is the caller-facing aggregate view of a campaign.
type Progress struct {
	Status          CampaignStatus
	TotalRecipients int64
	SentCount       int64
	FailedCount     int64
}
