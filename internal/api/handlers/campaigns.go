package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-campaign/internal/domain"
	campaignsvc "github.com/acme/whatsapp-campaign/internal/service/campaign"
)

type createCampaignRequest struct {
	Name         string         `json:"name"`
	SessionID    string         `json:"session_id"`
	SourceID     string         `json:"source_id"`
	DelaySeconds int            `json:"delay_seconds"`
	Payload      payloadRequest `json:"payload"`
}

type payloadRequest struct {
	Type           string   `json:"type"`
	Body           string   `json:"body"`
	MediaPath      string   `json:"media_path"`
	Filename       string   `json:"filename"`
	URL            string   `json:"url"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	LocationName   string   `json:"location_name"`
	ContactName    string   `json:"contact_name"`
	ContactPhone   string   `json:"contact_phone"`
	PollQuestion   string   `json:"poll_question"`
	PollOptions    []string `json:"poll_options"`
	PollMaxAnswers int      `json:"poll_max_answers"`
}

type recipientRequest struct {
	Phone     string            `json:"phone"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Extra     map[string]string `json:"extra"`
}

type campaignResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	SessionID       string                `json:"session_id"`
	SourceID        uuid.UUID             `json:"source_id"`
	Status          domain.CampaignStatus `json:"status"`
	DelaySeconds    int                   `json:"delay_seconds"`
	TotalRecipients int64                 `json:"total_recipients"`
	SentCount       int64                 `json:"sent_count"`
	FailedCount     int64                 `json:"failed_count"`
	Payload         payloadResponse       `json:"payload"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}

type payloadResponse struct {
	Type           string   `json:"type"`
	Body           string   `json:"body,omitempty"`
	MediaPath      string   `json:"media_path,omitempty"`
	Filename       string   `json:"filename,omitempty"`
	URL            string   `json:"url,omitempty"`
	Latitude       float64  `json:"latitude,omitempty"`
	Longitude      float64  `json:"longitude,omitempty"`
	LocationName   string   `json:"location_name,omitempty"`
	ContactName    string   `json:"contact_name,omitempty"`
	ContactPhone   string   `json:"contact_phone,omitempty"`
	PollQuestion   string   `json:"poll_question,omitempty"`
	PollOptions    []string `json:"poll_options,omitempty"`
	PollMaxAnswers int      `json:"poll_max_answers,omitempty"`
}

type campaignStatusResponse struct {
	Status          domain.CampaignStatus `json:"status"`
	TotalRecipients int64                 `json:"total_recipients"`
	SentCount       int64                 `json:"sent_count"`
	FailedCount     int64                 `json:"failed_count"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type messageResponse struct {
	ID           uuid.UUID            `json:"id"`
	CampaignID   uuid.UUID            `json:"campaign_id"`
	RecipientID  uuid.UUID            `json:"recipient_id"`
	Phone        string               `json:"phone"`
	Body         string               `json:"body,omitempty"`
	Status       domain.MessageStatus `json:"status"`
	ErrorCode    string               `json:"error_code,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	SentAt       *time.Time           `json:"sent_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type receiptResponse struct {
	MessageID         uuid.UUID `json:"message_id"`
	Phone             string    `json:"phone"`
	Status            string    `json:"status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	DurationMs        int64     `json:"duration_ms"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type listReceiptsResponse struct {
	Receipts []receiptResponse `json:"receipts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid source id")
	}

	campaign, err := h.campaigns.Create(ctx.Context(), campaignsvc.CreateCampaignInput{
		Name:         req.Name,
		SessionID:    req.SessionID,
		SourceID:     sourceID,
		Payload:      toPayload(req.Payload),
		DelaySeconds: req.DelaySeconds,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		if id, err := uuid.Parse(afterStr); err == nil {
			afterID = &id
		}
	}

	campaigns, err := h.campaigns.List(ctx.Context(), afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) deleteCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.campaigns.Delete(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Start(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Pause(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) cancelCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Cancel(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignStatus(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	progress, err := h.campaigns.Status(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatusResponse{
		Status:          progress.Status,
		TotalRecipients: progress.TotalRecipients,
		SentCount:       progress.SentCount,
		FailedCount:     progress.FailedCount,
	})
}

func (h *HandlerSet) addRecipients(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req struct {
		Recipients []recipientRequest `json:"recipients"`
	}
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	inputs := make([]campaignsvc.RecipientInput, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		inputs = append(inputs, campaignsvc.RecipientInput{
			Phone:     r.Phone,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Email:     r.Email,
			Extra:     r.Extra,
		})
	}

	if err := h.campaigns.AddRecipients(ctx.Context(), id, inputs); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusAccepted)
}

func (h *HandlerSet) listCampaignMessages(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	status := ctx.Query("status", "")

	messages, err := h.campaigns.ListMessages(ctx.Context(), id, limit, status)
	if err != nil {
		return translateError(err)
	}

	resp := listMessagesResponse{Messages: make([]messageResponse, 0, len(messages))}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, messageResponse{
			ID:           m.ID,
			CampaignID:   m.CampaignID,
			RecipientID:  m.RecipientID,
			Phone:        m.Phone,
			Body:         m.Body,
			Status:       m.Status,
			ErrorCode:    m.ErrorCode,
			ErrorMessage: m.ErrorMessage,
			SentAt:       m.SentAt,
			CreatedAt:    m.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) listCampaignReceipts(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	token := ctx.Query("page_token", "")
	paging, err := campaignsvc.DecodePagingState(token)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	result, err := h.campaigns.ListReceipts(ctx.Context(), id, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listReceiptsResponse{Receipts: make([]receiptResponse, 0, len(result.Receipts))}
	for _, r := range result.Receipts {
		resp.Receipts = append(resp.Receipts, receiptResponse{
			MessageID:         r.MessageID,
			Phone:             r.Phone,
			Status:            r.Status,
			ErrorCode:         r.ErrorCode,
			Error:             r.Error,
			ProviderMessageID: r.ProviderMessageID,
			DurationMs:        r.DurationMs,
			OccurredAt:        r.OccurredAt,
		})
	}
	resp.NextPage = campaignsvc.EncodePagingState(result.PagingState)

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toPayload(req payloadRequest) domain.Payload {
	return domain.Payload{
		Type:           domain.MessageType(req.Type),
		Body:           req.Body,
		MediaPath:      req.MediaPath,
		Filename:       req.Filename,
		URL:            req.URL,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		LocationName:   req.LocationName,
		ContactName:    req.ContactName,
		ContactPhone:   req.ContactPhone,
		PollQuestion:   req.PollQuestion,
		PollOptions:    req.PollOptions,
		PollMaxAnswers: req.PollMaxAnswers,
	}
}

func toPayloadResponse(p domain.Payload) payloadResponse {
	return payloadResponse{
		Type:           string(p.Type),
		Body:           p.Body,
		MediaPath:      p.MediaPath,
		Filename:       p.Filename,
		URL:            p.URL,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		LocationName:   p.LocationName,
		ContactName:    p.ContactName,
		ContactPhone:   p.ContactPhone,
		PollQuestion:   p.PollQuestion,
		PollOptions:    p.PollOptions,
		PollMaxAnswers: p.PollMaxAnswers,
	}
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:              campaign.ID,
		Name:            campaign.Name,
		SessionID:       campaign.SessionID,
		SourceID:        campaign.SourceID,
		Status:          campaign.Status,
		DelaySeconds:    campaign.DelaySeconds,
		TotalRecipients: campaign.TotalRecipients,
		SentCount:       campaign.SentCount,
		FailedCount:     campaign.FailedCount,
		Payload:         toPayloadResponse(campaign.Payload),
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
		StartedAt:       campaign.StartedAt,
		FinishedAt:      campaign.FinishedAt,
	}
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
