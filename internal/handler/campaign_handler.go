package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP
// handlers.
type CampaignHandler struct {
	Service *service.CampaignService
	Logger  *zap.Logger
}

func NewCampaignHandler(svc *service.CampaignService, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{Service: svc, Logger: logger}
}

// Routes mounts the campaign endpoints.
func (h *CampaignHandler) Routes(r chi.Router) {
	r.Post("/campaigns", h.CreateCampaign)
	r.Get("/campaigns", h.ListCampaigns)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Post("/campaigns/{id}", h.CampaignAction)
	r.Put("/campaigns/{id}", h.UpdateCampaign)
	r.Delete("/campaigns/{id}", h.DeleteCampaign)
	r.Get("/campaigns/{id}/records", h.ListRecords)
}

type recipientPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toRecipients(in []recipientPayload) []model.Recipient {
	out := make([]model.Recipient, len(in))
	for i, r := range in {
		out[i] = model.Recipient{Email: r.Email, Name: r.Name}
	}
	return out
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                 string             `json:"name"`
		Subject              string             `json:"subject"`
		BodyTemplate         string             `json:"body_template"`
		FromEmail            string             `json:"from_email"`
		FromName             string             `json:"from_name"`
		SourceType           string             `json:"source_type"`
		SourceRef            int                `json:"source_ref"`
		Recipients           []recipientPayload `json:"recipients"`
		EnableRandomInterval bool               `json:"enable_random_interval"`
		RandomIntervalMin    int                `json:"random_interval_min"`
		RandomIntervalMax    int                `json:"random_interval_max"`
		ScheduledAt          *time.Time         `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, appErrors.NewValidation("invalid request body"))
		return
	}

	campaign, err := h.Service.CreateCampaign(service.CreateCampaignInput{
		Name:                 body.Name,
		Subject:              body.Subject,
		BodyTemplate:         body.BodyTemplate,
		FromEmail:            body.FromEmail,
		FromName:             body.FromName,
		SourceType:           model.SourceType(body.SourceType),
		SourceRef:            body.SourceRef,
		Recipients:           toRecipients(body.Recipients),
		EnableRandomInterval: body.EnableRandomInterval,
		RandomIntervalMin:    body.RandomIntervalMin,
		RandomIntervalMax:    body.RandomIntervalMax,
		ScheduledAt:          body.ScheduledAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, campaign)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")
	search := r.URL.Query().Get("q")

	views, pagination, err := h.Service.ListCampaigns(page, pageSize, status, search)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       views,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := h.campaignID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Service.GetCampaign(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *CampaignHandler) CampaignAction(w http.ResponseWriter, r *http.Request) {
	id, err := h.campaignID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, appErrors.NewValidation("invalid request body"))
		return
	}
	if err := h.Service.HandleAction(r.Context(), id, body.Action, actorFrom(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"action":      body.Action,
		"status":      "accepted",
	})
}

func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := h.campaignID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		Name                 *string            `json:"name"`
		Subject              *string            `json:"subject"`
		BodyTemplate         *string            `json:"body_template"`
		FromEmail            *string            `json:"from_email"`
		FromName             *string            `json:"from_name"`
		SourceType           *string            `json:"source_type"`
		SourceRef            *int               `json:"source_ref"`
		Recipients           []recipientPayload `json:"recipients"`
		EnableRandomInterval *bool              `json:"enable_random_interval"`
		RandomIntervalMin    *int               `json:"random_interval_min"`
		RandomIntervalMax    *int               `json:"random_interval_max"`
		ScheduledAt          *time.Time         `json:"scheduled_at"`
		Status               *string            `json:"status"`
		IsPaused             *bool              `json:"is_paused"`
		ResetStats           bool               `json:"resetStats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, appErrors.NewValidation("invalid request body"))
		return
	}

	input := service.UpdateCampaignInput{
		Name:                 body.Name,
		Subject:              body.Subject,
		BodyTemplate:         body.BodyTemplate,
		FromEmail:            body.FromEmail,
		FromName:             body.FromName,
		SourceRef:            body.SourceRef,
		Recipients:           toRecipients(body.Recipients),
		EnableRandomInterval: body.EnableRandomInterval,
		RandomIntervalMin:    body.RandomIntervalMin,
		RandomIntervalMax:    body.RandomIntervalMax,
		ScheduledAt:          body.ScheduledAt,
		Status:               body.Status,
		IsPaused:             body.IsPaused,
		ResetStats:           body.ResetStats,
	}
	if body.SourceType != nil {
		st := model.SourceType(*body.SourceType)
		input.SourceType = &st
	}

	view, err := h.Service.UpdateCampaign(r.Context(), id, input, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *CampaignHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := h.campaignID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Service.DeleteCampaign(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *CampaignHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	id, err := h.campaignID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	records, pagination, err := h.Service.ListRecords(id, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       records,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) campaignID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, appErrors.NewValidation("invalid campaign id")
	}
	return id, nil
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

func (h *CampaignHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto status codes. Internal detail
// stays in the server logs; the client always gets a stable {error}
// body.
func (h *CampaignHandler) writeError(w http.ResponseWriter, err error) {
	var ve *appErrors.ValidationError
	var nf *appErrors.ErrCampaignNotFound

	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		message = ve.Msg
	case errors.As(err, &nf):
		status = http.StatusNotFound
		message = "campaign not found"
	default:
		h.Logger.Error("request failed", zap.Error(err))
	}

	h.writeJSON(w, status, map[string]string{"error": message})
}
