package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dewcredit/creditcase-system/internal/middleware"
	"github.com/dewcredit/creditcase-system/internal/model"
	"github.com/dewcredit/creditcase-system/internal/repository"
	"github.com/dewcredit/creditcase-system/internal/validation"
)

var validStages = map[model.CaseStage]bool{
	model.CaseStageReviewingDocs:    true,
	model.CaseStageDraftingDisputes: true,
	model.CaseStageSubmitted:        true,
	model.CaseStageProcessing48hr:   true,
	model.CaseStageComplete:         true,
}

var validStatuses = map[model.CaseStatus]bool{
	model.CaseStatusNotStarted:         true,
	model.CaseStatusFilesNeeded:        true,
	model.CaseStatusUnderReview:        true,
	model.CaseStatusInProgress:         true,
	model.CaseStatusCompleted:          true,
	model.CaseStatusRefunded:           true,
	model.CaseStatusGuaranteeTriggered: true,
}

type adminCaseResponse struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"user_id"`
	Status       string     `json:"status"`
	CurrentStage string     `json:"current_stage"`
	ServiceName  string     `json:"service_name"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ListCases возвращает дела для админ-панели.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	cases, err := h.service.ListCases(r.Context(), limit)
	if err != nil {
		h.logger.Error("list cases error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]adminCaseResponse, 0, len(cases))
	for _, c := range cases {
		resp = append(resp, adminCaseResponse{
			ID:           c.ID.String(),
			UserID:       c.UserID,
			Status:       string(c.Status),
			CurrentStage: string(c.CurrentStage),
			ServiceName:  c.ServiceName,
			StartedAt:    c.StartedAt,
			CompletedAt:  c.CompletedAt,
		})
	}

	writeJSON(w, resp)
}

type updateCaseRequest struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// UpdateCase меняет этап или статус дела. Завершение дела завершает и таймер.
func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Stage == "" && req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Stage != "" {
		stage := model.CaseStage(req.Stage)
		if !validStages[stage] {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		if err := h.service.UpdateCaseStage(r.Context(), caseID, stage); err != nil {
			h.writeCaseError(w, err)
			return
		}
	}

	if req.Status != "" {
		status := model.CaseStatus(req.Status)
		if !validStatuses[status] {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		if status == model.CaseStatusCompleted {
			err = h.service.CompleteCase(r.Context(), caseID)
		} else {
			err = h.service.UpdateCaseStatus(r.Context(), caseID, status)
		}
		if err != nil {
			h.writeCaseError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrCaseNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrTimerNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrTimerNotRunning), errors.Is(err, repository.ErrTimerNotPaused):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error("case operation error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type pauseTimerRequest struct {
	Reason string `json:"reason"`
}

// PauseTimer ставит таймер дела на паузу.
func (h *Handler) PauseTimer(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req pauseTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.PauseCaseTimer(r.Context(), caseID, req.Reason); err != nil {
		h.writeCaseError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ResumeTimer возобновляет отсчёт таймера дела.
func (h *Handler) ResumeTimer(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ResumeCaseTimer(r.Context(), caseID); err != nil {
		h.writeCaseError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetAdminNotifications возвращает служебные уведомления.
func (h *Handler) GetAdminNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := h.service.GetAdminNotifications(r.Context(), limit)
	if err != nil {
		h.logger.Error("get admin notifications error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(notifications) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:        n.ID.String(),
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

type adminMessageRequest struct {
	ToUserID int64  `json:"to_user_id"`
	Content  string `json:"content"`
}

// SendAdminMessage отправляет сообщение клиенту от имени сотрудника.
// Клиент дополнительно уведомляется по SMS.
func (h *Handler) SendAdminMessage(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req adminMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ToUserID == 0 || !validation.IsValidMessageContent(req.Content) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	m := &model.Message{
		FromUserID:     adminID,
		ToUserID:       &req.ToUserID,
		Content:        req.Content,
		IsAdminMessage: true,
	}

	if err := h.service.SendMessage(r.Context(), m); err != nil {
		h.logger.Error("send admin message error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type verifyDocumentRequest struct {
	Status string `json:"status"`
}

// VerifyDocument обновляет статус проверки документа.
func (h *Handler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req verifyDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Status != "verified" && req.Status != "rejected" && req.Status != "pending" {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.SetDocumentVerification(r.Context(), documentID, req.Status); err != nil {
		if errors.Is(err, repository.ErrCaseNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("verify document error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
