package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quota/internal/core"
)

type templateRequest struct {
	Frequency   string `json:"frequency"`
	DayOfWeek   int    `json:"dayOfWeek"`
	DayOfMonth  int    `json:"dayOfMonth"`
	MonthOfYear int    `json:"monthOfYear"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Note        string `json:"note"`
	NextDate    string `json:"nextDate"`
	EndDate     string `json:"endDate"`
}

type templateResponse struct {
	ID          string `json:"id"`
	Frequency   string `json:"frequency"`
	DayOfWeek   int    `json:"dayOfWeek"`
	DayOfMonth  int    `json:"dayOfMonth"`
	MonthOfYear int    `json:"monthOfYear"`
	AmountCents int64  `json:"amountCents"`
	Category    string `json:"category"`
	Note        string `json:"note,omitempty"`
	NextDate    string `json:"nextDate"`
	EndDate     string `json:"endDate,omitempty"`
	Ended       bool   `json:"ended"`
}

type processResponse struct {
	Created          int               `json:"created"`
	UpdatedTemplates int               `json:"updatedTemplates"`
	Failed           []failureResponse `json:"failed,omitempty"`
}

type failureResponse struct {
	TemplateID string `json:"templateId"`
	Error      string `json:"error"`
}

func (req templateRequest) toTemplate(id string) (core.RecurrenceTemplate, string) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.RecurrenceTemplate{}, "invalid amount: " + req.Amount
	}

	nextDate, err := core.ParseDate(strings.TrimSpace(req.NextDate))
	if err != nil {
		return core.RecurrenceTemplate{}, "invalid nextDate, expected YYYY-MM-DD"
	}

	var endDate core.Date
	if strings.TrimSpace(req.EndDate) != "" {
		endDate, err = core.ParseDate(strings.TrimSpace(req.EndDate))
		if err != nil {
			return core.RecurrenceTemplate{}, "invalid endDate, expected YYYY-MM-DD"
		}
	}

	return core.RecurrenceTemplate{
		ID: id,
		Rule: core.RecurrenceRule{
			Frequency:   core.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
			DayOfWeek:   req.DayOfWeek,
			DayOfMonth:  req.DayOfMonth,
			MonthOfYear: req.MonthOfYear,
		},
		Amount:   core.Money{Cents: cents},
		Category: strings.TrimSpace(req.Category),
		Note:     strings.TrimSpace(req.Note),
		NextDate: nextDate,
		EndDate:  endDate,
	}, ""
}

func toTemplateResponse(tpl core.RecurrenceTemplate) templateResponse {
	resp := templateResponse{
		ID:          tpl.ID,
		Frequency:   string(tpl.Rule.Frequency),
		DayOfWeek:   tpl.Rule.DayOfWeek,
		DayOfMonth:  tpl.Rule.DayOfMonth,
		MonthOfYear: tpl.Rule.MonthOfYear,
		AmountCents: tpl.Amount.Cents,
		Category:    tpl.Category,
		Note:        tpl.Note,
		NextDate:    tpl.NextDate.String(),
		Ended:       tpl.Ended,
	}
	if !tpl.EndDate.IsZero() {
		resp.EndDate = tpl.EndDate.String()
	}
	return resp
}

func (s *Server) handleProcessRecurring(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		now = d.Time
	}

	result, err := s.processor.ProcessDue(r.Context(), now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := processResponse{
		Created:          result.Created,
		UpdatedTemplates: result.UpdatedTemplates,
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, failureResponse{
			TemplateID: f.TemplateID,
			Error:      f.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.repo.ListTemplates(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]templateResponse, 0, len(templates))
	for _, tpl := range templates {
		resp = append(resp, toTemplateResponse(tpl))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, problem := req.toTemplate(uuid.NewString())
	if problem != "" {
		writeError(w, http.StatusUnprocessableEntity, problem)
		return
	}
	if err := tpl.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.repo.CreateTemplate(r.Context(), tpl); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateResponse(tpl))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.repo.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tpl))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, problem := req.toTemplate(r.PathValue("id"))
	if problem != "" {
		writeError(w, http.StatusUnprocessableEntity, problem)
		return
	}
	if err := tpl.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.repo.UpdateTemplate(r.Context(), tpl); err != nil {
		writeDomainError(w, err)
		return
	}

	// Editing revives a frozen template, so re-read the stored state.
	stored, err := s.repo.GetTemplate(r.Context(), tpl.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(stored))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
