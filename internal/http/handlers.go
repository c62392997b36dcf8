package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"spendsync/internal/aggregate"
	"spendsync/internal/core"
	"spendsync/internal/engine"
	"spendsync/internal/log"
)

type listResponse struct {
	Expenses []core.Expense `json:"expenses"`
	Count    int            `json:"count"`
	Total    core.Money     `json:"total"`
}

type queueResponse struct {
	Pending     []engine.PendingMutation `json:"pending"`
	DeadLetters []engine.DeadLetter      `json:"deadLetters"`
}

type reportResponse struct {
	Report core.Report `json:"report"`
	Ref    string      `json:"exportRef,omitempty"`
}

// stateResponse is the engine snapshot plus whether the view should be
// treated as out of date.
type stateResponse struct {
	engine.State
	Stale bool `json:"stale"`
}

// writeState writes the current snapshot. Data is stale when no live
// subscription vouches for it and it was last fetched more than StaleAfter
// ago.
func (s *Server) writeState(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()
	stale := s.staleAfter > 0 && !st.IsConnected && st.IsStale(time.Now(), s.staleAfter)
	writeJSON(w, r, http.StatusOK, stateResponse{State: st, Stale: stale})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, r)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, queueResponse{
		Pending:     s.engine.Queue(),
		DeadLetters: s.engine.DeadLetters(),
	})
}

// handleListExpenses filters and sorts the engine's visible list.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	params, err := ParseListParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	list := aggregate.FilterExpenses(s.engine.State().Expenses, params.Filter)
	list = aggregate.SortExpenses(list, params.SortBy, params.Order)

	var total core.Money
	for _, e := range list {
		total = total.Add(e.Amount)
	}
	writeJSON(w, r, http.StatusOK, listResponse{Expenses: list, Count: len(list), Total: total})
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req core.CreateRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	req.Category = normalizeCategory(req.Category)

	created, err := s.engine.CreateExpense(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Expense created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithExpense(created.ID.String(), created.Amount.Cents, string(created.Category)).
			ToSlice()...)

	status := http.StatusCreated
	if created.ID.IsZero() || created.ID.IsOptimistic() {
		// Queued offline; the durable record does not exist yet.
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, created)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req core.UpdateRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	req.ID = core.ParseExpenseID(r.PathValue("id"))
	if req.Category != nil {
		c := normalizeCategory(*req.Category)
		req.Category = &c
	}

	updated, err := s.engine.UpdateExpense(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := core.ParseExpenseID(r.PathValue("id"))
	if err := s.engine.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Expense deleted",
		log.FieldOperation, log.OpDelete, log.FieldExpenseID, id.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Refresh(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearError()
	s.writeState(w, r)
}

// handleConnectivity reports a connectivity change observed by the client.
// Going online replays the offline queue before responding.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Online == nil {
		badRequest(w, r, `"online" is required`)
		return
	}
	s.engine.SetOnline(r.Context(), *req.Online)
	s.writeState(w, r)
}

// handleCreateReport freezes the durable records visible to the signed-in
// user. With ?export=true the report is also exported.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, r, http.StatusNotImplemented, errorBody{Error: "reports are not configured"})
		return
	}
	user, err := s.auth.CurrentUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.reports.Generate(r.Context(), user.ID, s.engine.State().Expenses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := reportResponse{Report: report}

	if strings.EqualFold(r.URL.Query().Get("export"), "true") {
		ref, err := s.reports.Export(r.Context(), report.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Ref = ref
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, r, http.StatusNotImplemented, errorBody{Error: "reports are not configured"})
		return
	}
	report, err := s.reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, errorBody{Error: "Report not found"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reportResponse{Report: report})
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, r, http.StatusNotImplemented, errorBody{Error: "reports are not configured"})
		return
	}
	id := r.PathValue("id")
	ref, err := s.reports.Export(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, errorBody{Error: "Report not found"})
			return
		}
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Report exported",
		log.FieldOperation, log.OpExport, log.FieldReportID, id, "ref", ref)
	writeJSON(w, r, http.StatusOK, map[string]string{"id": id, "exportRef": ref})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.engine.State())
}

// decode writes the error response itself and returns non-nil when the body
// could not be used.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	err := decodeJSON(w, r, v)
	if err == nil {
		return nil
	}
	var malformed errMalformed
	if errors.As(err, &malformed) {
		badRequest(w, r, "Invalid request body: "+malformed.msg)
	} else {
		writeError(w, r, err)
	}
	return err
}
