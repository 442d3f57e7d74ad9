// internal/httpserver/pages.go
//
// Endpoints around the live task:
//   - POST /participants                 join, draw wage, receive token
//   - GET  /task/vars                    task parameters + input hints for the page
//   - GET  /results                      final wage, earning and counters
//   - POST /results                      same, and stamps finished_at once
//   - GET  /admin/players/{id}/puzzles   audit trail of issued puzzles

package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/realeffort/internal/config"
	"github.com/robalobadob/realeffort/internal/session"
	"github.com/robalobadob/realeffort/internal/wage"
)

// createParticipantReq is the optional body of POST /participants.
// MoreHighWage defaults to true.
type createParticipantReq struct {
	Label        string `json:"label"`
	MoreHighWage *bool  `json:"more_high_wage"`
}

type createParticipantRes struct {
	ID        string  `json:"id"`
	Token     string  `json:"token"`
	Wage      float64 `json:"wage"`
	Currency  string  `json:"currency"`
	PLowWage  string  `json:"p_low_wage"`
	PHighWage string  `json:"p_high_wage"`
}

// handleCreateParticipant creates a player with a freshly drawn wage and
// issues the participant token.
func (s *Server) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req createParticipantReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	moreHigh := true
	if req.MoreHighWage != nil {
		moreHigh = *req.MoreHighWage
	}

	e := s.cfg.Experiment
	s.rngMu.Lock()
	rate := wage.Draw(s.rng, e.HighWageRate, e.LowWageRate, moreHigh)
	s.rngMu.Unlock()

	p := &session.Player{
		ID:           uuid.NewString(),
		Label:        strings.TrimSpace(req.Label),
		MoreHighWage: moreHigh,
		Wage:         rate,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreatePlayer(r.Context(), p); err != nil {
		log.Error().Err(err).Msg("create participant")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	tok, exp, err := s.signToken(p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign_failed")
		return
	}
	s.setAuthCookie(w, tok, exp)
	log.Info().Str("player", p.ID).Float64("wage", rate).Bool("more_high_wage", moreHigh).Msg("participant joined")

	pLow, pHigh := wage.Odds(moreHigh)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createParticipantRes{
		ID:        p.ID,
		Token:     tok,
		Wage:      rate,
		Currency:  s.money.Code(),
		PLowWage:  pLow,
		PHighWage: pHigh,
	})
}

type taskVarsRes struct {
	Params      config.TaskParams `json:"params"`
	Variant     string            `json:"variant"`
	InputType   string            `json:"input_type"`
	Placeholder string            `json:"placeholder"`
}

// handleTaskVars returns what the task page needs to render its form.
func (s *Server) handleTaskVars(w http.ResponseWriter, r *http.Request) {
	p := s.proto.Provider()
	_ = json.NewEncoder(w).Encode(taskVarsRes{
		Params:      s.cfg.Experiment.Task,
		Variant:     p.Name(),
		InputType:   p.InputType(),
		Placeholder: p.InputHint(),
	})
}

type resultsRes struct {
	Wage           float64          `json:"wage"`
	Earning        float64          `json:"earning"`
	EarningDisplay string           `json:"earning_display"`
	Currency       string           `json:"currency"`
	Progress       session.Progress `json:"progress"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// handleResults reports the participant's outcome without side effects.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.writeResults(w, r, false)
}

// handleFinish records that the participant left the task page.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.writeResults(w, r, true)
}

func (s *Server) writeResults(w http.ResponseWriter, r *http.Request, finish bool) {
	id := playerID(r)
	if finish {
		if err := s.store.FinishPlayer(r.Context(), id, s.now().UTC()); err != nil {
			log.Error().Err(err).Str("player", id).Msg("finish participant")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	p, err := s.store.Player(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(resultsRes{
		Wage:           p.Wage,
		Earning:        p.Earning,
		EarningDisplay: s.money.Format(p.Earning),
		Currency:       s.money.Code(),
		Progress:       p.Progress(),
		FinishedAt:     p.FinishedAt,
	})
}

// handleAdminPuzzles exports a participant's full puzzle history.
func (s *Server) handleAdminPuzzles(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Puzzles(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, session.ErrPlayerNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	out := make([]session.AuditEntry, 0, len(list))
	for _, pz := range list {
		out = append(out, pz.Audit())
	}
	_ = json.NewEncoder(w).Encode(out)
}
