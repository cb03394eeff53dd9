package httpserver

import (
	"mime"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/convert"
	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/model"
)

// --- Health ---

// Health pings storage.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, convert.OKResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, convert.OKResponse{OK: true})
}

// --- Auth ---

// Register creates an account from a JSON {username,password} body.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req convert.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.RegisterResponse{UserID: id})
}

// Token exchanges credentials for a bearer token. It accepts the OAuth2
// password form as well as a JSON body.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	var creds convert.Credentials
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := decodeJSON(w, r, &creds); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, errs.Validationf("malformed form body"))
			return
		}
		creds.Username, creds.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	}
	if creds.Username == "" || creds.Password == "" {
		writeUnauthorized(w)
		return
	}

	tok, err := s.auth.Login(r.Context(), creds.Username, creds.Password, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, convert.ToTokenResponse(tok))
}

// clientIP is the host part of the peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Me describes the authenticated caller.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	writeJSON(w, http.StatusOK, convert.ToMeResponse(id))
}

// --- Conversations ---

// queryLimit parses ?limit=; absent means 0 (service default).
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, errs.Validationf("limit must be an integer between 1 and 1000")
	}
	return n, nil
}

// SaveConversation stores the caller's finished conversation.
func (s *Server) SaveConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	var req convert.SaveConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.memory.SaveConversation(r.Context(), id.Username, req.Messages, req.Summary); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History lists the caller's conversation summaries, newest first.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToConversationSummaries(s.memory.History(r.Context(), id.Username, limit)))
}

// Context renders the caller's recent conversations for a prompt.
func (s *Server) Context(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ContextResponse{Context: s.memory.RecentContext(r.Context(), id.Username, limit)})
}

// --- Reminders ---

// ScheduleReminder stores a reminder for the caller.
func (s *Server) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	var req convert.ScheduleReminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.reminders.Schedule(r.Context(), id.Username, req.Type, req.RemindTime, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, convert.OKResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusCreated, convert.OKResponse{OK: true})
}

// ListReminders lists the caller's reminders, latest first.
func (s *Server) ListReminders(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToReminders(s.reminders.ListForUser(r.Context(), id.Username, limit)))
}

// DueReminders returns the next batch for the delivery poller.
func (s *Server) DueReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, convert.ToReminders(s.reminders.Due(r.Context())))
}

// MarkReminder records a delivery outcome reported by the poller.
func (s *Server) MarkReminder(w http.ResponseWriter, r *http.Request) {
	var req convert.StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := model.ParseReminderStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.reminders.MarkStatus(r.Context(), chi.URLParam(r, "id"), st)
	w.WriteHeader(http.StatusNoContent)
}
