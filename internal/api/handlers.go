package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"
)

const defaultListWindow = 7 * 24 * time.Hour

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Store.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListClasses(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	from := s.svc.Now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected RFC3339")
			return
		}
		from = t
	}
	to := from.Add(defaultListWindow)
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected RFC3339")
			return
		}
		to = t
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	classes, err := s.svc.Store.ListClasses(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *HTTPServer) handleOccupancy(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	occ, err := s.svc.Bookings.ClassOccupancy(r.Context(), classID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

type bookRequest struct {
	ClassID            int64  `json:"class_id"`
	UserID             int64  `json:"user_id"`
	PackageID          *int64 `json:"package_id"`
	JoinWaitlistIfFull bool   `json:"join_waitlist_if_full"`
}

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var body bookRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ClassID <= 0 {
		writeError(w, http.StatusBadRequest, "class_id is required")
		return
	}

	res, err := s.svc.Bookings.BookClass(r.Context(), actor, domain.BookRequest{
		ClassID:            body.ClassID,
		UserID:             subject(actor, body.UserID),
		PackageID:          body.PackageID,
		JoinWaitlistIfFull: body.JoinWaitlistIfFull,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Bookings.GetBooking(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCheckPolicy(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	eval, err := s.svc.Policies.CheckPolicy(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := s.svc.Bookings.CancelBooking(r.Context(), actor, id, strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) statusHandler(
	change func(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error),
) actorHandler {
	return func(w http.ResponseWriter, r *http.Request, actor models.Actor) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		b, err := change(r.Context(), actor, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	if !actor.CanActFor(userID) {
		s.writeServiceError(w, r, database.ErrForbidden)
		return
	}
	bookings, err := s.svc.Store.GetUserBookings(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

type rescheduleRequest struct {
	TargetClassID int64  `json:"target_class_id"`
	Reason        string `json:"reason"`
}

func (s *HTTPServer) handleRequestReschedule(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body rescheduleRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.TargetClassID <= 0 {
		writeError(w, http.StatusBadRequest, "target_class_id is required")
		return
	}
	req, err := s.svc.Reschedules.RequestReschedule(r.Context(), actor, id, body.TargetClassID, strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *HTTPServer) handleProcessReschedule(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Decision   models.RescheduleDecision `json:"decision"`
		AdminNotes string                    `json:"admin_notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := s.svc.Reschedules.ProcessReschedule(r.Context(), actor, id, body.Decision, body.AdminNotes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type waitlistRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *HTTPServer) handleJoinWaitlist(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body waitlistRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	entry, err := s.svc.Waitlist.Join(r.Context(), actor, classID, subject(actor, body.UserID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleLeaveWaitlist(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, ok := queryUserID(w, r, actor)
	if !ok {
		return
	}
	if err := s.svc.Waitlist.Leave(r.Context(), actor, classID, userID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleWaitlistStatus(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, ok := queryUserID(w, r, actor)
	if !ok {
		return
	}
	if !actor.CanActFor(userID) {
		s.writeServiceError(w, r, database.ErrForbidden)
		return
	}
	pos, err := s.svc.Waitlist.Status(r.Context(), classID, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *HTTPServer) handleAcceptSpot(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body waitlistRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	b, err := s.svc.Waitlist.AcceptSpot(r.Context(), actor, classID, subject(actor, body.UserID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handlePromote(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	promoted, err := s.svc.Waitlist.PromoteNext(r.Context(), actor, classID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promoted": promoted})
}

func (s *HTTPServer) handleExpireHolds(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	res, err := s.svc.Waitlist.ExpireHolds(r.Context(), s.svc.Now())
	if err != nil && res == nil {
		s.writeServiceError(w, r, err)
		return
	}
	body := map[string]any{"expired": res.Expired, "promoted": res.Promoted}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleListPolicies(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	policies, err := s.svc.Policies.ListPolicies(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (s *HTTPServer) handleCreatePolicy(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	var p models.CancellationPolicy
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := s.svc.Policies.CreatePolicy(r.Context(), &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// subject is the user an operation is for: the requested one when given,
// otherwise the actor.
func subject(actor models.Actor, requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return actor.UserID
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func queryUserID(w http.ResponseWriter, r *http.Request, actor models.Actor) (int64, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return actor.UserID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return 0, false
	}
	return id, true
}

// decodeJSON reads an optional JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
