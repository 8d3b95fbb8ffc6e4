package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"expo-booking-backend/internal/booking"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/model"
	"expo-booking-backend/internal/parse"
)

// stateView is the public projection of a ledger state. Holder and waitlist
// ids are only shown to the expo organizer.
type stateView struct {
	Status        ledger.Status `json:"status"`
	Capacity      int           `json:"capacity"`
	HolderCount   int           `json:"holderCount"`
	WaitlistCount int           `json:"waitlistCount"`
	Closed        bool          `json:"closed"`
	Holders       []string      `json:"holders,omitempty"`
	Waitlist      []string      `json:"waitlist,omitempty"`
}

func viewOf(st ledger.State, full bool) stateView {
	v := stateView{
		Status:        st.Status(),
		Capacity:      st.Capacity,
		HolderCount:   len(st.Holders),
		WaitlistCount: len(st.Waitlist),
		Closed:        st.Closed,
	}
	if full {
		v.Holders, v.Waitlist = st.Holders, st.Waitlist
	}
	return v
}

type boothView struct {
	*model.Booth
	State stateView `json:"state"`
}

type sessionView struct {
	*model.Session
	State stateView `json:"state"`
}

type createBoothRequest struct {
	Number        string `json:"number" binding:"required"`
	Size          string `json:"size" binding:"max=32"`
	PriceCents    int64  `json:"priceCents" binding:"gte=0"`
	AllowSharing  bool   `json:"allowSharing"`
	MaxExhibitors int    `json:"maxExhibitors" binding:"omitempty,gte=1"`
	AllowWaitlist bool   `json:"allowWaitlist"`
}

// CreateBooth adds a booth to an expo the caller organizes.
func (h *Handler) CreateBooth(c *gin.Context) {
	var req createBoothRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	num, err := parse.ParseResourceNumber(req.Number)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.MaxExhibitors == 0 {
		req.MaxExhibitors = 1
	}
	if !req.AllowSharing && req.MaxExhibitors > 1 {
		badRequest(c, "maxExhibitors above 1 requires allowSharing")
		return
	}

	expo, ok := h.ownedExpo(c, c.Param("id"))
	if !ok {
		return
	}
	booth := &model.Booth{
		ExpoID:        expo.ID,
		Number:        num.String(),
		Hall:          num.Hall,
		Seq:           num.Seq,
		Size:          req.Size,
		PriceCents:    req.PriceCents,
		AllowSharing:  req.AllowSharing,
		MaxExhibitors: req.MaxExhibitors,
		AllowWaitlist: req.AllowWaitlist,
	}
	if err := h.store.CreateBooth(c.Request.Context(), booth); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "booth created", "booth": booth})
}

// ListBooths returns every booth of an expo with its live state.
func (h *Handler) ListBooths(c *gin.Context) {
	ctx := c.Request.Context()
	booths, err := h.store.ListBooths(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]boothView, len(booths))
	for i := range booths {
		st, err := h.coord.State(ctx, event.ResourceBooth, booths[i].ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		views[i] = boothView{Booth: &booths[i], State: viewOf(st, false)}
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "booths": views})
}

// GetBooth returns one booth with its live state.
func (h *Handler) GetBooth(c *gin.Context) {
	ctx := c.Request.Context()
	booth, err := h.store.GetBooth(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	st, err := h.coord.State(ctx, event.ResourceBooth, booth.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "booth": boothView{Booth: booth, State: viewOf(st, h.organizes(c, booth.ExpoID))}})
}

type createSessionRequest struct {
	Code          string    `json:"code" binding:"required"`
	Title         string    `json:"title" binding:"required,max=256"`
	Speaker       string    `json:"speaker" binding:"max=128"`
	MaxAttendees  *int      `json:"maxAttendees" binding:"omitempty,gte=1"`
	AllowWaitlist bool      `json:"allowWaitlist"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
}

// CreateSession adds a session to an expo the caller organizes.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	code, err := parse.ParseResourceNumber(req.Code)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.MaxAttendees == nil && req.AllowWaitlist {
		badRequest(c, "a waitlist requires maxAttendees")
		return
	}

	expo, ok := h.ownedExpo(c, c.Param("id"))
	if !ok {
		return
	}
	sess := &model.Session{
		ExpoID:        expo.ID,
		Code:          code.String(),
		Title:         req.Title,
		Speaker:       req.Speaker,
		MaxAttendees:  req.MaxAttendees,
		AllowWaitlist: req.AllowWaitlist,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
	}
	if err := h.store.CreateSession(c.Request.Context(), sess); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "session created", "session": sess})
}

// ListSessions returns every session of an expo with its live state.
func (h *Handler) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	sessions, err := h.store.ListSessions(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]sessionView, len(sessions))
	for i := range sessions {
		st, err := h.coord.State(ctx, event.ResourceSession, sessions[i].ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		views[i] = sessionView{Session: &sessions[i], State: viewOf(st, false)}
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "sessions": views})
}

// GetSession returns one session with its live state.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.store.GetSession(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	st, err := h.coord.State(ctx, event.ResourceSession, sess.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "session": sessionView{Session: sess, State: viewOf(st, h.organizes(c, sess.ExpoID))}})
}

type bookingView struct {
	Outcome  event.Kind           `json:"outcome"`
	Position int                  `json:"position,omitempty"`
	State    stateView            `json:"state"`
	Events   []event.BookingEvent `json:"events"`
}

// bookingOf shows the caller its own events in full and other holders' events
// without user ids, matching what the push channel delivers.
func bookingOf(res *booking.Result, callerID string) bookingView {
	v := bookingView{State: viewOf(res.State, false), Events: make([]event.BookingEvent, len(res.Events))}
	for i, ev := range res.Events {
		if ev.HolderID != callerID {
			ev = ev.Public()
		}
		v.Events[i] = ev
	}
	if len(res.Events) > 0 {
		first := res.Events[0]
		v.Outcome = first.Kind
		if pos, ok := first.Payload["position"].(int); ok {
			v.Position = pos
		}
	}
	return v
}

// Book returns the handler booking a booth or registering for a session.
func (h *Handler) Book(kind event.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.coord.Book(c.Request.Context(), kind, c.Param("id"), identity(c).UserID)
		if err != nil {
			h.fail(c, err)
			return
		}
		v := bookingOf(res, identity(c).UserID)
		msg := string(kind) + " booked"
		if v.Outcome == event.KindWaitlisted {
			msg = "added to the waitlist"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg, "booking": v})
	}
}

// Cancel returns the handler cancelling the caller's booking or waitlist entry.
func (h *Handler) Cancel(kind event.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.coord.Cancel(c.Request.Context(), kind, c.Param("id"), identity(c).UserID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": string(kind) + " booking cancelled", "booking": bookingOf(res, identity(c).UserID)})
	}
}

// Close returns the handler that stops a resource from accepting bookings.
func (h *Handler) Close(kind event.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.ownsResource(c, kind) {
			return
		}
		st, err := h.coord.Close(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": string(kind) + " closed", "state": viewOf(st, true)})
	}
}

// Delete returns the handler removing a resource without bookings.
func (h *Handler) Delete(kind event.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.ownsResource(c, kind) {
			return
		}
		if err := h.coord.Delete(c.Request.Context(), kind, c.Param("id")); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": string(kind) + " deleted"})
	}
}

func (h *Handler) ownsResource(c *gin.Context, kind event.ResourceKind) bool {
	res, err := h.store.GetResource(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return false
	}
	_, ok := h.ownedExpo(c, res.ExpoID)
	return ok
}

func (h *Handler) organizes(c *gin.Context, expoID string) bool {
	expo, err := h.store.GetExpo(c.Request.Context(), expoID)
	return err == nil && expo.OrganizerID == identity(c).UserID
}
