package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/validation"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"
	"followup-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Subject          string                     `json:"subject"`
	Contact          *followup.Contact          `json:"contact"`
	Priority         followup.Priority          `json:"priority"`
	DueDate          time.Time                  `json:"dueDate"`
	TimeZone         string                     `json:"timeZone"`
	Notes            string                     `json:"notes"`
	KeyPoints        []string                   `json:"keyPoints"`
	ReminderSettings *followup.ReminderSettings `json:"reminderSettings"`
}

type updateRequest struct {
	Subject   *string            `json:"subject"`
	Contact   json.RawMessage    `json:"contact"`
	Priority  *followup.Priority `json:"priority"`
	DueDate   *time.Time         `json:"dueDate"`
	TimeZone  *string            `json:"timeZone"`
	Notes     *string            `json:"notes"`
	KeyPoints *[]string          `json:"keyPoints"`
}

type detectRequest struct {
	MessageID  string            `json:"messageId"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	From       *followup.Contact `json:"from"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Priority   followup.Priority `json:"priority"`
	TimeZone   string            `json:"timeZone"`
}

// bind validates the request body against schema and decodes it into dst. An
// empty body is treated as {} when allowEmpty is set.
func bind(c *gin.Context, schema *validation.Schema, dst interface{}, allowEmpty bool) error {
	raw, err := readBody(c, allowEmpty)
	if err != nil {
		return err
	}
	return decodeBody(raw, schema, dst)
}

func readBody(c *gin.Context, allowEmpty bool) ([]byte, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, errors.NewInputParsingFailedError(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if !allowEmpty {
			return nil, errors.NewValidationError("(root)", "request body is required")
		}
		raw = []byte("{}")
	}
	return raw, nil
}

func decodeBody(raw []byte, schema *validation.Schema, dst interface{}) error {
	if err := schema.ValidateBytes(raw).Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if errors.IsCode(err, errors.ErrCodeValidationFailed) {
			return err
		}
		return errors.NewInputParsingFailedError(err)
	}
	return nil
}

func (s *Server) createFollowUp(c *gin.Context) {
	var req createRequest
	if err := bind(c, createSchema, &req, false); err != nil {
		s.writeError(c, err)
		return
	}

	r, err := s.svc.Create(c.Request.Context(), userID(c), followup.NewRecordParams{
		Subject:   req.Subject,
		Contact:   req.Contact,
		Priority:  req.Priority,
		DueDate:   req.DueDate,
		TimeZone:  req.TimeZone,
		Notes:     req.Notes,
		KeyPoints: req.KeyPoints,
		Reminders: req.ReminderSettings,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) detectFollowUp(c *gin.Context) {
	var req detectRequest
	if err := bind(c, detectSchema, &req, false); err != nil {
		s.writeError(c, err)
		return
	}

	in := service.EmailInput{
		MessageID:  req.MessageID,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: req.ReceivedAt,
		Priority:   req.Priority,
		TimeZone:   req.TimeZone,
	}
	if req.From != nil {
		in.From = *req.From
	}

	r, detection, err := s.svc.CreateFromEmail(c.Request.Context(), userID(c), in)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if r != nil {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"needsFollowUp": detection.NeedsFollowUp,
		"detection":     detection,
		"followUp":      r,
	})
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.NewValidationError(name, "expected an RFC 3339 timestamp")
	}
	return &t, nil
}

func parseIntQuery(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.NewValidationError(name, "expected a positive integer")
	}
	return n, nil
}

func (s *Server) listFollowUps(c *gin.Context) {
	var (
		q   service.ListQuery
		err error
	)
	if v := c.Query("status"); v != "" {
		st, perr := followup.ParseStatus(v)
		if perr != nil {
			s.writeError(c, perr)
			return
		}
		q.Status = &st
	}
	if v := c.Query("priority"); v != "" {
		p, perr := followup.ParsePriority(v)
		if perr != nil {
			s.writeError(c, perr)
			return
		}
		q.Priority = &p
	}
	if q.DueBefore, err = parseTimeQuery(c, "dueBefore"); err != nil {
		s.writeError(c, err)
		return
	}
	if q.DueAfter, err = parseTimeQuery(c, "dueAfter"); err != nil {
		s.writeError(c, err)
		return
	}
	if q.Page, err = parseIntQuery(c, "page"); err != nil {
		s.writeError(c, err)
		return
	}
	if q.PageSize, err = parseIntQuery(c, "pageSize"); err != nil {
		s.writeError(c, err)
		return
	}

	res, err := s.svc.List(c.Request.Context(), userID(c), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getFollowUp(c *gin.Context) {
	r, err := s.svc.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) updateFollowUp(c *gin.Context) {
	var req updateRequest
	if err := bind(c, updateSchema, &req, false); err != nil {
		s.writeError(c, err)
		return
	}

	u := followup.RecordUpdate{
		Subject:   req.Subject,
		Priority:  req.Priority,
		DueDate:   req.DueDate,
		TimeZone:  req.TimeZone,
		Notes:     req.Notes,
		KeyPoints: req.KeyPoints,
	}
	if len(req.Contact) > 0 {
		var contact *followup.Contact
		if err := json.Unmarshal(req.Contact, &contact); err != nil {
			s.writeError(c, errors.NewInputParsingFailedError(err))
			return
		}
		u.Contact = &contact
	}

	r, err := s.svc.Update(c.Request.Context(), userID(c), c.Param("id"), u)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteFollowUp(c *gin.Context) {
	if err := s.svc.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) transition(event followup.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := s.svc.Transition(c.Request.Context(), userID(c), c.Param("id"), event, "")
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

func (s *Server) complete(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := bind(c, completeSchema, &req, true); err != nil {
		s.writeError(c, err)
		return
	}

	r, err := s.svc.Transition(c.Request.Context(), userID(c), c.Param("id"), followup.EventComplete, req.Notes)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) snooze(c *gin.Context) {
	var req struct {
		Days int `json:"days"`
	}
	if err := bind(c, snoozeSchema, &req, false); err != nil {
		s.writeError(c, err)
		return
	}

	r, err := s.svc.Snooze(c.Request.Context(), userID(c), c.Param("id"), req.Days)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) getReminders(c *gin.Context) {
	view, err := s.svc.GetReminders(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// replaceReminders takes either bare settings or the view returned by GET,
// so a client can edit what it read and send it back.
func (s *Server) replaceReminders(c *gin.Context) {
	raw, err := readBody(c, false)
	if err != nil {
		s.writeError(c, err)
		return
	}

	var req followup.ReminderSettings
	var top map[string]json.RawMessage
	if json.Unmarshal(raw, &top) == nil && top["settings"] != nil {
		var view struct {
			Settings followup.ReminderSettings `json:"settings"`
		}
		err = decodeBody(raw, remindersViewSchema, &view)
		req = view.Settings
	} else {
		err = decodeBody(raw, remindersSchema, &req)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	view, err := s.svc.ReplaceReminders(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) sendReminder(c *gin.Context) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := bind(c, sendSchema, &req, true); err != nil {
		s.writeError(c, err)
		return
	}

	sent, err := s.svc.SendNow(c.Request.Context(), userID(c), c.Param("id"), req.Channel)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": sent})
}

func (s *Server) checkDue(c *gin.Context) {
	due, err := s.svc.CheckDue(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if due == nil {
		due = []followup.DueReminder{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(due), "reminders": due})
}

func (s *Server) analytics(c *gin.Context) {
	a, err := s.svc.Analytics(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listNotifications(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		s.writeError(c, err)
		return
	}
	unread := c.Query("unread") == "true"

	list, err := s.svc.Notifications(c.Request.Context(), userID(c), unread, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []*dispatch.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.svc.MarkNotificationRead(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
