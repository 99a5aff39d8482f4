package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pathledger/internal/domain"
	"pathledger/internal/usecase"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type GatewayIngester interface {
	Execute(ctx context.Context, req usecase.IngestGatewayRequest) (*usecase.IngestGatewayResponse, error)
}

type EventVerifier interface {
	Execute(ctx context.Context, req usecase.VerifyEventsRequest) ([]domain.VerificationResult, error)
	VerifyOne(ctx context.Context, kind domain.EventKind, messageID string) (domain.VerificationResult, error)
}

type EventReader interface {
	Get(ctx context.Context, kind domain.EventKind, messageID string) (*domain.Event, error)
	ListBySubject(ctx context.Context, kind domain.EventKind, subjectRef string, from, to time.Time, limit int) ([]domain.Event, error)
	ListDerived(ctx context.Context, sourceEventID string) ([]domain.Event, error)
}

type NotificationLister interface {
	List(ctx context.Context, subjectRef string, limit int) ([]domain.Notification, error)
}

type RegistryWriter interface {
	UpsertGateway(ctx context.Context, gw domain.Gateway) error
	UpsertTracker(ctx context.Context, tracker domain.Tracker) error
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertOrder(ctx context.Context, order domain.ProductOrder) error
	AssignTracker(ctx context.Context, a domain.TrackerAssignment) error
	RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type verifyBatchRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,max=500,dive,required,max=64"`
}

type eventResponse struct {
	MessageID     string         `json:"message_id"`
	EventType     string         `json:"event_type"`
	Kind          string         `json:"kind"`
	SubjectRef    string         `json:"subject_ref"`
	GatewayRef    string         `json:"gateway_ref,omitempty"`
	SourceEventID string         `json:"source_event_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	Timestamp     string         `json:"timestamp"`
	DataHash      string         `json:"data_hash"`
	ClaimedHash   string         `json:"claimed_hash,omitempty"`
	HashStatus    string         `json:"hash_status"`
	LedgerRef     *string        `json:"ledger_ref"`
	CreatedAt     string         `json:"created_at"`
}

type notificationResponse struct {
	ID          string `json:"id"`
	SubjectKind string `json:"subject_kind"`
	SubjectRef  string `json:"subject_ref"`
	MessageID   string `json:"message_id,omitempty"`
	Kind        string `json:"notification_type"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	CreatedAt   string `json:"created_at"`
}

type adminGatewayRequest struct {
	Key                 string   `json:"key" binding:"required,max=128"`
	Secret              string   `json:"secret,omitempty"`
	AllowedMessageTypes []string `json:"allowed_message_types,omitempty"`
}

type adminKeyRequest struct {
	Key  string `json:"key" binding:"required,max=128"`
	Name string `json:"name,omitempty"`
}

type adminOrderRequest struct {
	Number   string   `json:"number" binding:"required,max=128"`
	Products []string `json:"products" binding:"dive,required"`
}

type adminAssignRequest struct {
	TrackerKey string    `json:"tracker_key" binding:"required"`
	AssignedAt time.Time `json:"assigned_at"`
}

type adminStatusRequest struct {
	Status    string    `json:"status" binding:"required,oneof=created shipped delivered"`
	Timestamp time.Time `json:"timestamp"`
}

// handleGatewayTelemetry keeps the gateway-facing contract: 200
// {"status":"ok"} or 400 {"error": ...}.
func (s *Server) handleGatewayTelemetry(c *gin.Context) {
	key, ok := s.requireGatewayKey(c)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeGatewayTelemetry, keyFingerprint(key)) {
		return
	}
	if s.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion unavailable"})
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data format"})
		return
	}
	resp, err := s.ingest.Execute(c.Request.Context(), usecase.IngestGatewayRequest{Raw: raw})
	if err != nil {
		if usecase.IsInputError(err) {
			s.log.Info("gateway message rejected", "err", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("gateway message failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.log.Debug("gateway message ingested", "message_id", resp.MessageID, "duplicate", resp.Duplicate)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVerifyBatch(c *gin.Context) {
	if !s.enforceRateLimit(c, routeEventsVerify, c.ClientIP()) {
		return
	}
	if s.verify == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req verifyBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	results, err := s.verify.Execute(c.Request.Context(), usecase.VerifyEventsRequest{MessageIDs: req.MessageIDs})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleVerifyEvent(kind domain.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enforceRateLimit(c, routeEventsVerify, c.ClientIP()) {
			return
		}
		if s.verify == nil {
			writeError(c, domain.ErrNotFound)
			return
		}
		result, err := s.verify.VerifyOne(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) && result.Kind == nil {
				writeError(c, err)
				return
			}
			reason := err.Error()
			if errors.Is(err, domain.ErrNotFound) {
				reason = domain.VerifyErrLedgerNotFound
			}
			c.JSON(http.StatusInternalServerError, gin.H{"verified": false, "error": reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": result.Verified})
	}
}

func (s *Server) handleGetEvent(kind domain.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.events == nil {
			writeError(c, domain.ErrNotFound)
			return
		}
		event, err := s.events.Get(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, buildEventResponse(*event))
	}
}

// handleListDerived returns the product events fanned out from a tracker event.
func (s *Server) handleListDerived(c *gin.Context) {
	if s.events == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.events.Get(ctx, domain.EventKindTracker, id); err != nil {
		writeError(c, err)
		return
	}
	events, err := s.events.ListDerived(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, buildEventResponse(event))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListEvents(kind domain.EventKind, subjectParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.events == nil {
			writeError(c, domain.ErrNotFound)
			return
		}
		subject := c.Query(subjectParam)
		if subject == "" {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", subjectParam+" is required")
			return
		}
		from, err := parseTimeQuery(c, "from")
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "from must be RFC3339")
			return
		}
		to, err := parseTimeQuery(c, "to")
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "to must be RFC3339")
			return
		}
		limit, err := parseLimit(c)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		events, err := s.events.ListBySubject(c.Request.Context(), kind, subject, from, to, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]eventResponse, 0, len(events))
		for _, event := range events {
			out = append(out, buildEventResponse(event))
		}
		c.JSON(http.StatusOK, out)
	}
}

func (s *Server) handleListNotifications(c *gin.Context) {
	if s.notifications == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	notes, err := s.notifications.List(c.Request.Context(), c.Query("subject"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]notificationResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, notificationResponse{
			ID:          n.ID,
			SubjectKind: string(n.SubjectKind),
			SubjectRef:  n.SubjectRef,
			MessageID:   n.MessageID,
			Kind:        string(n.Kind),
			Message:     n.Message,
			Timestamp:   formatTime(n.Timestamp),
			CreatedAt:   formatTime(n.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAdminGateway(c *gin.Context) {
	var req adminGatewayRequest
	if !bindAdmin(c, &req) {
		return
	}
	gw := domain.Gateway{Key: req.Key, Secret: req.Secret}
	for _, raw := range req.AllowedMessageTypes {
		t, ok := domain.ParseMessageType(raw)
		if !ok {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown message type "+strconv.Quote(raw))
			return
		}
		gw.AllowedMessageTypes = append(gw.AllowedMessageTypes, t)
	}
	s.writeAdmin(c, s.registry.UpsertGateway(c.Request.Context(), gw), gin.H{"key": gw.Key})
}

func (s *Server) handleAdminTracker(c *gin.Context) {
	var req adminKeyRequest
	if !bindAdmin(c, &req) {
		return
	}
	s.writeAdmin(c, s.registry.UpsertTracker(c.Request.Context(), domain.Tracker{Key: req.Key}), gin.H{"key": req.Key})
}

func (s *Server) handleAdminProduct(c *gin.Context) {
	var req adminKeyRequest
	if !bindAdmin(c, &req) {
		return
	}
	err := s.registry.UpsertProduct(c.Request.Context(), domain.Product{Key: req.Key, Name: req.Name})
	s.writeAdmin(c, err, gin.H{"key": req.Key})
}

func (s *Server) handleAdminOrder(c *gin.Context) {
	var req adminOrderRequest
	if !bindAdmin(c, &req) {
		return
	}
	err := s.registry.UpsertOrder(c.Request.Context(), domain.ProductOrder{Number: req.Number, ProductKeys: req.Products})
	s.writeAdmin(c, err, gin.H{"number": req.Number})
}

func (s *Server) handleAdminAssignTracker(c *gin.Context) {
	var req adminAssignRequest
	if !bindAdmin(c, &req) {
		return
	}
	number := c.Param("number")
	err := s.registry.AssignTracker(c.Request.Context(), domain.TrackerAssignment{
		OrderNumber: number,
		TrackerKey:  req.TrackerKey,
		AssignedAt:  req.AssignedAt,
	})
	s.writeAdmin(c, err, gin.H{"number": number, "tracker_key": req.TrackerKey})
}

func (s *Server) handleAdminOrderStatus(c *gin.Context) {
	var req adminStatusRequest
	if !bindAdmin(c, &req) {
		return
	}
	number := c.Param("number")
	err := s.registry.RecordOrderStatus(c.Request.Context(), domain.OrderStatus{
		OrderNumber: number,
		Status:      domain.OrderStatusCode(req.Status),
		Timestamp:   req.Timestamp,
	})
	s.writeAdmin(c, err, gin.H{"number": number, "status": req.Status})
}

func bindAdmin(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

func (s *Server) writeAdmin(c *gin.Context, err error, body gin.H) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func buildEventResponse(e domain.Event) eventResponse {
	out := eventResponse{
		MessageID:     e.MessageID,
		EventType:     string(e.EventType),
		Kind:          string(e.Kind),
		SubjectRef:    e.SubjectRef,
		GatewayRef:    e.GatewayRef,
		SourceEventID: e.SourceEventID,
		Payload:       e.Payload,
		Timestamp:     formatTime(e.Timestamp),
		DataHash:      e.DataHash,
		ClaimedHash:   e.ClaimedHash,
		HashStatus:    string(e.HashStatus),
		CreatedAt:     formatTime(e.CreatedAt),
	}
	if e.LedgerRef != "" {
		ref := e.LedgerRef
		out.LedgerRef = &ref
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidMessage):
		status, code = http.StatusBadRequest, "INVALID_MESSAGE"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrAlreadyExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		status, code = http.StatusBadGateway, "LEDGER_UNAVAILABLE"
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
