package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clinic-cti/internal/correlator"
	"clinic-cti/pkg/logger"
	"clinic-cti/pkg/phone"
)

const headerToken = "X-CTI-Token"

// Correlator is what the gateway dispatches decoded events to.
type Correlator interface {
	Handle(ctx context.Context, ev correlator.Event) (correlator.Result, error)
}

// CTIWebhookHandler is the Event Ingest Gateway for the CTI bridge.
//
// It validates, drops excluded numbers, and dispatches. No correlation logic here.
//
// Status codes are part of the bridge contract: it retries on 5xx only, so
// anything that is not a store fault answers 200.
type CTIWebhookHandler struct {
	Correlator Correlator

	// Exclusions are internal extensions and test lines, fixed at startup.
	Exclusions phone.ExclusionList

	// Token, when set, must match the X-CTI-Token header.
	Token string

	// Timeout bounds one event; exceeding it answers 500 so the bridge resends.
	Timeout time.Duration

	// ClinicOffset is used for timestamps sent without a zone.
	ClinicOffset time.Duration

	Now func() time.Time
}

// Response is the body returned to the bridge.
type Response struct {
	Success                 bool   `json:"success"`
	Message                 string `json:"message"`
	CallLogID               string `json:"callLogId,omitempty"`
	AutoCompletedCallbackID string `json:"autoCompletedCallbackId,omitempty"`

	// Set on outgoing-call only.
	PatientID    string `json:"patientId,omitempty"`
	IsRegistered *bool  `json:"isRegistered,omitempty"`
}

func (h CTIWebhookHandler) clinic() *time.Location {
	return time.FixedZone("clinic", int(h.ClinicOffset/time.Second))
}

func (h CTIWebhookHandler) authorized(c *gin.Context) bool {
	if h.Token == "" {
		return true
	}
	got := c.GetHeader(headerToken)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) == 1
}

// guard runs the checks shared by every POST route. It writes the response
// and returns false when the request must stop.
func (h CTIWebhookHandler) guard(c *gin.Context) bool {
	if h.Correlator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Message: "correlator not configured"})
		return false
	}
	if !h.authorized(c) {
		logger.FromGin(c).Warn("cti webhook rejected: bad token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Message: "unauthorized"})
		return false
	}
	return true
}

// HandleCallLog serves POST /v2/cti/call-logs.
func (h CTIWebhookHandler) HandleCallLog(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	log := logger.FromGin(c)

	var p CallLogPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		log.Warn("cti payload decode failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "invalid JSON body"})
		return
	}
	ev := p.ToEvent(h.clinic())
	if ev.CallerNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "callerNumber is required"})
		return
	}
	if h.Exclusions.Contains(ev.CallerNumber) {
		log.Debug("cti event for excluded number dropped", "event_type", string(ev.Type))
		c.JSON(http.StatusOK, Response{Success: true, Message: "Excluded number"})
		return
	}

	res, ok := h.dispatch(c, ev)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{
		Success:                 true,
		Message:                 res.Message,
		CallLogID:               res.CallLogID,
		AutoCompletedCallbackID: res.AutoCompletedCallbackID,
	})
}

// HandleIncomingCall serves POST /v2/cti/incoming-call, the bridge's ring hook.
func (h CTIWebhookHandler) HandleIncomingCall(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	var p IncomingCallPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "invalid JSON body"})
		return
	}
	ev := p.ToEvent(h.clinic())
	if ev.CallerNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "callerNumber is required"})
		return
	}
	if h.Exclusions.Contains(ev.CallerNumber) {
		logger.FromGin(c).Debug("incoming call from excluded number dropped")
		c.JSON(http.StatusOK, Response{Success: true, Message: "Excluded number"})
		return
	}

	res, ok := h.dispatch(c, ev)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: res.Message, CallLogID: res.CallLogID})
}

// HandleOutgoingCall serves POST /v2/cti/outgoing-call, posted when staff dial out.
func (h CTIWebhookHandler) HandleOutgoingCall(c *gin.Context) {
	if !h.guard(c) {
		return
	}
	var p OutgoingCallPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "invalid JSON body"})
		return
	}
	ev := p.ToEvent(h.clinic())
	if ev.CallerNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "phoneNumber is required"})
		return
	}
	if h.Exclusions.Contains(ev.CallerNumber) {
		logger.FromGin(c).Debug("outgoing call to excluded number dropped")
		c.JSON(http.StatusOK, Response{Success: true, Message: "Excluded number"})
		return
	}

	res, ok := h.dispatch(c, ev)
	if !ok {
		return
	}
	registered := res.PatientID != ""
	c.JSON(http.StatusOK, Response{
		Success:      true,
		Message:      res.Message,
		CallLogID:    res.CallLogID,
		PatientID:    res.PatientID,
		IsRegistered: &registered,
	})
}

// Liveness answers GET on the webhook paths; the bridge probes them on startup.
func (h CTIWebhookHandler) Liveness(c *gin.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "path": c.FullPath(), "timestamp": now().UTC().Format(time.RFC3339)})
}

func (h CTIWebhookHandler) dispatch(c *gin.Context, ev correlator.Event) (correlator.Result, bool) {
	log := logger.FromGin(c)

	ctx := c.Request.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	res, err := h.Correlator.Handle(ctx, ev)
	if err != nil {
		if errors.Is(err, correlator.ErrInvalidEvent) {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{Message: "invalid event"})
			return correlator.Result{}, false
		}
		log.Error("cti event failed", "event_type", string(ev.Type), "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Message: "Internal error"})
		return correlator.Result{}, false
	}
	if res.Outcome == correlator.OutcomeUnsupported {
		log.Info("cti event type not supported", "event_type", string(ev.Type))
	}
	return res, true
}
