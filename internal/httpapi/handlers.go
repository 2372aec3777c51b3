package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"clinic-cti/internal/auth"
	"clinic-cti/internal/callbacks"
	"clinic-cti/internal/calls"
	"clinic-cti/internal/patients"
	"clinic-cti/internal/rbac"
	"clinic-cti/internal/reporting"
	"clinic-cti/pkg/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// CallReader is the read side of the call record store.
type CallReader interface {
	Get(ctx context.Context, id string) (calls.CallRecord, error)
	List(ctx context.Context, f calls.ListFilter) ([]calls.CallRecord, int, error)
}

// PatientLookup resolves weak patient references at read time.
type PatientLookup interface {
	Patient(ctx context.Context, id string) (patients.Patient, bool, error)
}

// DaySummarizer aggregates one clinic day.
type DaySummarizer interface {
	DaySummary(ctx context.Context, req reporting.DaySummaryRequest) (reporting.DaySummary, error)
}

// Handlers is the dashboard read API. Dashboards poll it to reconcile after a
// missed live notification; it never writes.
type Handlers struct {
	Calls    CallReader
	Patients PatientLookup
	Reports  DaySummarizer

	// ClinicOffset defines the calendar day used by the date filter.
	ClinicOffset time.Duration

	Now func() time.Time
}

type listResponse struct {
	Items []calls.CallRecord `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

type patientSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Phone is the stored display number.
	Phone          string     `json:"phone"`
	NextActionDate *time.Time `json:"nextActionDate,omitempty"`
	NextActionType string     `json:"nextActionType,omitempty"`
}

type detailResponse struct {
	calls.CallRecord
	Patient *patientSummary `json:"patient,omitempty"`
}

// ListCallLogs serves GET /v1/call-logs.
func (h Handlers) ListCallLogs(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}

	f, page, err := h.parseFilter(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, total, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list call logs failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log lookup failed"})
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: items, Total: total, Page: page, Limit: f.Limit})
}

// GetCallLog serves GET /v1/call-logs/:id.
// A patient id that no longer resolves is reported as absent.
func (h Handlers) GetCallLog(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	ctx := c.Request.Context()
	rec, err := h.Calls.Get(ctx, id)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call log not found"})
			return
		}
		logger.FromGin(c).Error("get call log failed", "call_log_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log lookup failed"})
		return
	}

	out := detailResponse{CallRecord: rec}
	if rec.PatientID != "" && h.Patients != nil {
		p, ok, err := h.Patients.Patient(ctx, rec.PatientID)
		switch {
		case err != nil:
			logger.FromGin(c).Error("patient lookup failed", "patient_id", rec.PatientID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "patient lookup failed"})
			return
		case !ok:
			out.PatientID = ""
		default:
			out.Patient = &patientSummary{
				ID:             p.ID,
				Name:           p.Name,
				Phone:          p.Phone,
				NextActionDate: p.NextActionDate,
				NextActionType: p.NextActionType,
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

// DailyReport serves GET /v1/reports/daily?date=YYYY-MM-DD (default: today).
func (h Handlers) DailyReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	var day callbacks.Day
	if v := c.Query("date"); v != "" {
		d, err := callbacks.ParseDay(v, h.ClinicOffset)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = d
	} else {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		day = callbacks.DayOf(now(), h.ClinicOffset)
	}

	out, err := h.Reports.DaySummary(c.Request.Context(), reporting.DaySummaryRequest{
		From: day.Start,
		To:   day.End,
		Date: day.Key(h.ClinicOffset),
	})
	if err != nil {
		logger.FromGin(c).Error("daily report failed", "date", day.Key(h.ClinicOffset), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) parseFilter(c *gin.Context) (calls.ListFilter, int, error) {
	var f calls.ListFilter

	if v := c.Query("direction"); v != "" {
		d := calls.Direction(v)
		if !d.Valid() {
			return f, 0, errors.New("direction must be inbound or outbound")
		}
		f.Direction = d
	}
	if v := c.Query("status"); v != "" {
		s := calls.Status(v)
		if !s.Valid() {
			return f, 0, errors.New("unknown status")
		}
		f.Status = s
	}
	if v := c.Query("date"); v != "" {
		day, err := callbacks.ParseDay(v, h.ClinicOffset)
		if err != nil {
			return f, 0, errors.New("date must be YYYY-MM-DD")
		}
		f.StartedFrom, f.StartedTo = day.Start, day.End
	}
	f.Search = strings.TrimSpace(c.Query("search"))

	page, err := positiveInt(c.Query("page"), 1)
	if err != nil {
		return f, 0, errors.New("page must be a positive integer")
	}
	limit, err := positiveInt(c.Query("limit"), defaultPageSize)
	if err != nil {
		return f, 0, errors.New("limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit
	return f, page, nil
}

func positiveInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

// ReadAccess bundles the middleware chain for call log readers.
func ReadAccess(v *auth.Verifier, now func() time.Time) []gin.HandlerFunc {
	return []gin.HandlerFunc{auth.RequireAccessToken(v, now), rbac.RequireAnyRole(rbac.CallLogReaders...)}
}
