package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	errs "followsync/pkg/errors"
	"followsync/pkg/syncer"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Message string `json:"message"`
	// NextUpdateIn is set on 429 responses, in seconds
	NextUpdateIn int `json:"nextUpdateIn,omitempty"`
}

// statusFor maps an error type to an HTTP status
func statusFor(t errs.ErrorType) int {
	switch t {
	case errs.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errs.ErrorTypeConflict:
		return http.StatusConflict
	case errs.ErrorTypeUpstream, errs.ErrorTypeNetwork:
		return http.StatusBadGateway
	case errs.ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var userMessages = map[errs.ErrorType]string{
	errs.ErrorTypeConfiguration: "The server is not configured to reach the follower API.",
	errs.ErrorTypeUpstream:      "Could not fetch followers from the upstream API. Check the API key and credits.",
	errs.ErrorTypeNetwork:       "The upstream API could not be reached.",
	errs.ErrorTypeStorage:       "Could not read or save sync data.",
	errs.ErrorTypeConflict:      "A sync is already running for this account.",
	errs.ErrorTypeNotFound:      "Nothing was found for this account.",
}

// writeError renders err with the status its type maps to
func writeError(c *gin.Context, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = &errs.Error{Type: errs.ErrorTypeUnknown, Message: err.Error(), Err: err}
	}

	status := statusFor(e.Type)
	body := ErrorResponse{
		Error:   string(e.Type),
		Details: err.Error(),
		Message: userMessages[e.Type],
	}

	switch {
	case e.Type == errs.ErrorTypeRateLimit:
		secs := ceilSeconds(e.RetryAfter)
		body.NextUpdateIn = secs
		body.Message = "Followers were synced recently. Try again in " + humanWait(e.RetryAfter) + "."
		c.Header("Retry-After", strconv.Itoa(secs))
	case errors.Is(err, syncer.ErrEmptyHarvest):
		body.Message = "The upstream API returned no followers. The previous list was kept."
	case body.Message == "":
		body.Message = "Something went wrong while syncing followers."
	}

	c.AbortWithStatusJSON(status, body)
}

// ceilSeconds rounds up so a pending wait is never reported as zero
func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func humanWait(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(ceilSeconds(d)) + " seconds"
	}
	if d < time.Hour {
		return strconv.Itoa(int(math.Ceil(d.Minutes()))) + " minutes"
	}
	return strconv.FormatFloat(math.Ceil(d.Hours()*10)/10, 'f', -1, 64) + " hours"
}
