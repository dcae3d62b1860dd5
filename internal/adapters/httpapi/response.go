package httpapi

import (
	"net/http"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

// errorBody is what every failed non-streaming call returns. It is a
// superset of a failed domain.ChatResult.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// classify maps err to an HTTP status and a coded error for logging.
func classify(err error) (int, string, error) {
	b := errbuilder.New().WithMsg(domain.Describe(err)).WithCause(err)
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_REQUEST", b.WithCode(errbuilder.CodeInvalidArgument)
	case domain.KindDeadlineExceeded:
		return http.StatusGatewayTimeout, "TIMEOUT", b.WithCode(errbuilder.CodeDeadlineExceeded)
	case domain.KindUpstreamStatus, domain.KindTransport:
		return http.StatusBadGateway, "UPSTREAM_ERROR", b.WithCode(errbuilder.CodeUnavailable)
	case domain.KindDecode:
		return http.StatusBadGateway, "UPSTREAM_ERROR", b.WithCode(errbuilder.CodeInternal)
	case domain.KindPoolClosed:
		return http.StatusServiceUnavailable, "UNAVAILABLE", b.WithCode(errbuilder.CodeUnavailable)
	case domain.KindCanceled:
		return statusClientClosedRequest, "CANCELED", b.WithCode(errbuilder.CodeCanceled)
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", b.WithCode(errbuilder.CodeInternal)
	}
}

// respondResult writes a ChatResult with a status matching its outcome.
func respondResult(c *gin.Context, res domain.ChatResult) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	status, _, coded := classify(res.Err)
	_ = c.Error(coded)
	c.JSON(status, res)
}

// respondError writes err as an errorBody.
func respondError(c *gin.Context, err error) {
	status, code, coded := classify(err)
	_ = c.Error(coded)
	c.JSON(status, errorBody{Success: false, Code: code, Error: domain.Describe(err)})
}

func invalidRequest(op, msg string, cause error) error {
	return domain.NewError(domain.KindInvalidInput, op, msg, cause)
}
