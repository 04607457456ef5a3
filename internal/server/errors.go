package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/flow-analytics/internal/aggregate"
	"github.com/sells-group/flow-analytics/internal/pipeline"
	"github.com/sells-group/flow-analytics/pkg/reporting"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Hint    string `json:"hint,omitempty"`
	Status  int    `json:"status"`
}

// statusClientClosedRequest is the nginx convention for a caller that hung up
// before the response was ready.
const statusClientClosedRequest = 499

type errorClass struct {
	target error
	status int
	code   string
	hint   string
}

var errorClasses = []errorClass{
	{aggregate.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{pipeline.ErrFlowNotScored, http.StatusNotFound, "flow_not_found", "check the flow id and that it sent email in the window"},
	{reporting.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "the reporting API is throttling requests; retry shortly"},
	{reporting.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_unavailable", "the reporting API failed; check credentials and service status"},
	{aggregate.ErrDataIntegrityEmpty, http.StatusUnprocessableEntity, "no_data", "no report rows for this window; widen the date range or try mode=range"},
	{aggregate.ErrRowBudgetExceeded, http.StatusRequestEntityTooLarge, "row_budget_exceeded", "narrow the date range, filter flows or use mode=range"},
	{aggregate.ErrDeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "narrow the date range or use mode=range"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "narrow the date range or use mode=range"},
	{context.Canceled, statusClientClosedRequest, "client_closed_request", "the request was canceled before the run finished"},
}

// classify maps an error to its response envelope.
func classify(err error) ErrorResponse {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return ErrorResponse{Error: c.code, Details: err.Error(), Hint: c.hint, Status: c.status}
		}
	}
	return ErrorResponse{Error: "internal", Details: err.Error(), Status: http.StatusInternalServerError}
}

func writeError(w http.ResponseWriter, err error) {
	resp := classify(err)
	switch {
	case resp.Status == statusClientClosedRequest:
		zap.L().Warn("server: request canceled", zap.Error(err))
	case resp.Status >= http.StatusInternalServerError:
		zap.L().Error("server: request failed", zap.Int("status", resp.Status), zap.Error(err))
	}
	writeJSON(w, resp.Status, resp)
}
