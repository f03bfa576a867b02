package api

import (
	"encoding/json"
	"time"
)

// Outcome tags which schema a response body matched.
type Outcome int

const (
	OutcomeUnrecognized Outcome = iota
	OutcomeSuccess
	OutcomeAPIError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAPIError:
		return "api_error"
	default:
		return "unrecognized"
	}
}

// UsageResult is the exhaustive classification of a usage response body.
// Exactly one of Usage or APIError is set, unless Outcome is
// OutcomeUnrecognized, in which case only Body is meaningful.
type UsageResult struct {
	Outcome  Outcome
	Usage    *UsageResponse
	APIError *ErrorBody
	Body     []byte
}

// ParseUsage classifies body against the success schema first, then the
// error schema.
func ParseUsage(body []byte) UsageResult {
	var usage UsageResponse
	if err := json.Unmarshal(body, &usage); err == nil && usage.FiveHour != nil && usage.SevenDay != nil {
		return UsageResult{Outcome: OutcomeSuccess, Usage: &usage, Body: body}
	}
	if apiErr, ok := ParseErrorBody(body); ok {
		return UsageResult{Outcome: OutcomeAPIError, APIError: apiErr, Body: body}
	}
	return UsageResult{Outcome: OutcomeUnrecognized, Body: body}
}

// ParseErrorBody reports whether body is a structured API error.
func ParseErrorBody(body []byte) (*ErrorBody, bool) {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return nil, false
	}
	if eb.Type != "error" || eb.Error == nil {
		return nil, false
	}
	return &eb, true
}

// Snapshot turns the result into a snapshot or the matching error.
func (r UsageResult) Snapshot(statusCode int, fetchedAt time.Time) (Snapshot, error) {
	switch r.Outcome {
	case OutcomeSuccess:
		return r.Usage.Snapshot(fetchedAt), nil
	case OutcomeAPIError:
		return Snapshot{}, r.APIError.AsError(statusCode)
	default:
		return Snapshot{}, &UnrecognizedResponseError{StatusCode: statusCode, Body: string(r.Body)}
	}
}

// AsError converts a parsed error body to an *ErrorResponse.
func (eb *ErrorBody) AsError(statusCode int) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: statusCode,
		Type:       eb.Error.Type,
		Message:    eb.Error.Message,
		RequestID:  eb.RequestID,
	}
}
