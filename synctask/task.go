// Package synctask defines the unit of work the engine schedules: an
// immutable request specification bound to a dataset and a sync plan.
package synctask

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// RequestMethod is the HTTP verb a task's request specification uses.
type RequestMethod string

const (
	MethodGet  RequestMethod = "GET"
	MethodPost RequestMethod = "POST"
)

var (
	// ErrInsufficientArg is returned when the URL or the method passed to
	// NewRequestSpec is empty.
	ErrInsufficientArg = errors.New("synctask: insufficient or mismatched arguments to build task")

	// ErrInvalidRequestMethod is returned when a method string is neither GET nor POST.
	ErrInvalidRequestMethod = errors.New("synctask: invalid request method")
)

// RequestSpec is the wire shape of a single SyncTask request: an absolute
// URL, a method, a header map, and an optional JSON payload.
type RequestSpec struct {
	URL     *url.URL
	Method  RequestMethod
	Headers map[string]string
	Payload json.RawMessage
}

// NewRequestSpec validates and constructs a RequestSpec. This is the
// boundary at which InsufficientArg/InvalidRequestMethod/UrlParse errors
// are raised; once built, a RequestSpec is immutable.
func NewRequestSpec(rawURL, method string, headers map[string]string, payload json.RawMessage) (RequestSpec, error) {
	if rawURL == "" || method == "" {
		return RequestSpec{}, ErrInsufficientArg
	}

	m := RequestMethod(method)
	if m != MethodGet && m != MethodPost {
		return RequestSpec{}, fmt.Errorf("%w: %q", ErrInvalidRequestMethod, method)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("synctask: parse url: %w", err)
	}
	if !u.IsAbs() {
		return RequestSpec{}, fmt.Errorf("synctask: parse url: %w", &url.Error{Op: "parse", URL: rawURL, Err: errors.New("not an absolute URL")})
	}

	if headers == nil {
		headers = map[string]string{}
	}

	return RequestSpec{
		URL:     u,
		Method:  m,
		Headers: headers,
		Payload: payload,
	}, nil
}

// SyncTask is the unit of work polled from a TaskQueue and dispatched to a
// worker. It is immutable except for the retry bookkeeping, which lives on
// the queue, never on the task itself.
type SyncTask struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	PlanID    uuid.UUID
	Spec      RequestSpec
}

// New builds a SyncTask bound to a dataset and plan.
func New(datasetID, planID uuid.UUID, spec RequestSpec) *SyncTask {
	return &SyncTask{
		ID:        uuid.New(),
		DatasetID: datasetID,
		PlanID:    planID,
		Spec:      spec,
	}
}
