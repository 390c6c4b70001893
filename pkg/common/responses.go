package common

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"canvassync/pkg/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// APIVersion is reported in response metadata
const APIVersion = "v2"

// WorkspaceNotFoundCode marks a 404 for a workspace that was never written,
// as opposed to a missing route
const WorkspaceNotFoundCode = "WORKSPACE_NOT_FOUND"

// StreamStatusTrailer is sent after the last chunk of a streamed answer:
// StreamComplete when it finished, anything else when it was cut short
const (
	StreamStatusTrailer = "X-Stream-Status"
	StreamComplete      = "complete"
)

// APIResponse represents a standard API response. Errors are written by
// errors.ErrorHandler, not through this envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *MetaInfo   `json:"meta,omitempty"`
}

// Envelope is APIResponse as seen by a client, with Data left undecoded
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Meta    *MetaInfo       `json:"meta,omitempty"`
}

// MetaInfo contains metadata about the response
type MetaInfo struct {
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// RespondWithMeta sends a response carrying request metadata
func RespondWithMeta(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta: &MetaInfo{
			RequestID: middleware.GetReqID(r.Context()),
			Timestamp: utils.NowRFC3339(),
			Version:   APIVersion,
		},
	})
}

// RespondNoContent sends an empty 204 response
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeEnvelope(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// DecodeData reads an APIResponse and decodes its data into v. A nil v only checks the envelope.
func DecodeData(r io.Reader, v interface{}) error {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("response is not successful")
	}
	if v == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// ParseJSONBody parses JSON request body with size limit
func ParseJSONBody(r *http.Request, v interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return err
	}
	return nil
}
