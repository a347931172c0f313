package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/storage"
)

// envelope is the uniform success shape: payload plus HATEOAS links.
type envelope struct {
	Data  any             `json:"data"`
	Links map[string]link `json:"_links"`
}

type errorEnvelope struct {
	Error errorBody       `json:"error"`
	Links map[string]link `json:"_links"`
}

type errorBody struct {
	Message    string   `json:"message"`
	StatusCode int      `json:"status_code"`
	Details    []string `json:"details,omitempty"`
}

type link struct {
	Href string `json:"href"`
}

func selfLinks(r *http.Request) map[string]link {
	return map[string]link{"self": {Href: r.URL.RequestURI()}}
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data, Links: selfLinks(r)}); err != nil {
		s.log.Warn("writing response failed", zap.Error(err))
	}
}

// writeError renders the error envelope. Storage errors are logged in full
// and reduced to a generic message for the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	re := resterr.From(err)
	message := re.Message
	details := re.Details
	if !re.Public() {
		s.log.Error("internal error",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal server error"
		details = nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.StatusCode())
	body := errorEnvelope{
		Error: errorBody{Message: message, StatusCode: re.StatusCode(), Details: details},
		Links: selfLinks(r),
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		s.log.Warn("writing error response failed", zap.Error(encErr))
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return resterr.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeDocument parses a request body as a document, keeping integral
// numbers as int64 the way the store expects.
func decodeDocument(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, resterr.Validation("reading request body: " + err.Error())
	}
	doc, err := storage.DecodeDocument(raw)
	if err != nil {
		return nil, resterr.Validation("invalid JSON body: " + err.Error())
	}
	return doc, nil
}
