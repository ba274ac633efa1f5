package runtime

import (
	"net/http"
	"strings"

	"github.com/meshwire/meshwire/internal/runtime/dispatch"
	jsoncodec "github.com/meshwire/meshwire/internal/runtime/jsoncodec"
	substrate "github.com/meshwire/meshwire/transport"
)

// StartIntrospectionServer registers the JSON introspection endpoints when
// enabled in the configuration. The endpoints expose the router handlers,
// the tool catalog with per-tool stats, and the substrate capability sets.
func (s *Service) StartIntrospectionServer() {
	if !s.Conf.IntrospectionEnabled {
		return
	}

	port := s.Conf.IntrospectionPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(port, "/api/tools", http.HandlerFunc(s.handleGetTools))
	s.RegisterHTTPHandler(port, "/api/capabilities", http.HandlerFunc(s.handleGetCapabilities))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if s.writeIntrospectionHeaders(w, r) {
		return
	}
	s.writeIntrospectionJSON(w, s.HandlerSnapshots())
}

// toolsReport pairs the registered tool catalog with the per-tool call stats.
type toolsReport struct {
	Catalog []dispatch.Registration      `json:"catalog"`
	Stats   []dispatch.ToolStatsSnapshot `json:"stats"`
}

func (s *Service) handleGetTools(w http.ResponseWriter, r *http.Request) {
	if s.writeIntrospectionHeaders(w, r) {
		return
	}

	report := toolsReport{
		Catalog: []dispatch.Registration{},
		Stats:   []dispatch.ToolStatsSnapshot{},
	}

	s.dispatcherMu.Lock()
	d := s.dispatcher
	s.dispatcherMu.Unlock()

	if d != nil {
		report.Catalog = d.Catalog()
		report.Stats = d.Stats()
	}

	s.writeIntrospectionJSON(w, report)
}

func (s *Service) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.writeIntrospectionHeaders(w, r) {
		return
	}
	s.writeIntrospectionJSON(w, substrate.DefaultRegistry.AllCapabilities())
}

// writeIntrospectionHeaders sets the content type and CORS headers and
// handles preflight requests. It returns true when the request is already
// fully answered.
func (s *Service) writeIntrospectionHeaders(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.IntrospectionCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *Service) writeIntrospectionJSON(w http.ResponseWriter, payload any) {
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		s.Logger.Error("Failed to encode introspection payload", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(body); err != nil {
		s.Logger.Error("Failed to write introspection response", err, nil)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
