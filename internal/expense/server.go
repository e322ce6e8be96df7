package expense

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Server handles HTTP requests for expenses and receipt extraction.
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="billsplit"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Receipt extraction boundary: multipart image in, receipt data out.
	s.mux.HandleFunc("POST /api/ocr", s.requireAuth(s.handleExtractReceipt))

	// Receipt import for an expense
	s.mux.HandleFunc("POST /api/expenses/{code}/receipt/confirm", s.requireAuth(s.handleConfirmImport))
	s.mux.HandleFunc("GET /api/expenses/{code}/receipt", s.requireAuth(s.handleGetReceiptImage))
	s.mux.HandleFunc("POST /api/expenses/{code}/receipt", s.requireAuth(s.handleImportReceipt))

	// Line items
	s.mux.HandleFunc("POST /api/expenses/{code}/items/{id}/assign", s.requireAuth(s.handleAssignLineItem))
	s.mux.HandleFunc("POST /api/expenses/{code}/items/{id}", s.requireAuth(s.handleUpdateLineItem))
	s.mux.HandleFunc("DELETE /api/expenses/{code}/items/{id}", s.requireAuth(s.handleDeleteLineItem))
	s.mux.HandleFunc("GET /api/expenses/{code}/items", s.requireAuth(s.handleListLineItems))
	s.mux.HandleFunc("POST /api/expenses/{code}/items", s.requireAuth(s.handleAddLineItem))

	// Participants
	s.mux.HandleFunc("POST /api/expenses/{code}/participants/{id}", s.requireAuth(s.handleRenameParticipant))
	s.mux.HandleFunc("DELETE /api/expenses/{code}/participants/{id}", s.requireAuth(s.handleDeleteParticipant))
	s.mux.HandleFunc("GET /api/expenses/{code}/participants", s.requireAuth(s.handleListParticipants))
	s.mux.HandleFunc("POST /api/expenses/{code}/participants", s.requireAuth(s.handleAddParticipant))

	// Expenses
	s.mux.HandleFunc("GET /api/expenses/{code}/shares", s.requireAuth(s.handleShares))
	s.mux.HandleFunc("POST /api/expenses/{code}/title", s.requireAuth(s.handleUpdateTitle))
	s.mux.HandleFunc("POST /api/expenses/{code}/total", s.requireAuth(s.handleUpdateTotal))
	s.mux.HandleFunc("GET /api/expenses/{code}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleCreateExpense))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
