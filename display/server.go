package display

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// Config holds the listen address of the display server.
type Config struct {
	Host string
	Port int
}

// Server serves printer status to display clients.
type Server struct {
	config     Config
	router     *mux.Router
	httpServer *http.Server
	guard      *Guard
	wsHub      *WSHub
	logger     hclog.Logger
}

// NewServer creates a display server over guard.
func NewServer(cfg Config, guard *Guard, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		guard:  guard,
		logger: logger,
	}

	s.wsHub = NewWSHub(s)
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: corsMiddleware(s.router),
	}
	return s
}

// Hub returns the WebSocket hub, which also receives busy notifications.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodGet)
	api.HandleFunc("/next", s.handleNext).Methods(http.MethodGet)
	api.HandleFunc("/printers", s.handlePrinters).Methods(http.MethodGet)
	api.HandleFunc("/printers/{index:[0-9]+}", s.handlePrinter).Methods(http.MethodGet)
	api.HandleFunc("/printers/{index:[0-9]+}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)

	s.router.HandleFunc("/websocket", s.wsHub.HandleWebSocket).Methods(http.MethodGet)
}

// handleQuery answers GET /api/query?key=... with the display string.
// Unknown keys yield an empty result, never an error.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	writeJSON(w, map[string]interface{}{
		"key":    key,
		"result": s.guard.Query(key),
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"result": s.guard.NextCompletion(),
	})
}

func (s *Server) handlePrinters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"result": s.guard.Snapshot(),
	})
}

func (s *Server) handlePrinter(w http.ResponseWriter, r *http.Request) {
	i, ok := printerIndex(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no such printer")
		return
	}
	v, ok := s.guard.View(i)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no such printer")
		return
	}
	writeJSON(w, map[string]interface{}{"result": v})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	i, ok := printerIndex(r)
	if !ok || !s.guard.AcknowledgeCompletion(i) {
		writeJSONError(w, http.StatusNotFound, "no active printer with that index")
		return
	}
	s.logger.Info("completion acknowledged", "printer", i+1)
	writeJSON(w, map[string]interface{}{"result": "ok"})
}

// printerIndex returns the 0-based slot for the 1-based {index} variable.
func printerIndex(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("display server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers so browser dashboards on other origins
// can poll the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	})
}
