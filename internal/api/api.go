// Package api exposes the running show over HTTP: bearer-authenticated
// control endpoints (go-to-cue, grandmaster, programmer capture) and an
// unauthenticated websocket feed of the flattened live state, alongside
// health and Prometheus metrics endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/errs"
	"github.com/lumenrig/lumenrig/internal/playback"
	"github.com/lumenrig/lumenrig/internal/rig"
)

// Claims is the bearer token shape accepted by this service's control
// endpoints. Only the registered claims are required; a caller just
// needs a validly-signed, unexpired token to drive the show.
type Claims struct {
	jwt.RegisteredClaims
}

// maxClockSkew bounds how far in the future an iat claim may sit before
// the token is rejected outright.
const maxClockSkew = 5 * time.Minute

func validateToken(tokenStr string, key []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("api: parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("api: invalid claims")
	}
	if claims.IssuedAt != nil && time.Until(claims.IssuedAt.Time) > maxClockSkew {
		return nil, fmt.Errorf("api: iat too far in the future (max skew %v)", maxClockSkew)
	}
	return claims, nil
}

func bearerAuth(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if _, err := validateToken(auth[len(prefix):], key); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Server wires the Rig, Playback, and a live-state broadcaster behind a
// chi router.
type Server struct {
	r         *rig.Rig
	pb        *playback.Playback
	hub       *hub
	log       *logrus.Entry
	jwtSecret []byte
}

// NewServer constructs a Server over an already-running Rig/Playback
// pair. jwtSecret signs and verifies bearer tokens for the control
// endpoint group; the live websocket feed is read-only and unauthenticated.
func NewServer(r *rig.Rig, pb *playback.Playback, jwtSecret []byte, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Server{r: r, pb: pb, hub: newHub(), log: log, jwtSecret: jwtSecret}
}

// Routes returns the chi router with every endpoint registered.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/live", s.handleLiveWebsocket)

	router.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.jwtSecret))
		r.Post("/cuelists/{list}/go/{num}", s.handleGoToCue)
		r.Post("/grandmaster/{value}", s.handleSetGrandmaster)
		r.Post("/programmer/{device}/{param}/{value}", s.handleProgrammerSetFloat)
	})

	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.r.Running(),
		"slow":    s.r.Slow(),
		"devices": s.r.DeviceCount(),
	})
}

func (s *Server) handleGoToCue(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	numStr := chi.URLParam(r, "num")
	layerName := r.URL.Query().Get("layer")
	if layerName == "" {
		layerName = "base"
	}
	var num float64
	if _, err := fmt.Sscanf(numStr, "%g", &num); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid cue number")
		return
	}
	if err := s.pb.GoToCue(list, num, layerName); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errs.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, errs.ErrValidation):
			status = http.StatusBadRequest
		}
		writeError(w, status, "go_to_cue_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetGrandmaster(w http.ResponseWriter, r *http.Request) {
	var v float64
	if _, err := fmt.Sscanf(chi.URLParam(r, "value"), "%g", &v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid grandmaster value")
		return
	}
	s.pb.SetGrandmaster(v)
	writeJSON(w, http.StatusOK, map[string]float64{"grandmaster": s.pb.Grandmaster()})
}

func (s *Server) handleProgrammerSetFloat(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device")
	paramName := chi.URLParam(r, "param")
	var v float64
	if _, err := fmt.Sscanf(chi.URLParam(r, "value"), "%g", &v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid parameter value")
		return
	}
	if ok := s.pb.Programmer().SetFloat(deviceID, paramName, v); !ok {
		writeError(w, http.StatusNotFound, "not_found", "device or parameter not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub fans out broadcast frames to every connected websocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub { return &hub{clients: make(map[*websocket.Conn]struct{})} }

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	_ = c.Close()
}

func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			delete(h.clients, c)
			_ = c.Close()
		}
	}
}

// handleLiveWebsocket upgrades the connection and registers it with the
// hub. Frames are pushed by BroadcastLoop; the read loop here only
// exists to notice when the client goes away.
func (s *Server) handleLiveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("api: websocket upgrade failed")
		return
	}
	s.hub.add(conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(conn)
				return
			}
		}
	}()
}

type liveFrame struct {
	TNowMs      int64                      `json:"tNowMs"`
	Grandmaster float64                    `json:"grandmaster"`
	Devices     map[string]json.RawMessage `json:"devices"`
	// Active lists each layer's still-animating identifiers so consoles
	// can limit their redraw to parameters that are actually moving.
	Active map[string][]string `json:"active,omitempty"`
}

// BroadcastLoop periodically pushes the rig's current flattened device
// state and grandmaster to every connected websocket client, until stop
// is closed. Intended to run on its own goroutine alongside the Rig's
// tick loop.
func (s *Server) BroadcastLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			devices := make(map[string]json.RawMessage)
			for _, d := range s.r.AllDevices().Devices() {
				raw, err := d.MarshalJSON()
				if err != nil {
					continue
				}
				devices[d.ID()] = raw
			}
			frame := liveFrame{
				TNowMs:      time.Now().UnixMilli(),
				Grandmaster: s.pb.Grandmaster(),
				Devices:     devices,
				Active:      s.pb.ActiveParameters(),
			}
			raw, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			s.hub.broadcast(raw)
		}
	}
}
