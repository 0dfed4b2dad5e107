package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/logger"
)

type Config struct {
	Addr   string
	Logger *logrus.Logger
}

// Server is the rendezvous point. It forwards envelopes between connected
// devices and never inspects their payloads.
type Server struct {
	config Config
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[string]*remote

	httpSrv *http.Server
}

type remote struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (r *remote) write(env Envelope) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(env)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Server{
		config:  cfg,
		logger:  log,
		clients: make(map[string]*remote),
	}
}

// Handler returns the HTTP handler serving the websocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	return mux
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.config.Addr, Handler: s.Handler()}
	s.logger.Infof("Signaling server listening on %s", s.config.Addr)

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down signaling server")
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		http.Error(w, "missing device id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}

	client := &remote{conn: conn}
	if displaced := s.register(deviceID, client); displaced != nil {
		_ = displaced.conn.Close()
	}
	s.logger.Infof("Device %s connected from %s", deviceID, r.RemoteAddr)

	defer func() {
		s.unregister(deviceID, client)
		_ = conn.Close()
		s.logger.Infof("Device %s disconnected", deviceID)
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("Read from %s failed: %v", deviceID, err)
			}
			return
		}

		env.From = deviceID
		if env.Timestamp == 0 {
			env.Timestamp = device.NowMillis()
		}
		s.forward(deviceID, client, env)
	}
}

func (s *Server) forward(from string, sender *remote, env Envelope) {
	s.mu.Lock()
	target := s.clients[env.To]
	s.mu.Unlock()

	if target == nil {
		s.logger.Debugf("Device %s unreachable, dropping %s from %s", env.To, env.Type, from)
		if env.Type == TypeRelay {
			reply := Envelope{
				Type:      TypeRelay,
				From:      env.To,
				To:        from,
				Event:     EventUnreachable,
				Timestamp: device.NowMillis(),
			}
			if err := sender.write(reply); err != nil {
				s.logger.Warnf("Failed to notify %s: %v", from, err)
			}
		}
		return
	}

	if err := target.write(env); err != nil {
		s.logger.Warnf("Failed to forward %s to %s: %v", env.Type, env.To, err)
	}
}

// register stores the connection, returning any displaced one so the
// caller can close it. A reconnecting device replaces its old socket.
func (s *Server) register(deviceID string, client *remote) *remote {
	s.mu.Lock()
	defer s.mu.Unlock()

	displaced := s.clients[deviceID]
	s.clients[deviceID] = client
	return displaced
}

func (s *Server) unregister(deviceID string, client *remote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients[deviceID] == client {
		delete(s.clients, deviceID)
	}
}
