package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"peerd/pkg/auth"
	"peerd/pkg/bird"
	"peerd/pkg/model"
	"peerd/pkg/roster"
	"peerd/pkg/version"
)

// Updater is the part of *bird.Updater the API drives.
type Updater interface {
	Update(ctx context.Context) error
	Status() bird.Status
}

// JournalReader lists recorded cycles.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]model.CycleEvent, error)
}

// Server serves the local management API.
type Server struct {
	Updater    Updater
	Roster     *roster.Roster
	Journal    JournalReader
	Options    bird.OptionsFunc
	Events     *EventHub
	Signer     *auth.Signer
	Token      string
	Admin      Admin
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
	ReqTimeout time.Duration
}

// RegisterRoutes wires the HTTP handlers on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	authz := s.authFunc()
	guard := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !authz(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v1/status", guard(s.handleStatus))
	mux.HandleFunc("/api/v1/zones", guard(s.handleZones))
	mux.HandleFunc("/api/v1/render", guard(s.handleRender))
	mux.HandleFunc("/api/v1/update", guard(s.handleUpdate))
	mux.HandleFunc("/api/v1/journal", guard(s.handleJournal))
	if s.Events != nil {
		mux.HandleFunc("/api/v1/ws/events", guard(s.Events.HandleEvents))
	}
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, StatusResponse{
		Version: version.String(),
		Bird:    s.Updater.Status(),
		Enabled: s.Options != nil && s.Options() != nil,
	})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := []ZoneView{}
	for _, z := range s.Roster.Zones() {
		v := ZoneView{Name: z.Name, BirdEnabled: z.Conf.Bird != nil, Bird: z.Conf.Bird}
		peers, release, ok := z.TryPeers()
		if !ok {
			v.Busy = true
			out = append(out, v)
			continue
		}
		for _, p := range peers {
			pv := PeerView{Name: p.Info.Name, Route: p.Info.Route}
			if p.Tun != nil {
				ctx, cancel := context.WithTimeout(r.Context(), time.Second)
				pv.Ifname, _ = p.Tun.Ifname(ctx)
				cancel()
			}
			v.Peers = append(v.Peers, pv)
		}
		release()
		out = append(out, v)
	}
	writeJSON(w, s.Logger, http.StatusOK, out)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts := bird.RenderOptions{Logger: s.Logger}
	if s.Options != nil {
		if o := s.Options(); o != nil {
			opts.Strict = o.Strict
		}
	}
	res, err := bird.Render(r.Context(), s.Roster.Zones(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, RenderResponse{
		Deferred: res.Deferred,
		BusyZone: res.BusyZone,
		Peers:    res.Peers,
		Skipped:  res.Skipped,
		Config:   res.Text,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if s.ReqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ReqTimeout)
		defer cancel()
	}
	if err := s.Updater.Update(ctx); err != nil {
		s.Logger.Error("manual update failed", zap.Error(err))
		writeJSON(w, s.Logger, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, s.Updater.Status())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.Journal.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.CycleEvent{}
	}
	writeJSON(w, s.Logger, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}
