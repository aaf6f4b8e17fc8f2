package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/streamsync/internal/control"
	"github.com/briangreenhill/streamsync/internal/engine"
	appmw "github.com/briangreenhill/streamsync/internal/http/middleware"
	"github.com/briangreenhill/streamsync/internal/jobs"
	"github.com/briangreenhill/streamsync/internal/origin"
	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
)

type Server struct {
	Router   *chi.Mux
	Engine   *engine.Engine
	Queue    *queue.Queue
	Progress *progress.Buffer
	Origin   origin.Fetcher
	Serving  *url.URL
	// Jobs schedules drains on the worker; nil drains inline
	Jobs jobs.Enqueuer
}

type ServerOptions struct {
	Engine   *engine.Engine
	Queue    *queue.Queue
	Progress *progress.Buffer
	Origin   origin.Fetcher
	Serving  *url.URL
	Active   appmw.ActiveStores
	Jobs     jobs.Enqueuer
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.CacheGeneration(opts.Active))

	s := &Server{
		Router:   r,
		Engine:   opts.Engine,
		Queue:    opts.Queue,
		Progress: opts.Progress,
		Origin:   opts.Origin,
		Serving:  opts.Serving,
		Jobs:     opts.Jobs,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("write health check response")
		}
	})

	r.Route("/_sw", func(sw chi.Router) {
		sw.Post("/install", s.handleInstall)
		sw.Post("/control", s.handleControl)
		sw.Post("/sync/{tag}", s.handleSync)
		sw.Post("/queue/{tag}", s.handleEnqueue)
		sw.Get("/queue/{tag}", s.handleListQueue)
		sw.Post("/progress", s.handleProgress)
	})

	// everything else is the intercepted origin
	r.NotFound(s.handleIntercept)
	r.MethodNotAllowed(s.handleIntercept)

	return s
}

func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	req := s.absolute(r)

	res, err := s.Engine.Handle(r.Context(), engine.Fetch{Request: req})
	if err != nil {
		log.Error().Err(err).Msg("intercept failed")
	}
	if res.Handled && res.Outcome.Response != nil {
		if res.Outcome.Err != nil {
			log.Debug().Err(res.Outcome.Err).Str("url", req.URL.String()).Msg("served offline fallback")
		}
		copyResponse(w, res.Outcome.Response, log)
		return
	}

	resp, err := s.Origin.Fetch(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL.String()).Msg("forward failed")
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	copyResponse(w, resp, log)
}

type installRequest struct {
	Version string `json:"version"`
	Wait    bool   `json:"wait"`
}

type installResponse struct {
	Version string            `json:"version"`
	Status  string            `json:"status"`
	Seeded  []string          `json:"seeded"`
	Failed  map[string]string `json:"failed,omitempty"`
	Waiting bool              `json:"waiting"`
}

// handleInstall installs a new cache version. A waiting install is activated
// later through the ForceActivateNow control command.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var body installRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	body.Version = strings.TrimSpace(body.Version)
	if body.Version == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}

	res, err := s.Engine.Handle(r.Context(), engine.Install{Version: body.Version, Wait: body.Wait})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("version", body.Version).Msg("install failed")
		http.Error(w, "install failed", http.StatusInternalServerError)
		return
	}

	out := installResponse{Version: body.Version, Waiting: body.Wait, Seeded: []string{}}
	if res.Install != nil {
		out.Status = res.Install.Status.String()
		out.Seeded = append(out.Seeded, res.Install.Seeded...)
		if len(res.Install.Failed) > 0 {
			out.Failed = make(map[string]string, len(res.Install.Failed))
			for asset, ferr := range res.Install.Failed {
				out.Failed[asset] = ferr.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	msg, err := control.Decode(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.Engine.Handle(r.Context(), engine.Message{Message: msg})
	switch {
	case errors.Is(err, control.ErrUnknownCommand), errors.Is(err, control.ErrURLRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, control.ErrNoActiveVersion):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, control.ErrResourceNotFound):
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Str("command", string(msg.Type)).Msg("control command failed")
		http.Error(w, "control command failed", http.StatusInternalServerError)
		return
	}

	if res.Reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res.Reply)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	log := hlog.FromRequest(r).With().Str("tag", tag).Logger()

	if s.Jobs != nil {
		queued, err := jobs.EnqueueDrain(r.Context(), s.Jobs, tag)
		if err != nil {
			log.Error().Err(err).Msg("enqueue drain failed")
			http.Error(w, "could not schedule sync", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"tag": tag, "queued": queued})
		return
	}

	res, err := s.Engine.Handle(r.Context(), engine.Sync{Tag: tag})
	if errors.Is(err, queue.ErrTagRequired) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("sync failed")
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drain": res.Drain, "flush": res.Flush})
}

type enqueueRequest struct {
	Method   string          `json:"method"`
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	id, err := s.Queue.Enqueue(r.Context(), chi.URLParam(r, "tag"), queue.Mutation{
		Method:   body.Method,
		Endpoint: body.Endpoint,
		Payload:  body.Payload,
	})
	if errors.Is(err, queue.ErrTagRequired) || errors.Is(err, queue.ErrEndpointRequired) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("enqueue failed")
		http.Error(w, "could not queue mutation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.Queue.Pending(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list queue failed")
		http.Error(w, "could not list queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var rec progress.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.Progress.Append(r.Context(), rec); err != nil {
		if errors.Is(err, progress.ErrContentIDRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("append progress failed")
		http.Error(w, "could not record progress", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// absolute returns a copy of r addressed to the serving origin. Requests that
// already carry an absolute URL for another host keep it.
func (s *Server) absolute(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	if r.URL.IsAbs() {
		return out
	}
	u := *s.Serving
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	u.Fragment = ""
	out.URL = &u
	return out
}

var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade", "Te", "Trailer"}

func copyResponse(w http.ResponseWriter, resp *http.Response, log *zerolog.Logger) {
	defer resp.Body.Close()
	dst := w.Header()
	for k, vv := range resp.Header {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Msg("copy response body")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
