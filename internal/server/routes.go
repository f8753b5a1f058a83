package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/revwatch"
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/repos", s.handle(s.listRepos))
	mux.HandleFunc("POST /api/repos", s.handle(s.openRepo))
	mux.HandleFunc("DELETE /api/repos/{id}", s.handle(s.deleteRepo))

	mux.HandleFunc("GET /api/sessions/{id}", s.handle(s.getSession))
	mux.HandleFunc("GET /api/sessions/{id}/branches", s.handle(s.listBranches))
	mux.HandleFunc("PUT /api/sessions/{id}/base-branch", s.handle(s.setBaseBranch))

	mux.HandleFunc("GET /api/sessions/{id}/snapshots", s.handle(s.listSnapshots))
	mux.HandleFunc("POST /api/sessions/{id}/snapshots", s.handle(s.capture))
	mux.HandleFunc("GET /api/snapshots/{id}", s.handle(s.getSnapshot))

	mux.HandleFunc("GET /api/sessions/{id}/watch", s.handle(s.watchStatus))
	mux.HandleFunc("POST /api/sessions/{id}/watch", s.handle(s.startWatching))
	mux.HandleFunc("DELETE /api/sessions/{id}/watch", s.handle(s.stopWatching))

	mux.HandleFunc("GET /api/sessions/{id}/comments", s.handle(s.listComments))
	mux.HandleFunc("POST /api/sessions/{id}/comments", s.handle(s.addComment))
	mux.HandleFunc("POST /api/sessions/{id}/comments/send", s.handle(s.sendComments))

	mux.HandleFunc("GET /api/sessions/{id}/events", s.handle(s.openEvents))
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handle(s.openWebsocket))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.app.Hub.TotalConnections(),
	})
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) error {
	repos, err := s.app.Reviews.ListRepos(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, repos)
	return nil
}

type openRepoRequest struct {
	Path string `json:"path"`
}

func (s *Server) openRepo(w http.ResponseWriter, r *http.Request) error {
	var req openRepoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	view, err := s.app.Reviews.OpenRepo(r.Context(), req.Path)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, view)
	return nil
}

func (s *Server) deleteRepo(w http.ResponseWriter, r *http.Request) error {
	if err := s.app.Reviews.DeleteRepo(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) error {
	view, err := s.app.Reviews.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, view)
	return nil
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) error {
	branches, err := s.app.Reviews.ListBranches(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, branches)
	return nil
}

type baseBranchRequest struct {
	Branch *string `json:"branch"`
}

func (s *Server) setBaseBranch(w http.ResponseWriter, r *http.Request) error {
	var req baseBranchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	sess, err := s.app.Reviews.SetBaseBranch(r.Context(), r.PathValue("id"), req.Branch)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) error {
	snaps, err := s.app.Reviews.ListSnapshots(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, snaps)
	return nil
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request) error {
	snap, err := s.app.Reviews.Capture(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, snap.Summary())
	return nil
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) error {
	snap, err := s.app.Reviews.GetSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, snap)
	return nil
}

type watchResponse struct {
	Watching bool `json:"watching"`
}

func (s *Server) watchStatus(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	if _, err := s.app.Reviews.GetSession(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, watchResponse{Watching: s.app.Reviews.IsWatching(id)})
	return nil
}

func (s *Server) startWatching(w http.ResponseWriter, r *http.Request) error {
	if err := s.app.Reviews.StartWatching(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, watchResponse{Watching: true})
	return nil
}

func (s *Server) stopWatching(w http.ResponseWriter, r *http.Request) error {
	if err := s.app.Reviews.StopWatching(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, watchResponse{Watching: false})
	return nil
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) error {
	comments, err := s.app.Reviews.ListComments(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, comments)
	return nil
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) error {
	var in revwatch.CommentInput
	if err := decodeJSON(w, r, &in); err != nil {
		return err
	}
	c, err := s.app.Reviews.AddComment(r.Context(), r.PathValue("id"), in)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, c)
	return nil
}

type sendCommentsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) sendComments(w http.ResponseWriter, r *http.Request) error {
	var req sendCommentsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	sent, err := s.app.Reviews.SendComments(r.Context(), r.PathValue("id"), req.IDs)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sent)
	return nil
}

func (s *Server) openEvents(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	if _, err := s.app.Reviews.GetSession(r.Context(), id); err != nil {
		return err
	}

	ch, err := broadcast.NewSSEChannel(w)
	if err != nil {
		// Headers are already written; nothing more can be sent.
		s.log.Warn().Err(err).Str("session_id", id).Msg("event stream unavailable")
		return nil
	}
	s.stream(r, id, ch)
	return nil
}

func (s *Server) openWebsocket(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	if _, err := s.app.Reviews.GetSession(r.Context(), id); err != nil {
		return err
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the failure response.
		s.log.Warn().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return nil
	}
	s.stream(r, id, broadcast.NewWSChannel(conn))
	return nil
}

type servingChannel interface {
	broadcast.Channel
	Serve(ctx context.Context) error
}

// stream subscribes ch to the session and serves it until the client goes
// away or the server shuts down. The connected event is always the first
// event a channel sees.
func (s *Server) stream(r *http.Request, sessionID string, ch servingChannel) {
	_ = ch.Send(broadcast.Connected{SessionID: sessionID})

	s.app.Hub.AddConnection(sessionID, ch)
	defer s.app.Hub.RemoveConnection(sessionID, ch.ID())

	if err := ch.Serve(r.Context()); err != nil {
		s.log.Debug().Err(err).Str("session_id", sessionID).Str("channel", ch.ID()).Msg("stream ended")
	}
}
