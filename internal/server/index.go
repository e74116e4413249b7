package server

import (
	"net/http"
	"time"

	"github.com/mxie/chatwrapped/internal/index"
)

const watchHeartbeat = 30 * time.Second

// handleIndexStatus reports one account's index readiness and
// build state.
func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Status(account))
}

// handleIndexRebuild requests an asynchronous rebuild of the
// account's index. 202 when started, 409 when one is running.
func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := s.mgr.Status(account)
	if !s.mgr.StartBuild(account, st.Exists) {
		writeError(w, http.StatusConflict, "index build already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleIndexWatch streams build progress for an account over
// SSE until the client disconnects.
func (s *Server) handleIndexWatch(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, err := newBuildStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	progress, cancel := s.mgr.Subscribe(account)
	defer cancel()

	if !stream.send("status", s.mgr.Status(account)) {
		return
	}

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-progress:
			if !stream.send("progress", p) {
				return
			}
			if p.Phase == index.PhaseDone || p.Phase == index.PhaseError {
				if !stream.send("status", s.mgr.Status(account)) {
					return
				}
			}
		case <-heartbeat.C:
			if !stream.send("heartbeat", struct{}{}) {
				return
			}
		}
	}
}

// handleListAccounts lists the account ids under the accounts
// directory.
func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts, err := s.mgr.Accounts()
	if err != nil {
		// A missing accounts dir just means nothing is set up yet.
		accounts = nil
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}
