package boot

import (
	"encoding/json"
	"net/http"

	"fleetctl/autonomy"
	"fleetctl/swing"
)

// healthSnapshot is the JSON body served at /healthz, mirroring the
// teacher's AdminServer.handleStatus pattern of encoding a processor's
// in-memory status directly rather than re-deriving it from the store.
type healthSnapshot struct {
	Status   string              `json:"status"`
	Autonomy autonomy.TickOutcome `json:"autonomy_last_tick"`
	Swing    swing.TickOutcome    `json:"swing_last_tick"`
}

// NewHealthHandler serves a JSON snapshot of both loops' most recent tick at
// /healthz and a bare 200 at /.
func NewHealthHandler(svc *Services) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := healthSnapshot{Status: "ok"}
		if svc.Autonomy != nil {
			snapshot.Autonomy = svc.Autonomy.LastTick()
		}
		if svc.Swing != nil {
			snapshot.Swing = svc.Swing.LastTick()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
