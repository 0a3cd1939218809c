package execution

import (
	"encoding/json"
	"strings"

	"fleetctl/store"
)

// summarize folds per-unit outcomes into the operation's terminal status and
// resultJson: all-succeeded -> complete, all-failed -> failed, mixed ->
// partial.
func summarize(outcomes []UnitOutcome) (store.OperationStatus, string, string) {
	complete, failed := 0, 0
	var errs []string
	for _, o := range outcomes {
		if o.Status == string(store.TradeComplete) {
			complete++
		} else {
			failed++
			if o.Error != "" {
				errs = append(errs, o.Error)
			}
		}
	}

	var status store.OperationStatus
	switch {
	case failed == 0:
		status = store.StatusComplete
	case complete == 0:
		status = store.StatusFailed
	default:
		status = store.StatusPartial
	}

	resultJSON, _ := json.Marshal(struct {
		Trades []UnitOutcome `json:"trades"`
	}{Trades: outcomes})

	errMsg := ""
	if len(errs) > 0 {
		errMsg = strings.Join(errs, "; ")
	}
	return status, string(resultJSON), errMsg
}
