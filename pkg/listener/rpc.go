package listener

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/protocol"
	"github.com/mcpfed/gateway/pkg/session"
)

// writeRPCError writes a JSON-RPC error response body carrying the error
// taxonomy of spec §7. The body carries the code and message only; no trace
// id is added.
func writeRPCError(w http.ResponseWriter, id protocol.ID, err error) {
	gerr, ok := gwerr.As(err)
	if !ok {
		gerr = gwerr.Internal(err)
	}
	body, encErr := protocol.EncodeError(id, gerr.Code, gerr.Error(), nil)
	w.Header().Set("Content-Type", "application/json")
	if encErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK) // JSON-RPC errors travel in a 200 body per spec's transport framing
	_, _ = w.Write(body)
}

// writeHTTPError is used for failures that occur before a JSON-RPC frame
// could even be parsed (credential resolution, session admission) and so
// have no id to echo.
func writeHTTPError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	var tableFull session.ErrTableFull
	if errors.As(err, &tableFull) {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
