package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/explorer"
)

// App holds the handler dependencies.
type App struct {
	Explorer explorer.Lister
	Cache    *TxCache
	Log      zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Log.Warn().Err(err).Msg("encode response")
	}
}

func (a *App) Health(w http.ResponseWriter, _ *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Transactions proxies an account txlist:
// GET /api/transactions?address=0x..&network=sepolia
func (a *App) Transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	if address == "" {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "Missing address parameter"})
		return
	}
	network := strings.ToLower(strings.TrimSpace(q.Get("network")))
	if network == "" {
		network = explorer.DefaultNetwork
	}

	if txs, fresh := a.Cache.Get(network, address); fresh {
		w.Header().Set("X-Cache", "HIT")
		a.json(w, http.StatusOK, map[string]any{"transactions": txs})
		return
	}

	txs, err := a.Explorer.Transactions(r.Context(), network, address)
	if err != nil {
		a.Log.Error().Err(err).Str("network", network).Str("address", address).Msg("fetch transactions")
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch transactions"})
		return
	}
	if txs == nil {
		txs = []explorer.Tx{}
	}
	a.Cache.Put(network, address, txs)
	w.Header().Set("X-Cache", "MISS")
	a.json(w, http.StatusOK, map[string]any{"transactions": txs})
}
