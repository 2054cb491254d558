// Package api provides the HTTP control surface for the trade executor.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"trade-executorv1/internal/execution"
	"trade-executorv1/internal/ledger"
	"trade-executorv1/internal/queue"
)

// Deps are the components the handlers operate on. Journal may be nil.
type Deps struct {
	Queue    *queue.Queue
	Ledger   *ledger.Ledger
	Executor *execution.Executor
	Journal  *execution.Journal
}

type executeRequest struct {
	Ticker      string  `json:"ticker"`
	LowerPrice  float64 `json:"lower_price"`
	HigherPrice float64 `json:"higher_price"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Ticker  string `json:"ticker"`
}

// NewRouter sets up HTTP routes for the executor's API server.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Ticker == "" || req.LowerPrice <= 0 || req.HigherPrice <= req.LowerPrice {
			http.Error(w, "ticker required and 0 < lower_price < higher_price", http.StatusBadRequest)
			return
		}

		log.Printf("[api] execute requested: %s $%g-$%g", req.Ticker, req.LowerPrice, req.HigherPrice)
		ok := d.Executor.ProcessTrade(r.Context(), req.Ticker, req.LowerPrice, req.HigherPrice)

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		json.NewEncoder(w).Encode(executeResponse{Success: ok, Ticker: req.Ticker})
	})

	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		trades, err := d.Queue.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"count": len(trades), "trades": trades})
	})

	mux.HandleFunc("/api/v1/risk", func(w http.ResponseWriter, r *http.Request) {
		risk, err := d.Ledger.Read(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]float64{"available_risk": risk})
	})

	mux.HandleFunc("/api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		if d.Journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}
		recs, err := d.Journal.Recent(r.Context(), 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"count": len(recs), "executions": recs})
	})

	return mux
}
