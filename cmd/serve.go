package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/scoring"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deal telemetry and scoring server",
	Long: `Serve HTTP endpoints for deal lifecycle events (creation, invites,
communications, call assessments) and on-demand confidence scoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := newEngine()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		mux := newServeMux(st, engine)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newServeMux(st store.Store, engine *scoring.Engine) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /deals", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tenant           string  `json:"tenant"`
			Name             string  `json:"name"`
			PredictedMonthly float64 `json:"predicted_monthly"`
			PredictedOnetime float64 `json:"predicted_onetime"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		deal, err := st.CreateDeal(r.Context(), model.Deal{
			Tenant:           req.Tenant,
			Name:             req.Name,
			Status:           model.DealStatusDraft,
			PredictedMonthly: req.PredictedMonthly,
			PredictedOnetime: req.PredictedOnetime,
		})
		if err != nil {
			serveError(w, "create deal", err)
			return
		}
		writeJSON(w, http.StatusCreated, deal)
	})

	mux.HandleFunc("PUT /deals/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")
		var req struct {
			Status string     `json:"status"`
			SentAt *time.Time `json:"sent_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		status := model.DealStatus(req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}

		sentAt := req.SentAt
		if status == model.DealStatusSent && sentAt == nil {
			now := time.Now().UTC()
			sentAt = &now
		}

		if err := st.UpdateDealStatus(r.Context(), dealID, status, sentAt); err != nil {
			serveError(w, "update status", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
	})

	mux.HandleFunc("PUT /deals/{id}/call-scores", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")
		var cs model.CallScores
		if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := cs.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := st.SaveCallScores(r.Context(), dealID, cs); err != nil {
			serveError(w, "save call scores", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	})

	mux.HandleFunc("POST /deals/{id}/invites", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")
		var invite model.Invite
		if err := json.NewDecoder(r.Body).Decode(&invite); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if invite.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		invite.DealID = dealID

		created, err := st.AddInvite(r.Context(), invite)
		if err != nil {
			serveError(w, "add invite", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("POST /deals/{id}/communications", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")
		var req struct {
			Direction  string     `json:"direction"`
			OccurredAt *time.Time `json:"occurred_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		direction := model.CommDirection(req.Direction)
		if !direction.Valid() {
			writeError(w, http.StatusBadRequest, "direction must be inbound or outbound")
			return
		}

		at := time.Now().UTC()
		if req.OccurredAt != nil {
			at = *req.OccurredAt
		}

		if err := st.RecordCommunication(r.Context(), dealID, direction, at); err != nil {
			serveError(w, "record communication", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
	})

	mux.HandleFunc("GET /deals/{id}/score", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")

		in, err := st.LoadScoringInput(r.Context(), dealID)
		if err != nil {
			serveError(w, "load scoring input", err)
			return
		}

		res, err := engine.Score(*in, time.Now().UTC())
		if err != nil {
			serveError(w, "score deal", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET /deals/{id}/score/latest", func(w http.ResponseWriter, r *http.Request) {
		dealID := r.PathValue("id")

		sc, err := st.LatestScore(r.Context(), dealID)
		if err != nil {
			serveError(w, "latest score", err)
			return
		}
		if sc == nil {
			writeError(w, http.StatusNotFound, "deal has no persisted score")
			return
		}
		writeJSON(w, http.StatusOK, sc)
	})

	mux.HandleFunc("POST /webhook/rescore", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DealID string `json:"deal_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.DealID == "" {
			writeError(w, http.StatusBadRequest, "deal_id is required")
			return
		}

		in, err := st.LoadScoringInput(r.Context(), req.DealID)
		if err != nil {
			serveError(w, "load scoring input", err)
			return
		}

		now := time.Now().UTC()
		res, err := engine.Score(*in, now)
		if err != nil {
			serveError(w, "score deal", err)
			return
		}

		saved, err := st.SaveScore(r.Context(), model.DealScore{
			DealID:          req.DealID,
			Score:           res.ConfidenceScore,
			BaseScore:       res.BaseScore,
			TotalPenalties:  res.TotalPenalties,
			TotalBonus:      res.TotalBonus,
			WeightedMonthly: res.WeightedMonthly,
			WeightedOnetime: res.WeightedOnetime,
			Breakdown:       res.Breakdown,
			ConfigHash:      engine.Config().Hash(),
			ScoredAt:        now,
		})
		if err != nil {
			serveError(w, "save score", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serveError maps store errors onto HTTP statuses: missing deals become 404,
// everything else is a 500 with the detail kept in the logs.
func serveError(w http.ResponseWriter, action string, err error) {
	if strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, "deal not found")
		return
	}
	zap.L().Error("serve: "+action+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
