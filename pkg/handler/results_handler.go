package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	msdb "github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/handler/params"
)

const defaultRunLimit = 50

// Every results endpoint accepts run_id; without it the latest run that wrote
// the table is used.

func (dbctx *DBContext) RunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := params.ParsePositiveIntFallback(r.URL.Query().Get("limit"), defaultRunLimit)

	runs, err := dbctx.Results.Runs(r.Context(), limit)
	if err != nil {
		dbError(w, "runs", err)
		return
	}
	if runs == nil {
		runs = []msdb.Run{}
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Count: len(runs), Payload: runs})
}

func (dbctx *DBContext) EvidenceHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	candidate, err := params.ParseOptionalBool(q.Get("candidate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "candidate must be true or false")
		return
	}

	rows, err := dbctx.Results.Screen(r.Context(), msdb.ScreenFilter{
		RunID:      q.Get("run_id"),
		Metabolism: q.Get("metabolism"),
		Candidate:  candidate,
	})
	if err != nil {
		dbError(w, "evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Count: len(rows), Payload: rows})
}

func (dbctx *DBContext) ValidationHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := msdb.DomainFilter{
		RunID:      q.Get("run_id"),
		Metabolism: q.Get("metabolism"),
		Label:      q.Get("label"),
	}

	switch params.ParseValidationLevel(q.Get("level")) {
	case params.ValidationLevelMAG:
		rows, err := dbctx.Results.DomainMAGs(r.Context(), filter)
		if err != nil {
			dbError(w, "validation", err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Count: len(rows), Payload: rows})
	case params.ValidationLevelGene:
		rows, err := dbctx.Results.DomainGenes(r.Context(), filter)
		if err != nil {
			dbError(w, "validation", err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Count: len(rows), Payload: rows})
	default:
		writeError(w, http.StatusBadRequest, "level must be mag or gene")
	}
}

func (dbctx *DBContext) HomologyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := dbctx.Results.Homology(r.Context(), msdb.HomologyFilter{
		RunID:      q.Get("run_id"),
		Metabolism: q.Get("metabolism"),
		Label:      q.Get("label"),
	})
	if err != nil {
		dbError(w, "homology", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Count: len(rows), Payload: rows})
}

func dbError(w http.ResponseWriter, what string, err error) {
	logger.Error("Results query failed", zap.String("endpoint", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "could not read "+what)
}
