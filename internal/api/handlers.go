package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/db"
	"github.com/banshee-data/coincidence/internal/httputil"
	"github.com/banshee-data/coincidence/internal/report"
)

type coincidencePage struct {
	Total   int                  `json:"total"`
	Offset  int                  `json:"offset"`
	Records []coincidence.Record `json:"coincidences"`
}

// listCoincidences pages through a run's records with ?offset= and ?limit=.
// The limit is capped at MaxPageSize.
func (s *Server) listCoincidences(w http.ResponseWriter, r *http.Request) {
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := httputil.QueryInt(r, "limit", DefaultPageSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	limit = min(limit, MaxPageSize)
	total, err := s.db.CountCoincidences(r.Context(), run.ID)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	records, err := s.db.LoadRecordsPage(r.Context(), run.ID, offset, limit)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}

	page := coincidencePage{Total: total, Offset: offset, Records: records}
	if page.Records == nil {
		page.Records = []coincidence.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) (report.Summary, bool) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return report.Summary{}, false
	}
	records, err := s.db.LoadRecords(r.Context(), run.ID)
	if err != nil {
		httputil.InternalServerError(w, err)
		return report.Summary{}, false
	}
	return report.Summarise(records), true
}

func (s *Server) reportHTML(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.summary(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, sum); err != nil {
		httputil.InternalServerError(w, err)
	}
}

func (s *Server) reportPNG(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.summary(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := report.WritePNG(w, sum); err != nil {
		httputil.InternalServerError(w, err)
	}
}

type stationResponse struct {
	db.Station
	Events int64 `json:"event_count"`
}

func (s *Server) listStations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stations, err := s.db.Stations(ctx)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	out := make([]stationResponse, 0, len(stations))
	for _, st := range stations {
		n, err := s.db.StationEventCount(ctx, st.ID)
		if err != nil {
			httputil.InternalServerError(w, err)
			return
		}
		out = append(out, stationResponse{Station: st, Events: n})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// eventCoincidences lists the stored coincidences that contain one event.
func (s *Server) eventCoincidences(w http.ResponseWriter, r *http.Request) {
	station, err := httputil.PathUint(r, "station", 32)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	index, err := httputil.PathUint(r, "event", 64)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx := r.Context()
	if _, err := s.db.Station(ctx, uint32(station)); err != nil {
		if errors.Is(err, db.ErrUnknownStation) {
			httputil.NotFound(w, err.Error())
		} else {
			httputil.InternalServerError(w, err)
		}
		return
	}
	hits, err := s.db.CoincidencesForEvent(ctx, uint32(station), index)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	if hits == nil {
		hits = []db.EventHit{}
	}
	httputil.WriteJSON(w, http.StatusOK, hits)
}
