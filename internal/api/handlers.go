package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/model"
	"github.com/jackdeye/LAHacks/internal/severity"
	"github.com/jackdeye/LAHacks/internal/store"
)

const maxBodyBytes = 1 << 16

func wantsHistory(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("history"), "true")
}

func (s *Server) handleNational(w http.ResponseWriter, r *http.Request) {
	s.writeRegion(w, r, s.opts.NationalProxy)
}

func (s *Server) handleRegional(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("region")))
	state, ok := s.opts.RegionProxies[code]
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing or unknown 'region' parameter")
		return
	}
	s.writeRegion(w, r, state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" {
		writeError(w, http.StatusBadRequest, "Missing 'state' parameter")
		return
	}
	s.writeRegion(w, r, state)
}

// writeRegion writes the latest reading of the first region matching match,
// or with ?history=true every matching reading oldest first.
func (s *Server) writeRegion(w http.ResponseWriter, r *http.Request, match string) {
	ctx := r.Context()

	if wantsHistory(r) {
		readings, err := s.store.ReadingHistory(ctx, match)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if len(readings) == 0 {
			writeError(w, http.StatusNotFound, "No matching states found")
			return
		}
		writeJSON(w, http.StatusOK, readings)
		return
	}

	reading, err := s.store.LatestReading(ctx, match)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No matching states found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleAllStates keys every region to its latest reading, or to its full
// history oldest first. Regions match exactly.
func (s *Server) handleAllStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	history := wantsHistory(r)

	regions, err := s.store.ListRegions(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	out := make(map[string]any, len(regions))
	for _, region := range regions {
		readings, err := s.store.RegionHistory(ctx, region)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if len(readings) == 0 {
			continue
		}
		if history {
			slices.Reverse(readings)
			out[region] = readings
		} else {
			out[region] = readings[0]
		}
	}

	if len(out) == 0 {
		writeError(w, http.StatusNotFound, "No state data found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCounty averages site categories per county, or across every site
// serving the requested county.
func (s *Server) handleCounty(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.EqualFold(q.Get("history"), "true") {
		writeError(w, http.StatusBadRequest, "Historical data not available on a per-county basis")
		return
	}
	state := strings.TrimSpace(q.Get("state"))
	if state == "" {
		writeError(w, http.StatusBadRequest, "Missing 'state' parameter")
		return
	}
	county := strings.TrimSpace(q.Get("county"))

	sites, err := s.store.FindSites(r.Context(), state, county)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(sites) == 0 {
		writeError(w, http.StatusNotFound, "No matching counties found")
		return
	}

	if county == "" {
		writeJSON(w, http.StatusOK, severity.AggregateCounties(sites, s.scale))
		return
	}

	avg, ok := severity.AverageSites(sites, s.scale)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not average wval_category")
		return
	}
	first := sites[0]
	writeJSON(w, http.StatusOK, severity.CountySummary{
		Region:        first.Region,
		County:        first.CountiesServed,
		Category:      avg,
		ReportingWeek: first.ReportingWeek,
	})
}

type predictionsResponse struct {
	Predictions []model.Forecast `json:"predictions"`
}

// handlePredictions lists stored forecasts, optionally only those whose
// region contains ?state.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	forecasts, err := s.store.ListForecasts(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	if state := strings.TrimSpace(r.URL.Query().Get("state")); state != "" {
		forecasts = slices.DeleteFunc(forecasts, func(f model.Forecast) bool {
			return !severity.Contains(f.Region, state)
		})
	}
	if forecasts == nil {
		forecasts = []model.Forecast{}
	}
	writeJSON(w, http.StatusOK, predictionsResponse{Predictions: forecasts})
}

// handleForceEmail runs the alert job to completion before responding.
func (s *Server) handleForceEmail(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "Email job not configured")
		return
	}
	if _, err := s.notifier.Run(context.WithoutCancel(r.Context())); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": "Emails on the way"})
}

type subscribeRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Location string `json:"location" validate:"required"`
}

func (s *Server) handleNotifyMe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Location = strings.TrimSpace(req.Location)

	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	err := s.store.CreateSubscriber(r.Context(), model.Subscriber{Email: req.Email, Region: req.Location})
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusBadRequest, "This email is already subscribed.")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "You will now be informed!"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "email" {
				return "A valid email address is required."
			}
		}
	}
	return "Email and location are required."
}

// internalError logs err and returns its message as the error body.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}
