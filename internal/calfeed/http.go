package calfeed

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/httputil"
	"github.com/alex65536/racecal/internal/util/slogx"
)

type Handler struct {
	log *slog.Logger
	db  DB
}

func NewHandler(log *slog.Logger, db DB) *Handler {
	return &Handler{log: log, db: db}
}

// Register mounts the feed endpoints on the mux, gzip-compressed: calendar
// clients poll these on a schedule, and the documents compress well.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /calendar.ics", gziphandler.GzipHandler(http.HandlerFunc(h.handleAll)))
	mux.Handle("GET /calendar/{series}.ics", gziphandler.GzipHandler(http.HandlerFunc(h.handleSeries)))
	mux.Handle("GET /calendar/{series}/{event}.ics", gziphandler.GzipHandler(http.HandlerFunc(h.handleEvent)))
}

func (h *Handler) handleAll(w http.ResponseWriter, req *http.Request) {
	events, err := h.db.ListListedEvents(req.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.serve(w, req, "races", events)
}

func (h *Handler) handleSeries(w http.ResponseWriter, req *http.Request) {
	series := req.PathValue("series")
	events, err := h.db.ListListedEvents(req.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	matched := events[:0]
	for _, ev := range events {
		if ev.Series == series {
			matched = append(matched, ev)
		}
	}
	if len(matched) == 0 {
		h.fail(w, httputil.MakeError(http.StatusNotFound, "no such series"))
		return
	}
	h.serve(w, req, series, matched)
}

func (h *Handler) handleEvent(w http.ResponseWriter, req *http.Request) {
	ev, err := h.db.GetEvent(req.Context(), req.PathValue("series"), req.PathValue("event"))
	if err != nil {
		if errors.Is(err, race.ErrEventNotFound) {
			err = httputil.MakeError(http.StatusNotFound, "no such event")
		}
		h.fail(w, err)
		return
	}
	if !ev.Listed {
		h.fail(w, httputil.MakeError(http.StatusNotFound, "no such event"))
		return
	}
	h.serve(w, req, ev.NameOrShort(), []race.Event{*ev})
}

// serve regenerates the calendar on every request; either the whole
// document renders or the request fails.
func (h *Handler) serve(w http.ResponseWriter, req *http.Request, name string, events []race.Event) {
	b := &builder{db: h.db, now: time.Now()}
	cal, err := b.build(req.Context(), name, events)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar")
	if err := cal.SerializeTo(w); err != nil {
		h.log.Info("could not write calendar", slogx.Err(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var httpErr *httputil.Error
	if !errors.As(err, &httpErr) {
		h.log.Warn("calendar request failed", slogx.Err(err))
	}
	if err := httputil.WriteErrorResponse(err, w); err != nil {
		h.log.Info("could not write error response", slogx.Err(err))
	}
}
