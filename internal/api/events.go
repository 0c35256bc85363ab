package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/nutripublic/portal/internal/storage"
)

// eventTimeLayout renders event times the way the portal frontend displays them.
const eventTimeLayout = "1/2/2006, 3:04:05 PM"

func (s *Server) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEventsWithLocation",
		Method:      http.MethodGet,
		Path:        "/api/events/location",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *struct{}) (*LocationEventsOutput, error) {
		events, err := s.listEvents(ctx)
		if err != nil {
			return nil, err
		}
		out := &LocationEventsOutput{}
		out.Body.Events = make([]LocationEvent, 0, len(events))
		for _, e := range events {
			out.Body.Events = append(out.Body.Events, LocationEvent{
				Title:    e.Title,
				Content:  e.Content,
				Location: e.Location,
			})
		}
		out.Body.Total = len(out.Body.Events)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listEventsWithTime",
		Method:      http.MethodGet,
		Path:        "/api/events/time",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *struct{}) (*TimeEventsOutput, error) {
		events, err := s.listEvents(ctx)
		if err != nil {
			return nil, err
		}
		out := &TimeEventsOutput{}
		out.Body.Events = make([]TimeEvent, 0, len(events))
		for _, e := range events {
			out.Body.Events = append(out.Body.Events, TimeEvent{
				Title:   e.Title,
				Content: e.Content,
				Time:    formatEventTime(e.Time),
			})
		}
		out.Body.Total = len(out.Body.Events)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "createEvent",
		Method:        http.MethodPost,
		Path:          "/api/events",
		Tags:          []string{"Events"},
		DefaultStatus: http.StatusCreated,
		Middlewares:   huma.Middlewares{s.requireSession(api)},
	}, func(ctx context.Context, input *CreateEventInput) (*CreateEventOutput, error) {
		e := &storage.Event{
			Title:    input.Body.Title,
			Content:  input.Body.Content,
			Location: input.Body.Location,
		}
		if input.Body.Time != "" {
			t, err := time.Parse(time.RFC3339, input.Body.Time)
			if err != nil {
				return nil, huma.NewError(http.StatusBadRequest, "time must be an RFC 3339 timestamp")
			}
			e.Time = &t
		}
		if err := s.store.CreateEvent(ctx, e); err != nil {
			slog.Error("create event failed", "error", err)
			return nil, huma.NewError(http.StatusInternalServerError, "failed to create event")
		}
		out := &CreateEventOutput{}
		out.Body.ID = e.ID
		return out, nil
	})
}

func (s *Server) listEvents(ctx context.Context) ([]storage.Event, error) {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		slog.Error("list events failed", "error", err)
		return nil, huma.NewError(http.StatusInternalServerError, "Server error")
	}
	return events, nil
}

func formatEventTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(eventTimeLayout)
}
