package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

type changeStreamer interface {
	Serve(ctx context.Context, sink broadcast.Sink) error
}

// OrderStream relays order change events to an admin client as server-sent
// events until the client disconnects.
func OrderStream(streamer changeStreamer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if streamer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order stream unavailable"))
			return
		}

		sse, err := responses.NewSSEWriter(w)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open order stream"))
			return
		}

		if logg != nil {
			logg.Info(r.Context(), "orders.stream.opened")
		}
		err = streamer.Serve(r.Context(), sse)
		if logg == nil {
			return
		}
		switch {
		case err == nil:
			logg.Info(r.Context(), "orders.stream.closed")
		case errors.Is(err, broadcast.ErrFeedClosed):
			logg.Warn(r.Context(), "orders.stream.feed_closed")
		default:
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "orders.stream.write_failed")
		}
	}
}
