package server

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/siteinventory/spdash/internal/bridge"
	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/model"
)

// sameOriginHandshake accepts only sockets opened by pages served from this
// host. The dashboard frame relays its host's postMessage traffic here, so
// the socket's origin is always our own.
func sameOriginHandshake(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	if origin == nil || origin.Host != r.Host {
		return fmt.Errorf("cross-origin bridge connection from %v", origin)
	}
	cfg.Origin = origin
	return nil
}

// HandleBridge upgrades to a websocket speaking the host bridge protocol.
// Datasets pushed over it replace the session's dataset.
func (s *Server) HandleBridge(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	ctx := r.Context()

	loader := bridge.LoaderFunc(func(ctx context.Context, name string, data []byte) (*model.Dataset, error) {
		if int64(len(data)) > s.config.MaxUploadBytes {
			return nil, ingest.ErrTooLarge
		}
		return s.loadDataset(ctx, sess.ID, name, data)
	})

	websocket.Server{
		Handshake: sameOriginHandshake,
		Handler: func(conn *websocket.Conn) {
			s.logger.Debug("bridge connected", "session", shortID(sess.ID))
			if err := bridge.Serve(ctx, bridge.NewWSChannel(conn), loader); err != nil {
				s.logger.Warn("bridge closed", "session", shortID(sess.ID), "error", err)
				return
			}
			s.logger.Debug("bridge disconnected", "session", shortID(sess.ID))
		},
	}.ServeHTTP(w, r)
}
