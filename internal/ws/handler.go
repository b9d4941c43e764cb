package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/buzzer-backend/internal/protocol"
	"github.com/DoyleJ11/buzzer-backend/internal/session"
)

const (
	outboxSize   = 32
	readLimit    = 4 << 10
	writeTimeout = 5 * time.Second
	pongTimeout  = 10 * time.Second
	leaveTimeout = 5 * time.Second
)

const DefaultPingInterval = 30 * time.Second

type options struct {
	pingInterval time.Duration
}

type Option func(*options)

// WithPingInterval sets how often the server pings each connection.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// Handler upgrades the request and runs one session until the client goes
// away or the room drops it. The connection lives as long as the request
// context, so cancelling the server's base context closes it.
func Handler(reg session.Registry, log *zap.Logger, opts ...Option) http.HandlerFunc {
	o := options{pingInterval: DefaultPingInterval}
	for _, opt := range opts {
		opt(&o)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		id := uuid.NewString()
		clog := log.With(zap.String("conn", id))
		clog.Debug("connected", zap.String("remote", r.RemoteAddr))

		ctx, drop := context.WithCancel(r.Context())
		defer drop()

		out := make(chan protocol.ServerMessage, outboxSize)
		sess := session.New(id, reg, out, drop, log)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return writeLoop(gctx, conn, out, o.pingInterval) })
		g.Go(func() error { return readLoop(gctx, conn, sess) })
		err = g.Wait()

		// Detached from the request so a dropped connection still leaves.
		lctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if lerr := sess.Leave(lctx); lerr != nil {
			clog.Warn("leave on disconnect failed", zap.Error(lerr))
		}

		switch status := websocket.CloseStatus(err); {
		case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
			clog.Debug("client closed")
		case errors.Is(err, context.Canceled):
			clog.Debug("connection dropped")
		default:
			clog.Info("connection lost", zap.Error(err))
		}
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		sess.HandleFrame(ctx, data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan protocol.ServerMessage, pingEvery time.Duration) error {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("writing %s: %w", msg.Event, err)
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
