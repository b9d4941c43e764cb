package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/buzzer-backend/internal/room"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrClosed = errors.New("registry closed")
var ErrCodeSpaceExhausted = errors.New("could not find a free room code")

const maxCodeAttempts = 64

type Msg interface{ isRegistryMsg() }

type CreateRoom struct {
	Host  room.Member
	Reply chan Created
}

type Created struct {
	Room *room.Room
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// RemoveIfEmpty deletes Code only while it still maps to Room and Room has
// closed because its last player left.
type RemoveIfEmpty struct {
	Code string
	Room *room.Room
}

type GetStats struct {
	Reply chan Stats
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

func (CreateRoom) isRegistryMsg()    {}
func (GetRoom) isRegistryMsg()       {}
func (RemoveIfEmpty) isRegistryMsg() {}
func (GetStats) isRegistryMsg()      {}

type Option func(*Registry)

// WithCodeGenerator replaces GenerateCode, mostly for tests that need
// collisions.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.newCode = gen }
}

// Registry owns the code -> room mapping. Only its goroutine touches the map,
// so code allocation and insertion happen in one step.
type Registry struct {
	inbox   chan Msg
	rooms   map[string]*room.Room
	newCode func() (string, error)
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, log *zap.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:   make(chan Msg, 64),
		rooms:   make(map[string]*room.Room),
		newCode: GenerateCode,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

// Create allocates a fresh code and opens a room with host as its only
// player. The host receives its snapshot before Create returns. ctx only
// bounds queueing: a queued request is always answered, so a room is never
// opened without its creator learning about it.
func (r *Registry) Create(ctx context.Context, host room.Member) (*room.Room, error) {
	reply := make(chan Created, 1)
	if err := r.post(ctx, CreateRoom{Host: host, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case c := <-reply:
		return c.Room, c.Err
	case <-r.done:
		select {
		case c := <-reply:
			return c.Room, c.Err
		default:
			return nil, ErrClosed
		}
	}
}

func (r *Registry) Get(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := r.post(ctx, GetRoom{Code: NormalizeCode(code), Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case rm := <-reply:
		if rm == nil {
			return nil, ErrRoomNotFound
		}
		return rm, nil
	case <-r.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := r.post(ctx, GetStats{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.done:
		return Stats{}, ErrClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Close shuts every room down and waits for the registry loop to exit.
func (r *Registry) Close(ctx context.Context) error {
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing registry: %w", ctx.Err())
	}
}

func (r *Registry) post(ctx context.Context, m Msg) error {
	select {
	case <-r.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) onEmpty(rm *room.Room) {
	_ = r.post(context.Background(), RemoveIfEmpty{Code: rm.Code(), Room: rm})
}

func (r *Registry) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			for _, rm := range r.rooms {
				rm.Shutdown()
			}
			for _, rm := range r.rooms {
				<-rm.Done()
			}
			r.log.Info("registry shut down", zap.Int("rooms", len(r.rooms)))
			clear(r.rooms)
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				rm, err := r.create(msg.Host)
				msg.Reply <- Created{Room: rm, Err: err}

			case GetRoom:
				msg.Reply <- r.lookup(msg.Code) // May be nil

			case RemoveIfEmpty:
				r.removeIfEmpty(msg.Code, msg.Room)

			case GetStats:
				var s Stats
				for code := range r.rooms {
					if rm := r.lookup(code); rm != nil {
						s.Rooms++
						s.Players += rm.Players()
					}
				}
				msg.Reply <- s
			}
		}
	}
}

// lookup treats a room that already closed as gone, even if its
// RemoveIfEmpty is still queued.
func (r *Registry) lookup(code string) *room.Room {
	rm := r.rooms[code]
	if rm != nil && rm.Closed() {
		r.removeIfEmpty(code, rm)
		return nil
	}
	return rm
}

func (r *Registry) removeIfEmpty(code string, rm *room.Room) {
	if cur := r.rooms[code]; cur != nil && cur == rm && cur.Closed() {
		delete(r.rooms, code)
		r.log.Info("room removed", zap.String("room", code), zap.Int("rooms", len(r.rooms)))
	}
}

func (r *Registry) create(host room.Member) (*room.Room, error) {
	code, err := r.freeCode()
	if err != nil {
		return nil, err
	}
	rm, err := room.New(r.ctx, code, host, r.onEmpty, r.log)
	if err != nil {
		return nil, err
	}
	r.rooms[code] = rm
	return rm, nil
}

func (r *Registry) freeCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		if r.lookup(code) == nil {
			return code, nil
		}
		r.log.Debug("collision on code, regenerating", zap.String("code", code))
	}
	return "", ErrCodeSpaceExhausted
}
