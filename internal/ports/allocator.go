// Package ports allocates loopback TCP ports for the interpreter and database
// processes of each app.
//
// Allocation is a bind-probe: a port is considered free when 127.0.0.1:<port>
// can be bound and released. Nothing is held between allocation and use by the
// spawned process, so a different program may still take the port in between.
// Within one process the allocator remembers every port it handed out until it
// is released, so two apps never receive the same port from the same allocator.
package ports

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// ErrPortExhaustion is returned when no free port was found within the attempt budget
var ErrPortExhaustion = errors.New("no free port found within attempt budget")

const maxPort = 65535

// Prober reports whether a TCP port can currently be bound on loopback
type Prober func(port int) bool

// Observer is notified after every allocation with the number of probes used
type Observer func(attempts int, err error)

// Pair holds the two ports of one app
type Pair struct {
	Interpreter int `json:"interpreter_port"`
	Database    int `json:"database_port"`
}

// Allocator hands out free loopback ports
type Allocator struct {
	window   int
	attempts int
	probe    Prober
	observe  Observer
	logger   *zap.Logger

	mu       sync.Mutex
	reserved map[int]struct{}
	rand     func(n int) int
}

// Option configures an Allocator
type Option func(*Allocator)

// WithProber replaces the bind-probe, mainly for tests
func WithProber(p Prober) Option {
	return func(a *Allocator) { a.probe = p }
}

// WithObserver registers a callback invoked after each Allocate
func WithObserver(o Observer) Option {
	return func(a *Allocator) { a.observe = o }
}

// WithRand replaces the random candidate source. fn must return a value in [0, n).
func WithRand(fn func(n int) int) Option {
	return func(a *Allocator) { a.rand = fn }
}

// NewAllocator creates an allocator that scans preferred+1 .. preferred+window
// with at most attempts random candidates.
func NewAllocator(window, attempts int, logger *zap.Logger, opts ...Option) *Allocator {
	if window <= 0 {
		window = 1000
	}
	if attempts <= 0 {
		attempts = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Allocator{
		window:   window,
		attempts: attempts,
		probe:    IsFree,
		logger:   logger.Named("ports"),
		reserved: make(map[int]struct{}),
		rand:     rand.IntN,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns preferred if it is free, otherwise a random free port from
// the window above it. The returned port stays reserved until Release.
func (a *Allocator) Allocate(ctx context.Context, preferred int) (int, error) {
	port, attempts, err := a.allocate(ctx, preferred, nil)
	if a.observe != nil {
		a.observe(attempts, err)
	}
	return port, err
}

func (a *Allocator) allocate(ctx context.Context, preferred int, exclude map[int]struct{}) (int, int, error) {
	if preferred < 1 || preferred > maxPort {
		return 0, 0, fmt.Errorf("preferred port %d out of range", preferred)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	attempts := 1
	if a.usable(preferred, exclude) && a.probe(preferred) {
		a.reserved[preferred] = struct{}{}
		return preferred, attempts, nil
	}

	low := preferred + 1
	high := preferred + a.window
	if high > maxPort {
		high = maxPort
	}
	if low > high {
		return 0, attempts, fmt.Errorf("%w: no ports above %d", ErrPortExhaustion, preferred)
	}
	span := high - low + 1

	for i := 0; i < a.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, attempts, err
		}

		candidate := low + a.rand(span)
		attempts++
		if !a.usable(candidate, exclude) {
			continue
		}
		if a.probe(candidate) {
			a.reserved[candidate] = struct{}{}
			a.logger.Debug("Preferred port busy, allocated alternative",
				zap.Int("preferred", preferred),
				zap.Int("port", candidate),
				zap.Int("attempts", attempts))
			return candidate, attempts, nil
		}
	}

	return 0, attempts, fmt.Errorf("%w: preferred %d, window %d-%d, %d attempts",
		ErrPortExhaustion, preferred, low, high, a.attempts)
}

func (a *Allocator) usable(port int, exclude map[int]struct{}) bool {
	if _, taken := a.reserved[port]; taken {
		return false
	}
	if _, skip := exclude[port]; skip {
		return false
	}
	return true
}

// AllocatePair allocates an interpreter and a database port that differ from
// each other. When the second allocation collides with the first it is
// rejected and retried.
func (a *Allocator) AllocatePair(ctx context.Context, interpreterPreferred, databasePreferred int) (Pair, error) {
	interpreter, err := a.Allocate(ctx, interpreterPreferred)
	if err != nil {
		return Pair{}, fmt.Errorf("interpreter port: %w", err)
	}

	// The interpreter port is excluded so a collision is rejected as a candidate
	// and the scan moves on to the next one.
	exclude := map[int]struct{}{interpreter: {}}
	database, attempts, err := a.allocate(ctx, databasePreferred, exclude)
	if a.observe != nil {
		a.observe(attempts, err)
	}
	if err != nil {
		a.Release(interpreter)
		return Pair{}, fmt.Errorf("database port: %w", err)
	}

	return Pair{Interpreter: interpreter, Database: database}, nil
}

// Reserve marks ports as in use without probing them, for ports adopted from
// a previous run
func (a *Allocator) Reserve(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		if p > 0 {
			a.reserved[p] = struct{}{}
		}
	}
}

// Release returns ports to the pool
func (a *Allocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		delete(a.reserved, p)
	}
}

// Reserved reports whether port is currently handed out by this allocator
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[port]
	return ok
}

// Probe runs the configured bind-probe against port without reserving it
func (a *Allocator) Probe(port int) bool {
	return a.probe(port)
}

// IsFree reports whether 127.0.0.1:port can be bound right now
func IsFree(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
