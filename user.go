package shopload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// UserState lifecycle state of a simulated user
type UserState int32

const (
	UserSpawned UserState = iota
	UserRunning
	UserStopped
)

func (s UserState) String() string {
	switch s {
	case UserSpawned:
		return "spawned"
	case UserRunning:
		return "running"
	case UserStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// User is one simulated user, it owns its Attack clone and repeats its task
type User struct {
	ID         string
	l          *Logger
	attack     Attack
	wait       WaitTime
	iterations int64

	state int32
	done  int64
}

// newUser creates a user, iterations <= 0 means the user runs until stopped
func newUser(a Attack, wait WaitTime, iterations int) *User {
	if wait == nil {
		wait = NoWait()
	}
	return &User{
		ID:         uuid.New().String(),
		l:          log,
		attack:     a,
		wait:       wait,
		iterations: int64(iterations),
		state:      int32(UserSpawned),
	}
}

func (u *User) State() UserState {
	return UserState(atomic.LoadInt32(&u.state))
}

// Iterations number of completed tasks
func (u *User) Iterations() int64 {
	return atomic.LoadInt64(&u.done)
}

func (u *User) finished() bool {
	return u.iterations > 0 && u.Iterations() >= u.iterations
}

// run repeats Do, waiting the user wait time between tasks, until iterations are done or ctx is cancelled
func (u *User) run(ctx context.Context, results chan<- result, timeout time.Duration) {
	atomic.StoreInt32(&u.state, int32(UserRunning))
	defer atomic.StoreInt32(&u.state, int32(UserStopped))
	ctx = WithUserId(ctx, u.ID)
	l := u.l.FromCtx(ctx)
	defer func() {
		l.Debugf("user stopped after %d iterations", u.Iterations())
	}()
	for !u.finished() {
		if ctx.Err() != nil {
			return
		}
		res := doWithTimeout(ctx, u.attack, timeout)
		if res.doResult.Error == errAttackDoTimedOut {
			l.Infof("task timed out after %s", timeout)
		}
		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
		atomic.AddInt64(&u.done, 1)
		if u.finished() {
			return
		}
		if !sleepCtx(ctx, u.wait.Next()) {
			return
		}
	}
}
