package shopload

import (
	"context"
	"time"

	"go.uber.org/ratelimit"
)

// swarm runs the closed world load: users are spawned at spawn rate,
// each repeats its task until iterations are done, attack time ends or the runner stops.
func (r *Runner) swarm() {
	ctx := r.ctx
	if r.Config.AttackTimeSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(r.ctx, time.Duration(r.Config.AttackTimeSec)*time.Second)
		defer cancel()
	}
	r.setStage(constantLoad)
	r.L.Infof("spawning %d users, spawn rate [%d/s], iterations [%d], wait time [%s]",
		r.Config.Users, r.Config.SpawnRate, r.Config.Iterations, waitTimeFor(r.prototype, r.Config))

	var limiter ratelimit.Limiter
	if r.Config.SpawnRate > 0 {
		limiter = ratelimit.New(r.Config.SpawnRate)
	}
	usersDone := make(chan struct{}, r.Config.Users)
	spawned := 0
	for i := 0; i < r.Config.Users; i++ {
		if limiter != nil {
			limiter.Take()
		}
		if ctx.Err() != nil {
			break
		}
		if r.spawnUser(ctx, usersDone) {
			spawned++
		}
	}
	for i := 0; i < spawned; i++ {
		select {
		case <-usersDone:
		case <-ctx.Done():
			return
		}
	}
	r.L.Infof("all %d users finished", spawned)
}

func (r *Runner) spawnUser(ctx context.Context, done chan<- struct{}) bool {
	a := r.prototype.Clone(r)
	if err := a.Setup(r.Config); err != nil {
		r.L.Infof("user setup failed with [%v]", err)
		return false
	}
	u := newUser(a, waitTimeFor(a, r.Config), r.Config.Iterations)
	u.l = r.L
	r.mu.Lock()
	r.attackers = append(r.attackers, a)
	r.users = append(r.users, u)
	r.mu.Unlock()
	if r.Config.Verbose {
		r.L.Infof("spawned user [%s]", u.ID)
	}
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		u.run(ctx, r.results, r.Config.timeout())
		done <- struct{}{}
	}()
	return true
}
