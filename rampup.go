package shopload

import (
	"context"
	"math"
	"time"

	"go.uber.org/ratelimit"
)

const defaultRampupStrategy = "exp2"

type rampupStrategy interface {
	execute(r *Runner) bool
}

func (r *Runner) rampUp() bool {
	r.setStage(rampUp)
	var strategy rampupStrategy
	switch r.Config.rampupStrategy() {
	case "linear":
		strategy = linearIncreasingGoroutinesAndRequestsPerSecondStrategy{}
	default:
		strategy = spawnAsWeNeedStrategy{}
	}
	r.L.Infof("start rampup for %d sec, strategy [%s]", r.Config.RampUpTimeSec, r.Config.rampupStrategy())
	ok := strategy.execute(r)
	r.setSink(r.addResult)
	return ok
}

// fullAttack keeps max RPS with all spawned attackers until attack time ends or the runner stops
func (r *Runner) fullAttack() {
	r.setStage(constantLoad)
	left := time.Duration(r.Config.AttackTimeSec-r.Config.RampUpTimeSec) * time.Second
	r.L.Infof("start full attack for %v, rps [%d], attackers [%d]", left, r.Config.RPS, r.attackersCount())
	ctx, cancel := context.WithTimeout(r.ctx, left)
	defer cancel()
	limiter := ratelimit.New(r.Config.RPS)
	for {
		limiter.Take()
		select {
		case <-ctx.Done():
			return
		case r.next <- true:
		}
	}
}

type linearIncreasingGoroutinesAndRequestsPerSecondStrategy struct{}

func (s linearIncreasingGoroutinesAndRequestsPerSecondStrategy) execute(r *Runner) bool {
	r.spawnAttacker()
	for i := 1; i <= r.Config.RampUpTimeSec; i++ {
		if r.stopped() {
			return false
		}
		spawnAttackersToSize(r, i*r.Config.MaxAttackers/r.Config.RampUpTimeSec)
		takeDuringOneRampupSecond(r, i)
	}
	return !r.stopped()
}

func spawnAttackersToSize(r *Runner, count int) {
	routines := count
	if count > r.Config.MaxAttackers {
		routines = r.Config.MaxAttackers
	}
	for s := r.attackersCount(); s < routines; s++ {
		if r.stopped() {
			return
		}
		r.spawnAttacker()
	}
}

// takeDuringOneRampupSecond puts all attackers to work during one second with a reduced RPS.
func takeDuringOneRampupSecond(r *Runner, second int) (int, *Metrics) {
	rampMetrics := newMetrics()
	r.setRampMetrics(rampMetrics)
	// rampup can only proceed when at least one attacker is waiting for rps tokens
	if r.attackersCount() == 0 {
		r.L.Info("no attackers available to start rampup or full attack")
		return 0, rampMetrics
	}
	r.setSink(func(rs result) {
		rampMetrics.add(rs)
		r.addResult(rs)
	})
	rps := second * r.Config.RPS / r.Config.RampUpTimeSec
	if rps == 0 {
		rps = 1
	}
	limiter := ratelimit.New(rps)
	ctx, cancel := context.WithTimeout(r.ctx, time.Second)
	defer cancel()
loop:
	for {
		limiter.Take()
		select {
		case <-ctx.Done():
			break loop
		case r.next <- true:
		}
	}
	rampMetrics.updateLatencies()
	rampMetrics.updateSuccessRatio()
	r.RateLog = append(r.RateLog, rampMetrics.Rate)

	if r.Config.Verbose {
		r.L.Infof("rate [%4f -> %v], mean response [%v], # requests [%d], # attackers [%d], %% success [%d]",
			rampMetrics.Rate, rps, rampMetrics.meanLogEntry(), rampMetrics.Count(), r.attackersCount(), rampMetrics.successLogEntry())
	}
	return rps, rampMetrics
}

type spawnAsWeNeedStrategy struct{}

func (s spawnAsWeNeedStrategy) execute(r *Runner) bool {
	r.spawnAttacker() // start at least one
	for i := 1; i <= r.Config.RampUpTimeSec; i++ {
		if r.stopped() {
			return false
		}
		targetRate, lastMetrics := takeDuringOneRampupSecond(r, i)
		currentRate := lastMetrics.Rate
		if currentRate < float64(targetRate) {
			factor := 2.0
			if currentRate > 0 {
				factor = math.Min(float64(targetRate)/currentRate, 2.0)
			}
			spawnAttackersToSize(r, int(math.Ceil(float64(r.attackersCount())*factor)))
		}
	}
	return !r.stopped()
}
