/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package shopload

import (
	"context"
	e "errors"
	"time"
)

// Attack must be implemented by a load script, one Attack describes what one simulated user does.
type Attack interface {
	Runnable
	// Setup is called once when a user is spawned, it should create the client for the target.
	Setup(c RunnerConfig) error
	// Do performs one task and is executed in the user goroutine.
	// The context is cancelled on Do timeout or when the runner stops.
	Do(ctx context.Context) DoResult
	// Teardown is called once when a user is stopped.
	Teardown() error
	// Clone should return a fresh new Attack for the next user,
	// fields initialized at Setup must not be shared between clones.
	Clone(r *Runner) Attack
}

// Runnable contains default generator/suite configs and methods to access them
type Runnable interface {
	// GetManager get test manager with suite and generator configs
	GetManager() *LoadManager
	// GetRunner get current runner
	GetRunner() *Runner
}

// WithRunner embeds Runner with all configs to be accessible for attacker
type WithRunner struct {
	R *Runner
}

func (a *WithRunner) Teardown() error { return nil }

func (a *WithRunner) GetManager() *LoadManager {
	return a.R.Manager
}

func (a *WithRunner) GetRunner() *Runner {
	return a.R
}

// NewSession creates an http session bound to the runner target
func (a *WithRunner) NewSession() (*HTTPSession, error) {
	return a.R.NewSession()
}

// walkAttack calls f for the attack and every attack it wraps until f returns true
func walkAttack(a Attack, f func(Attack) bool) {
	for a != nil {
		if f(a) {
			return
		}
		u, ok := a.(interface{ Unwrap() Attack })
		if !ok {
			return
		}
		a = u.Unwrap()
	}
}

var errAttackDoTimedOut = e.New("Attack Do(ctx) timedout")

// doWithTimeout calls attacker.Do once, the call is abandoned when timeout is reached
func doWithTimeout(parent context.Context, attacker Attack, timeout time.Duration) result {
	begin := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	done := make(chan DoResult, 1)
	go func() {
		done <- attacker.Do(ctx)
	}()
	var dor DoResult
	// either get the result from the attacker or from the timeout
	select {
	case <-ctx.Done():
		if parent.Err() != nil {
			dor = DoResult{Error: parent.Err()}
		} else {
			dor = DoResult{Error: errAttackDoTimedOut}
		}
	case dor = <-done:
	}
	end := time.Now()
	return result{
		doResult: dor,
		begin:    begin,
		end:      end,
		elapsed:  end.Sub(begin),
	}
}

// attack calls attacker.Do upon each received next token until ctx is done,
// it sends a result on the results channel after each call.
func attack(ctx context.Context, attacker Attack, next <-chan bool, results chan<- result, timeout time.Duration) {
	for {
		select {
		case <-next:
			res := doWithTimeout(ctx, attacker, timeout)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
