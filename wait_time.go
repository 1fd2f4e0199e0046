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
	"fmt"
	"math/rand"
	"time"
)

// Wait time policy types accepted in a handle wait_time section
const (
	WaitNone     = "none"
	WaitConstant = "constant"
	WaitBetween  = "between"
)

// WaitTime is the pause a simulated user takes between two tasks.
type WaitTime interface {
	Next() time.Duration
	String() string
}

// WaitTimer can be implemented by an Attack to declare its own wait time policy,
// it takes precedence over the handle wait_time config.
type WaitTimer interface {
	WaitTime() WaitTime
}

type noWait struct{}

func (noWait) Next() time.Duration { return 0 }

func (noWait) String() string { return WaitNone }

// NoWait runs tasks back to back
func NoWait() WaitTime {
	return noWait{}
}

type constantWait struct {
	d time.Duration
}

func (w constantWait) Next() time.Duration { return w.d }

func (w constantWait) String() string { return fmt.Sprintf("%s(%s)", WaitConstant, w.d) }

// Constant waits the same interval after every task
func Constant(d time.Duration) WaitTime {
	if d <= 0 {
		return NoWait()
	}
	return constantWait{d}
}

type betweenWait struct {
	min, max time.Duration
}

func (w betweenWait) Next() time.Duration {
	if w.max <= w.min {
		return w.min
	}
	return w.min + time.Duration(rand.Int63n(int64(w.max-w.min)+1))
}

func (w betweenWait) String() string {
	return fmt.Sprintf("%s(%s, %s)", WaitBetween, w.min, w.max)
}

// Between waits a uniformly random interval in [min, max]
func Between(min, max time.Duration) WaitTime {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return betweenWait{min, max}
}

// WaitTimeConfig wait time policy of a handle
type WaitTimeConfig struct {
	// Type policy type: none | constant | between, empty means none
	Type string `mapstructure:"type" yaml:"type,omitempty"`
	// FixedSec interval for constant policy
	FixedSec float64 `mapstructure:"fixed_sec" yaml:"fixed_sec,omitempty"`
	// MinSec lower bound for between policy
	MinSec float64 `mapstructure:"min_sec" yaml:"min_sec,omitempty"`
	// MaxSec upper bound for between policy
	MaxSec float64 `mapstructure:"max_sec" yaml:"max_sec,omitempty"`
}

func (c WaitTimeConfig) Validate() (list []string) {
	switch c.Type {
	case "", WaitNone:
	case WaitConstant:
		if c.FixedSec < 0 {
			list = append(list, "wait_time.fixed_sec must not be negative")
		}
	case WaitBetween:
		if c.MinSec < 0 || c.MaxSec < 0 {
			list = append(list, "wait_time.min_sec and wait_time.max_sec must not be negative")
		}
		if c.MaxSec < c.MinSec {
			list = append(list, "wait_time.max_sec must be greater or equal to wait_time.min_sec")
		}
	default:
		list = append(list, fmt.Sprintf("unknown wait_time.type %q, possible values are {none,constant,between}", c.Type))
	}
	return
}

// WaitTime builds the policy, unknown types fall back to none, call Validate first
func (c WaitTimeConfig) WaitTime() WaitTime {
	switch c.Type {
	case WaitConstant:
		return Constant(secondsToDuration(c.FixedSec))
	case WaitBetween:
		return Between(secondsToDuration(c.MinSec), secondsToDuration(c.MaxSec))
	default:
		return NoWait()
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// waitTimeFor picks the attack's own policy, then the handle config
func waitTimeFor(a Attack, c RunnerConfig) WaitTime {
	var wait WaitTime
	walkAttack(a, func(each Attack) bool {
		if wt, ok := each.(WaitTimer); ok {
			wait = wt.WaitTime()
			return true
		}
		return false
	})
	if wait != nil {
		return wait
	}
	return c.WaitTime.WaitTime()
}

// sleepCtx returns false if ctx is done before d elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
