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
	"sync/atomic"
	"time"
)

type attackMock struct {
	WithRunner
	sleep     time.Duration
	result    DoResult
	calls     *int64
	setups    *int64
	teardowns *int64
}

func newAttackMock(sleep time.Duration) *attackMock {
	return &attackMock{
		sleep:     sleep,
		calls:     new(int64),
		setups:    new(int64),
		teardowns: new(int64),
	}
}

func (m *attackMock) Setup(c RunnerConfig) error {
	atomic.AddInt64(m.setups, 1)
	return nil
}

func (m *attackMock) Do(ctx context.Context) DoResult {
	atomic.AddInt64(m.calls, 1)
	if m.sleep > 0 {
		t := time.NewTimer(m.sleep)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return m.result
}

func (m *attackMock) Teardown() error {
	atomic.AddInt64(m.teardowns, 1)
	return nil
}

func (m *attackMock) Clone(r *Runner) Attack {
	c := *m
	c.WithRunner = WithRunner{R: r}
	return &c
}

func (m *attackMock) Calls() int64 {
	return atomic.LoadInt64(m.calls)
}

type waitingAttackMock struct {
	*attackMock
	wait WaitTime
}

func (m *waitingAttackMock) WaitTime() WaitTime {
	return m.wait
}

func (m *waitingAttackMock) Clone(r *Runner) Attack {
	return &waitingAttackMock{m.attackMock.Clone(r).(*attackMock), m.wait}
}

type hookedAttackMock struct {
	*attackMock
	beforeErr error
	before    *int64
	after     *int64
}

func newHookedAttackMock(beforeErr error) *hookedAttackMock {
	return &hookedAttackMock{
		attackMock: newAttackMock(0),
		beforeErr:  beforeErr,
		before:     new(int64),
		after:      new(int64),
	}
}

func (m *hookedAttackMock) BeforeRun(c RunnerConfig) error {
	atomic.AddInt64(m.before, 1)
	return m.beforeErr
}

func (m *hookedAttackMock) AfterRun(r *RunReport) error {
	atomic.AddInt64(m.after, 1)
	r.Output["hooked"] = true
	return nil
}

func (m *hookedAttackMock) Clone(r *Runner) Attack {
	return &hookedAttackMock{m.attackMock.Clone(r).(*attackMock), m.beforeErr, m.before, m.after}
}
