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
	"strconv"
	"sync/atomic"
	"time"
)

// Monitored reports timings and errors of every Do to go-metrics, label is taken from DoResult
type Monitored struct {
	Attack
}

func WithMonitor(a Attack) Monitored {
	return Monitored{a}
}

func (m Monitored) Do(ctx context.Context) DoResult {
	before := time.Now()
	result := m.Attack.Do(ctx)
	r := m.GetRunner()
	label := result.RequestLabel
	if label == "" {
		label = r.Name()
	}
	r.registerLabelTimings(label).Update(time.Since(before))
	if result.Failed() {
		r.registerErrCount(label).Inc(1)
	}
	return result
}

func (m Monitored) Clone(r *Runner) Attack {
	r.goroutinesCountGauge.Update(atomic.AddInt64(&r.goroutinesCount, 1))
	return Monitored{m.Attack.Clone(r)}
}

func (m Monitored) Unwrap() Attack {
	return m.Attack
}

// CSVMonitored appends label, start, duration, status of every Do to the results csv log
type CSVMonitored struct {
	Attack
}

func WithCSVMonitor(a Attack) CSVMonitored {
	return CSVMonitored{a}
}

func (m CSVMonitored) Do(ctx context.Context) DoResult {
	before := time.Now()
	result := m.Attack.Do(ctx)
	attackTime := time.Since(before)
	status := "ok"
	if result.Failed() {
		status = "err"
	}
	label := result.RequestLabel
	if label == "" {
		label = m.GetRunner().Name()
	}
	entry := []string{
		label,
		before.Format(time.RFC3339Nano),
		attackTime.String(),
		status,
		strconv.Itoa(result.StatusCode),
	}
	if lm := m.GetManager(); lm != nil {
		if err := lm.writeResult(entry); err != nil {
			m.GetRunner().L.Infof("failed to write csv result: %v", err)
		}
	}
	return result
}

func (m CSVMonitored) Clone(r *Runner) Attack {
	return CSVMonitored{m.Attack.Clone(r)}
}

func (m CSVMonitored) Unwrap() Attack {
	return m.Attack
}
