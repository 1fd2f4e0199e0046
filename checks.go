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
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

const promQueryTimeout = 10 * time.Second

// PromBooleanQuery executes prometheus boolean query of the first stop_if check, true means stop
func PromBooleanQuery(r *Runner) (bool, error) {
	if r.PromClient == nil {
		return false, fmt.Errorf("prometheus url is not configured")
	}
	q := r.CheckData[0].Query
	r.L.Infof("executing prometheus check: query: %s", q)
	if !strings.Contains(q, "bool") {
		return false, fmt.Errorf("only bool queries are allowed in default prometheus check, got: %s", q)
	}
	ctx, cancel := context.WithTimeout(context.Background(), promQueryTimeout)
	defer cancel()
	val, _, err := r.PromClient.Query(ctx, q, time.Now())
	if err != nil {
		return false, fmt.Errorf("error executing prometheus query %s: %w", q, err)
	}
	r.L.Infof("check result: %s, val type: %s", val, val.Type())
	switch v := val.(type) {
	case *model.Scalar:
		return v.Value == 1, nil
	case model.Vector:
		if len(v) > 1 {
			return false, fmt.Errorf("ambiguous default check, prometheus query must be bool and return one vector or scalar")
		}
		if len(v) == 0 {
			return false, nil
		}
		return v[0].Value == 1, nil
	}
	return false, nil
}

// ErrorPercentCheck true if error ratio of the current stage is above threshold
func ErrorPercentCheck(r *Runner, threshold float64) bool {
	var m *Metrics
	switch r.stage() {
	case rampUp:
		m = r.rampMetrics()
	case constantLoad:
		m = r.LabelMetrics(r.name)
	}
	if m == nil {
		return false
	}
	m.updateSuccessRatio()
	return m.ErrorRatio() > threshold
}
