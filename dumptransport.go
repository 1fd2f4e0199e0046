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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
)

const (
	RequestHeader      = "========== REQUEST ==========\n%s\n"
	RequestHeaderBody  = "========== REQUEST ==========\n%s\n%s\n"
	ResponseHeaderBody = "========== RESPONSE ==========\n%s\n%s\n"
	ResponseHeader     = "========== RESPONSE ==========\n%s\n"
	HTTPBodyDelimiter  = "\r\n\r\n"
)

var dumpOutput io.Writer = os.Stdout

// DumpTransport dumps http requests/responses, pretty prints json bodies.
// Requests are passed to the wrapped transport untouched.
type DumpTransport struct {
	r  http.RoundTripper
	w  io.Writer
	mu sync.Mutex
}

func (d *DumpTransport) RoundTrip(h *http.Request) (*http.Response, error) {
	dump, err := httputil.DumpRequestOut(h, true)
	if err != nil {
		return nil, err
	}
	d.print(RequestHeader, RequestHeaderBody, dump, bodyIsJson(h.Header))
	resp, err := d.r.RoundTrip(h)
	if err != nil {
		return nil, err
	}
	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	d.print(ResponseHeader, ResponseHeaderBody, dump, bodyIsJson(resp.Header))
	return resp, nil
}

func (d *DumpTransport) print(tmpl, tmplBody string, dump []byte, isJson bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if isJson {
		if head, body, ok := prettyPrintJsonBody(dump); ok {
			fmt.Fprintf(d.w, tmplBody, head, body)
			return
		}
	}
	fmt.Fprintf(d.w, tmpl, dump)
}

// prettyPrintJsonBody returns http head and indented json body, ok is false if body is not valid json
func prettyPrintJsonBody(b []byte) (string, string, bool) {
	sp := strings.SplitN(string(b), HTTPBodyDelimiter, 2)
	if len(sp) != 2 || len(sp[1]) == 0 {
		return "", "", false
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(sp[1]), "", "    "); err != nil {
		return "", "", false
	}
	return sp[0], out.String(), true
}

func bodyIsJson(h http.Header) bool {
	return strings.Contains(h.Get("content-type"), "application/json")
}
