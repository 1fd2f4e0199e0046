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
	"io"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// HTTPSession is an http client bound to a base host, tasks pass paths relative to it.
// Every simulated user gets its own session, so cookies and connections are not shared.
type HTTPSession struct {
	Base   string
	Client *http.Client
}

// NewHTTPSession validates base url and creates a session with its own cookie jar
func NewHTTPSession(base string, dump bool, timeoutSec int) (*HTTPSession, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad target url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("target url %q must contain scheme and host", base)
	}
	client, err := NewLoggingHTTPClient(dump, timeoutSec)
	if err != nil {
		return nil, err
	}
	return &HTTPSession{
		Base:   strings.TrimRight(base, "/"),
		Client: client,
	}, nil
}

// WithoutCookies returns a session sharing the transport but keeping no cookies,
// it is safe to share between users that must not see each other's state
func (s *HTTPSession) WithoutCookies() *HTTPSession {
	client := *s.Client
	client.Jar = nil
	return &HTTPSession{Base: s.Base, Client: &client}
}

// URL joins base and path the same way for every request
func (s *HTTPSession) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.Base + path
}

// Get sends one GET without body or extra headers and drains the response.
// The result is not inspected here, failures are classified by the engine.
func (s *HTTPSession) Get(ctx context.Context, label string, path string) DoResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(path), nil)
	if err != nil {
		return DoResult{RequestLabel: label, Error: err}
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return DoResult{RequestLabel: label, Error: err}
	}
	defer resp.Body.Close()
	n, err := io.Copy(ioutil.Discard, resp.Body)
	return DoResult{
		RequestLabel: label,
		StatusCode:   resp.StatusCode,
		BytesIn:      n,
		Error:        err,
	}
}

// NewLoggingHTTPClient creates new client, debug dumps every request and response
func NewLoggingHTTPClient(debug bool, transportTimeout int) (*http.Client, error) {
	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if debug {
		transport = &DumpTransport{r: transport, w: dumpOutput}
	}
	cookieJar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if transportTimeout <= 0 {
		transportTimeout = defaultHTTPTimeoutSec
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(transportTimeout) * time.Second,
		Jar:       cookieJar,
	}, nil
}

// NewSession creates an http session for the target of the generator config
func (r *Runner) NewSession() (*HTTPSession, error) {
	if r.Manager == nil || r.Manager.GeneratorConfig == nil {
		return nil, fmt.Errorf("runner %s has no generator config", r.name)
	}
	var (
		dump    bool
		timeout int
	)
	if sc := r.Manager.SuiteConfig; sc != nil {
		dump = sc.DumpTransport
		timeout = sc.HttpTimeout
	}
	return NewHTTPSession(r.Manager.GeneratorConfig.Generator.Target, dump, timeout)
}
