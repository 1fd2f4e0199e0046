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

package mockservice

import (
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const ProductsPath = "/shop/products/"

type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

var Products = []Product{
	{ID: 1, Name: "apple", Price: 1.2},
	{ID: 2, Name: "banana", Price: 0.8},
	{ID: 3, Name: "cherry", Price: 4.5},
	{ID: 4, Name: "mango", Price: 2.1},
}

// Request what the shop has seen of an incoming request
type Request struct {
	Method        string
	Path          string
	RawQuery      string
	ContentLength int64
	Body          []byte
	Header        http.Header
}

// Shop echo backed fake shop, records every request it receives
type Shop struct {
	Echo *echo.Echo

	mu       sync.Mutex
	requests []Request
	status   int
}

func New(verbose bool) *Shop {
	s := &Shop{Echo: echo.New()}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	if verbose {
		s.Echo.Use(middleware.Logger())
	}
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.record)
	s.Echo.GET(ProductsPath, s.products)
	return s
}

func (s *Shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Echo.ServeHTTP(w, r)
}

// Start listens on address until Shutdown
func (s *Shop) Start(address string) error {
	return s.Echo.Start(address)
}

// FailWith makes products answer with status code, 0 restores normal answers
func (s *Shop) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Shop) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		body, err := ioutil.ReadAll(req.Body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        req.Method,
			Path:          req.URL.Path,
			RawQuery:      req.URL.RawQuery,
			ContentLength: req.ContentLength,
			Body:          body,
			Header:        req.Header.Clone(),
		})
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Shop) products(c echo.Context) error {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != 0 {
		return c.String(status, http.StatusText(status))
	}
	return c.JSON(http.StatusOK, Products)
}

// Requests copy of recorded requests in order of arrival
func (s *Shop) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Hits number of requests with method and path
func (s *Shop) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}
