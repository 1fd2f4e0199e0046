package load

import (
	"context"
	"strconv"
	"time"

	"github.com/myzhan/boomer"
	"github.com/skudasov/shopload"
)

const boomerRequestType = "http"

// Recorder receives task outcomes, *boomer.Boomer implements it
type Recorder interface {
	RecordSuccess(requestType, name string, responseTime int64, responseLength int64)
	RecordFailure(requestType, name string, responseTime int64, exception string)
}

// NewBoomerTask wraps the fruit request into a locust task.
// Locust users share one cookie-less session, so no user state leaks between them.
func NewBoomerTask(target string, httpTimeoutSec int, recorder Recorder) (*boomer.Task, error) {
	s, err := shopload.NewHTTPSession(target, false, httpTimeoutSec)
	if err != nil {
		return nil, err
	}
	session := s.WithoutCookies()
	return &boomer.Task{
		Name:   FruitLabel,
		Weight: 1,
		Fn: func() {
			start := time.Now()
			res := session.Get(context.Background(), FruitLabel, FruitPath)
			elapsed := time.Since(start).Milliseconds()
			switch {
			case res.Error != nil:
				recorder.RecordFailure(boomerRequestType, FruitLabel, elapsed, res.Error.Error())
			case res.Failed():
				recorder.RecordFailure(boomerRequestType, FruitLabel, elapsed, "status "+strconv.Itoa(res.StatusCode))
			default:
				recorder.RecordSuccess(boomerRequestType, FruitLabel, elapsed, res.BytesIn)
			}
		},
	}, nil
}
