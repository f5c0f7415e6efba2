package main

import (
	"errors"

	"hashrpc/server"
)

// Counter is the sample object type.
type Counter struct {
	n int64
}

func NewCounter(start int64) *Counter { return &Counter{n: start} }

func (c *Counter) Increment()        { c.n++ }
func (c *Counter) Add(d int64) int64 { c.n += d; return c.n }
func (c *Counter) Value() int64      { return c.n }

func registerSamples(svr *server.Server) error {
	functions := map[string]any{
		"add": func(a, b float32) float32 { return a + b },
		"sub": func(a, b float32) float32 { return a - b },
		"mul": func(a, b float32) float32 { return a * b },
		"div": func(a, b float32) (float32, error) {
			if b == 0 {
				return 0, errors.New("division by zero")
			}
			return a / b, nil
		},
		"concat": func(a, b string) string { return a + b },
		"sum": func(xs []int64) int64 {
			var total int64
			for _, x := range xs {
				total += x
			}
			return total
		},
	}
	for name, fn := range functions {
		if err := svr.RegisterFunction(name, fn); err != nil {
			return err
		}
	}
	_, err := svr.RegisterClass("Counter", NewCounter)
	return err
}
