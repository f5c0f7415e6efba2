// Package registry publishes hashrpc servers under a service name and lets clients discover
// them.
package registry

import "errors"

var ErrNoInstances = errors.New("registry: no instances")

// ServiceInstance is one server publishing a service.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"`
	// Framing is the transport mode the server speaks ("raw" or "framed"); clients dial with
	// it. Empty means raw.
	Framing string `json:"framing,omitempty"`
	// Version is a free-form deployment label; routing ignores it.
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register publishes instance under serviceName. An instance with the same address is
	// replaced. ttl is in seconds.
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list every time it changes.
	Watch(serviceName string) <-chan []ServiceInstance
}
