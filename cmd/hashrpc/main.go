package main

/*
* hashrpc: serve the sample handlers or call them
 */

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"hashrpc/client"
	"hashrpc/config"
	"hashrpc/middleware"
	"hashrpc/registry"
	"hashrpc/server"
)

func PrintFatal(msg string, args ...interface{}) {
	os.Stderr.WriteString(fmt.Sprintf(msg, args...) + "\n")
	os.Exit(1)
}

func serveCommand(c *cli.Context) (err error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		PrintFatal("%v", err)
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Listen = addr
	}
	logger, err := cfg.Logger()
	if err != nil {
		PrintFatal("%v", err)
	}
	defer logger.Sync()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithFraming(cfg.FramingMode()),
		server.WithReceiveBufferSize(cfg.ReceiveBufferSize),
		server.WithMaxConns(cfg.MaxConns),
		server.WithMaxObjects(cfg.MaxObjects),
		server.WithHeartbeat(cfg.Heartbeat),
	}
	if len(cfg.Etcd.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints,
			registry.WithEtcdLogger(logger),
			registry.WithDialTimeout(cfg.Etcd.DialTimeout))
		if err != nil {
			PrintFatal("connect etcd: %v", err)
		}
		defer reg.Close()
		opts = append(opts, server.WithDiscovery(reg, cfg.Etcd.Service, cfg.Advertise, cfg.Etcd.TTL))
	}

	svr := server.NewServer(opts...)
	svr.Use(middleware.LoggingMiddleware(logger))
	switch {
	case cfg.RateLimit.Rate > 0 && cfg.RateLimit.PerTarget:
		svr.Use(middleware.TargetRateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	case cfg.RateLimit.Rate > 0:
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}
	if cfg.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	if err := registerSamples(svr); err != nil {
		PrintFatal("%v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		if err := svr.Shutdown(5 * time.Second); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	return svr.ListenAndServe(cfg.Listen)
}

func demoCommand(c *cli.Context) (err error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		PrintFatal("%v", err)
	}
	if f := c.String("framing"); f != "" {
		cfg.Framing = f
		if err := cfg.Validate(); err != nil {
			PrintFatal("%v", err)
		}
	}
	logger, err := cfg.Logger()
	if err != nil {
		PrintFatal("%v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	cl, err := connect(ctx, c, cfg, logger)
	if err != nil {
		PrintFatal("%v", err)
	}
	defer cl.Close()
	return runDemo(ctx, cl)
}

// connect dials --addr, or routes through etcd when the config names endpoints and no
// address was given.
func connect(ctx context.Context, c *cli.Context, cfg *config.Config, logger *zap.Logger) (client.Caller, error) {
	opts := cfg.ClientOptions(logger)
	if len(cfg.Etcd.Endpoints) == 0 || c.IsSet("addr") {
		return client.Dial(ctx, c.String("addr"), opts...)
	}

	reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints,
		registry.WithEtcdLogger(logger),
		registry.WithDialTimeout(cfg.Etcd.DialTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	bal, err := cfg.NewBalancer()
	if err != nil {
		reg.Close()
		return nil, err
	}
	r, err := client.NewRouter(reg, cfg.Etcd.Service, bal, opts...)
	if err != nil {
		reg.Close()
		return nil, err
	}
	return &routedCaller{Router: r, reg: reg}, nil
}

// routedCaller closes the etcd registry together with the router.
type routedCaller struct {
	*client.Router
	reg *registry.EtcdRegistry
}

func (r *routedCaller) Close() error {
	err := r.Router.Close()
	r.reg.Close()
	return err
}

func runDemo(ctx context.Context, cl client.Caller) error {
	sum, err := client.As[float32](cl.CallFunction(ctx, "add", float32(3), float32(4)))
	if err != nil {
		PrintFatal("add: %v", err)
	}
	fmt.Printf("add(3, 4) = %v\n", sum)

	s, err := client.As[string](cl.CallFunction(ctx, "concat", "Hello, ", "hashrpc"))
	if err != nil {
		PrintFatal("concat: %v", err)
	}
	fmt.Printf("concat = %q\n", s)

	if _, err := cl.CallFunction(ctx, "div", float32(1), float32(0)); err != nil {
		fmt.Printf("div(1, 0) failed as expected: %v\n", err)
	}

	if err := cl.CreateObject(ctx, "Counter", "counter", int64(0)); err != nil {
		PrintFatal("create Counter: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := cl.CallMethod(ctx, "Counter.Increment", "counter"); err != nil {
			PrintFatal("Counter.Increment: %v", err)
		}
	}
	n, err := client.As[int64](cl.CallMethod(ctx, "Counter.Value", "counter"))
	if err != nil {
		PrintFatal("Counter.Value: %v", err)
	}
	fmt.Printf("counter = %d\n", n)
	return cl.DestroyObject(ctx, "counter")
}

func main() {
	app := cli.NewApp()
	app.Name = "hashrpc"
	app.Usage = "binary RPC over hashed identifiers"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "serve",
			Usage:  "Serve the sample functions and the Counter type.",
			Action: serveCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "YAML config file"},
				cli.StringFlag{Name: "listen, l", Usage: "listen address, overrides the config"},
			},
		},
		cli.Command{
			Name:   "demo",
			Usage:  "Call the sample handlers of a running server.",
			Action: demoCommand,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Usage: "YAML config file; its etcd section routes calls when --addr is not given"},
				cli.StringFlag{Name: "addr, a", Value: "127.0.0.1:9000"},
				cli.StringFlag{Name: "framing", Usage: "raw or framed, overrides the config"},
				cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		PrintFatal("%v", err)
	}
}
