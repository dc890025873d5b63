package plugins

import (
	"context"

	"github.com/kilianp07/dispatchsync/config"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/infra/memory"
	"github.com/kilianp07/dispatchsync/infra/redisfeed"
	"github.com/kilianp07/dispatchsync/infra/rest"
	"github.com/kilianp07/dispatchsync/qa/scenarios"
)

func init() {
	RegisterBackend(config.BackendREST, func(env Env) (backend.Backend, error) {
		return rest.New(env.Config.Backend.REST(), env.Log)
	})
	RegisterBackend(config.BackendMemory, func(env Env) (backend.Backend, error) {
		mem := memory.New()
		path := env.Config.Backend.SeedPath
		if path == "" {
			return mem, nil
		}
		sc, err := scenarios.Load(path)
		if err != nil {
			return nil, err
		}
		sc.Seed(mem)
		env.Log.Infof("memory backend seeded from %s", path)
		return mem, nil
	})

	RegisterTransport(config.TransportMQTT, func(_ context.Context, env Env) (Transport, error) {
		c, err := env.MQTT()
		if err != nil {
			return Transport{}, err
		}
		// The session is shared with notifications and closed by its owner.
		return Transport{Source: c, Writer: c}, nil
	})
	RegisterTransport(config.TransportRedis, func(ctx context.Context, env Env) (Transport, error) {
		f, err := redisfeed.Dial(ctx, env.Config.Redis, env.Log)
		if err != nil {
			return Transport{}, err
		}
		return Transport{Source: f, Writer: f, Close: f.Close}, nil
	})
	RegisterTransport(config.TransportMemory, func(context.Context, Env) (Transport, error) {
		f := memory.NewFeed()
		return Transport{Source: f, Writer: f}, nil
	})
	RegisterTransport(config.TransportNone, func(context.Context, Env) (Transport, error) {
		return Transport{}, nil
	})
}
