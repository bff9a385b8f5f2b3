package main

import (
	"context"
	"math/rand/v2"
	"runtime"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/plus3/mosaic/ecs"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type position struct {
	X, Y float32
}

type velocity struct {
	DX, DY float32
}

type health struct {
	Current, Max int32
}

type armor struct {
	Rating int32
}

type lifetime struct {
	Remaining float32
}

// stunned entities keep their position but lose their velocity.
type stunned struct{}

// population is a singleton that tracks spawn and death counts.
type population struct {
	Target  int32
	Spawned int64
	Died    int64
}

var (
	mobile = []ecs.Component{ecs.Of[position](), ecs.Of[velocity](), ecs.Of[health](), ecs.Of[lifetime]()}
	frozen = []ecs.Component{ecs.Of[position](), ecs.Of[health](), ecs.Of[lifetime](), ecs.Of[stunned]()}
)

func registerComponents() (*ecs.ComponentRegistry, error) {
	components := ecs.NewComponentRegistry(ecs.DefaultMaxComponents)
	for _, register := range []func(*ecs.ComponentRegistry) (ecs.ComponentID, error){
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) { return ecs.RegisterComponent[position](r) },
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) { return ecs.RegisterComponent[velocity](r) },
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) {
			return ecs.RegisterComponent[health](r, ecs.WithDefault(health{Current: 100, Max: 100}))
		},
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) { return ecs.RegisterComponent[armor](r) },
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) {
			return ecs.RegisterComponent[lifetime](r, ecs.WithDefault(lifetime{Remaining: 2}))
		},
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) { return ecs.RegisterComponent[stunned](r) },
		func(r *ecs.ComponentRegistry) (ecs.ComponentID, error) { return ecs.RegisterComponent[population](r) },
	} {
		if _, err := register(components); err != nil {
			return nil, err
		}
	}
	return components, nil
}

type movementSystem struct {
	Entities ecs.Query[struct {
		*position
		*velocity
	}]
}

func (s *movementSystem) Execute(frame *ecs.UpdateFrame) {
	dt := float32(frame.DeltaTime)
	for item := range s.Entities.Values() {
		item.position.X += item.velocity.DX * dt
		item.position.Y += item.velocity.DY * dt
	}
}

type damageSystem struct {
	Entities ecs.Query[struct {
		*health
		Armor *armor `ecs:"optional"`
	}]
}

func (s *damageSystem) Execute(frame *ecs.UpdateFrame) {
	for item := range s.Entities.Values() {
		hit := int32(3)
		if item.Armor != nil {
			hit = max(hit-item.Armor.Rating, 0)
		}
		item.health.Current = max(item.health.Current-hit, 0)
	}
}

type lifetimeSystem struct {
	Entities ecs.Query[struct {
		*lifetime
		*health
	}]
	Population ecs.Singleton[population]
}

func (s *lifetimeSystem) Execute(frame *ecs.UpdateFrame) {
	pop := s.Population.Get()
	for meta, item := range s.Entities.Iter() {
		item.lifetime.Remaining -= float32(frame.DeltaTime)
		if item.lifetime.Remaining <= 0 || item.health.Current == 0 {
			frame.Commands.Destroy(meta.ID)
			pop.Died++
		}
	}
}

type spawnSystem struct {
	Population ecs.Singleton[population]
	rng        *rand.Rand
	logger     zerolog.Logger
	failures   int64
}

func (s *spawnSystem) Execute(frame *ecs.UpdateFrame) {
	registry := frame.Registry
	frame.Commands.Defer(func() {
		pop := s.Population.Get()
		// The population singleton is an entity too
		missing := int(pop.Target) - (registry.EntityCount() - 1)
		if missing <= 0 {
			return
		}
		created, err := registry.CreateEntityBulk(missing,
			ecs.With(position{X: s.rng.Float32() * 100, Y: s.rng.Float32() * 100}),
			ecs.With(velocity{DX: s.rng.Float32() - 0.5, DY: s.rng.Float32() - 0.5}),
			ecs.Of[health](),
			ecs.With(lifetime{Remaining: 0.5 + s.rng.Float32()*2}),
		)
		if err != nil {
			s.failures++
			s.logger.Error().Err(err).Int("count", missing).Msg("spawn failed")
			return
		}
		pop.Spawned += int64(len(created))

		armored := make([]ecs.EntityID, 0, len(created)/4)
		for i := 0; i < len(created); i += 4 {
			armored = append(armored, created[i].ID)
		}
		missingIDs, err := registry.AddComponentsBulk(armored, ecs.With(armor{Rating: 2}))
		if err != nil || len(missingIDs) > 0 {
			s.failures++
			s.logger.Error().Err(err).Int("missing", len(missingIDs)).Msg("arming spawned entities failed")
		}
	})
}

// stunSystem alternates every mobile entity between the mobile and frozen
// archetypes by migrating whole archetypes at once.
type stunSystem struct {
	Every    int
	frames   int
	moved    int64
	logger   zerolog.Logger
	failures int64
}

func (s *stunSystem) Execute(frame *ecs.UpdateFrame) {
	s.frames++
	if s.Every <= 0 || s.frames%s.Every != 0 {
		return
	}
	registry := frame.Registry
	stun := (s.frames/s.Every)%2 == 1
	frame.Commands.Defer(func() {
		var (
			n   int
			err error
		)
		if stun {
			n, err = registry.MigrateArchetypeModifyComponents(mobile,
				[]ecs.Component{ecs.Of[stunned]()}, []ecs.Component{ecs.Of[velocity]()})
		} else {
			n, err = registry.MigrateArchetypeModifyComponents(frozen,
				[]ecs.Component{ecs.With(velocity{DX: 0.25, DY: -0.25})}, []ecs.Component{ecs.Of[stunned]()})
		}
		if err != nil {
			s.failures++
			s.logger.Error().Err(err).Bool("stun", stun).Msg("archetype migration failed")
			return
		}
		s.moved += int64(n)
	})
}

// metricsSystem publishes registry statistics as gauges.
type metricsSystem struct {
	Every  int
	sink   *metrics.Metrics
	frames int
}

func (s *metricsSystem) Execute(frame *ecs.UpdateFrame) {
	s.frames++
	if s.frames%s.Every != 0 {
		return
	}
	stats := frame.Registry.CollectStats()
	s.sink.SetGauge([]string{"registry", "entities"}, float32(stats.TotalEntityCount))
	s.sink.SetGauge([]string{"registry", "archetypes"}, float32(stats.ArchetypeCount))
	s.sink.SetGauge([]string{"registry", "memory_bytes"}, float32(stats.MemoryUsageBytes))
	s.sink.SetGauge([]string{"registry", "singletons"}, float32(stats.SingletonCount))
}

func newMetrics() (*metrics.Metrics, *metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(time.Second, time.Minute)
	cfg := metrics.DefaultConfig("ecs_stress")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := metrics.New(cfg, sink)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to create metrics")
	}
	return m, sink, nil
}

func run(ctx context.Context, cfg stressConfig, duration time.Duration, logger zerolog.Logger) (*Report, error) {
	components, err := registerComponents()
	if err != nil {
		return nil, err
	}

	opts := []ecs.Option{ecs.WithLogger(logger)}
	if cfg.PageSize > 0 {
		opts = append(opts, ecs.WithPageSize(cfg.PageSize))
	}
	if cfg.Aggressive {
		opts = append(opts, ecs.WithAggressiveReclaim())
	}
	registry := ecs.NewEntityRegistry(components, opts...)

	pop, err := ecs.NewSingleton(registry, population{Target: int32(cfg.Entities)})
	if err != nil {
		return nil, err
	}

	m, sink, err := newMetrics()
	if err != nil {
		return nil, err
	}

	spawn := &spawnSystem{rng: rand.New(rand.NewPCG(1, 2)), logger: logger}
	stun := &stunSystem{Every: 30, logger: logger}
	scheduler := ecs.NewScheduler(registry)
	for _, system := range []ecs.System{
		spawn,
		&movementSystem{},
		&damageSystem{},
		&lifetimeSystem{},
		stun,
		&metricsSystem{Every: 10, sink: m},
	} {
		if err := scheduler.Register(system); err != nil {
			return nil, err
		}
	}

	report := &Report{
		Duration:       duration,
		Entities:       cfg.Entities,
		PageSize:       cfg.PageSize,
		Aggressive:     cfg.Aggressive,
		GCPauseMetrics: cfg.GCPauseMetrics,
	}
	runtime.ReadMemStats(&report.MemStatsStart)

	logger.Info().Dur("duration", duration).Int("entities", cfg.Entities).Msg("running simulation")

	start := time.Now()
	last := start
Loop:
	for {
		select {
		case <-ctx.Done():
			break Loop
		default:
			now := time.Now()
			dt := now.Sub(last).Seconds()
			last = now

			if err := scheduler.Once(dt); err != nil {
				return nil, err
			}
			elapsed := time.Since(now)
			report.UpdateTime.Samples = append(report.UpdateTime.Samples, elapsed)
			m.AddSample([]string{"frame", "ms"}, float32(elapsed.Seconds()*1000))
		}
	}

	report.TotalTime = time.Since(start)
	report.UpdateTime.Finalize()
	runtime.ReadMemStats(&report.MemStatsEnd)

	report.Scheduler = scheduler.Stats()
	report.Registry = registry.CollectStats()
	report.Spawned = pop.Get().Spawned
	report.Died = pop.Get().Died
	report.Migrated = stun.moved
	report.Failures = spawn.failures + stun.failures
	report.Gauges = latestGauges(sink)

	logger.Info().
		Int64("frames", report.Scheduler.Frames).
		Int64("spawned", report.Spawned).
		Int64("died", report.Died).
		Int64("failures", report.Failures).
		Msg("simulation finished")
	return report, nil
}
