package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"tracetrigger/config"
	"tracetrigger/internal/counters"
	inputredis "tracetrigger/internal/input/redis"
	"tracetrigger/internal/logger"
	"tracetrigger/internal/metrics"
	"tracetrigger/internal/output/fireclickhouse"
	"tracetrigger/internal/output/firehttp"
	"tracetrigger/internal/output/firejson"
	"tracetrigger/internal/pipeline"
	"tracetrigger/internal/rules"
	"tracetrigger/internal/source"
	"tracetrigger/internal/spec"
	"tracetrigger/internal/trigger"
)

func buildWriter(cfg config.OutputConfig) (pipeline.FireWriter, error) {
	switch cfg.Mode {
	case "file":
		return firejson.NewWriter(cfg.File.Path)
	case "http":
		return firehttp.NewWriter(firehttp.Config{
			URL:        cfg.HTTP.URL,
			Timeout:    cfg.HTTP.Timeout,
			Headers:    cfg.HTTP.Headers,
			Retries:    cfg.HTTP.Retries,
			RetryDelay: cfg.HTTP.RetryDelay,
		})
	case "clickhouse":
		return fireclickhouse.NewWriter(fireclickhouse.Config{
			URL:      cfg.ClickHouse.URL,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Timeout:  cfg.ClickHouse.Timeout,
		})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported output mode: %s", cfg.Mode)
	}
}

// sessionFactory returns a function that opens one event session per
// trigger, plus a release func for shared resources.
func sessionFactory(cfg config.InputConfig) (source.Factory, func(), error) {
	switch cfg.Mode {
	case "redis":
		redisSrc, err := source.NewRedis(inputredis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Key:          cfg.Redis.Key,
			BlockTimeout: cfg.Redis.BlockTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		hub := source.NewHub(redisSrc)
		logger.Infof("Reading trace events from redis %s key %s", cfg.Redis.Addr, cfg.Redis.Key)
		factory := func(string, int) (source.Source, error) { return hub.Session(), nil }
		release := func() {
			if err := hub.Close(); err != nil {
				logger.Warnf("Failed to close redis input: %v", err)
			}
		}
		return factory, release, nil
	case "nats":
		logger.Infof("Reading trace events from nats %s subject %s", cfg.NATS.URL, cfg.NATS.Subject)
		factory := func(name string, bufferSizeMB int) (source.Source, error) {
			return source.NewNATS(source.NATSConfig{
				URL:           cfg.NATS.URL,
				Subject:       cfg.NATS.Subject,
				Name:          "tracetrigger-" + name,
				MaxReconnects: cfg.NATS.MaxReconnects,
				ReconnectWait: cfg.NATS.ReconnectWait,
				BufferSizeMB:  bufferSizeMB,
			})
		}
		return factory, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported input mode: %s", cfg.Mode)
	}
}

func counterSource(cfg config.CountersConfig) (counters.Source, func(), error) {
	switch cfg.Mode {
	case "prometheus":
		var g prometheus.Gatherer = prometheus.DefaultGatherer
		if cfg.ScrapeURL != "" {
			g = counters.NewScrapeGatherer(cfg.ScrapeURL, cfg.ScrapeTimeout)
			logger.Infof("Reading counters from %s", cfg.ScrapeURL)
		}
		return counters.NewPrometheus(g, cfg.InstanceLabel), func() {}, nil
	case "redis":
		src, err := counters.NewRedisHash(counters.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported counters mode: %s", cfg.Mode)
	}
}

func buildPredicate(tc config.TriggerConfig) (rules.Predicate, error) {
	var preds []rules.Predicate
	if tc.PredicateRule != "" {
		p, stats, err := rules.NewSigmaPredicate(tc.PredicateRule)
		if err != nil {
			return nil, err
		}
		logger.Infof("Sigma predicate for %s: files=%d loaded=%d skipped_complex=%d skipped_invalid=%d",
			tc.DisplayName(), stats.TotalFiles, stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid)
		preds = append(preds, p)
	}
	if len(tc.PredicateFilters) > 0 {
		p, err := rules.NewFilterPredicate(tc.PredicateFilters)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return rules.AllOf(preds...), nil
}

// buildTriggers registers every configured trigger with the monitor. The
// returned func releases shared sources after the monitor has closed.
func buildTriggers(tt *config.TraceTriggerConfig, monitor *pipeline.Monitor, reg *metrics.Registry) (func(), error) {
	var releases []func()
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	var sessions source.Factory
	var ctrs counters.Source
	for _, tc := range tt.Triggers {
		name := tc.DisplayName()
		pred, err := buildPredicate(tc)
		if err != nil {
			release()
			return nil, fmt.Errorf("trigger %s: %w", name, err)
		}

		if tc.Event != "" {
			s, err := spec.ParseEvent(tc.Event)
			if err != nil {
				release()
				return nil, err
			}
			if sessions == nil {
				factory, rel, err := sessionFactory(tt.Input)
				if err != nil {
					release()
					return nil, err
				}
				sessions = factory
				releases = append(releases, rel)
			}
			src, err := sessions(name, s.BufferSizeMB)
			if err != nil {
				release()
				return nil, fmt.Errorf("trigger %s: %w", name, err)
			}
			tr, err := trigger.NewEventTrigger(trigger.EventConfig{
				Name:        name,
				Spec:        s,
				Source:      src,
				Predicate:   pred,
				OnTriggered: monitor.Callback,
				Metrics:     reg.ForTrigger(name),
			})
			if err != nil {
				release()
				return nil, err
			}
			monitor.Add(tr)
			continue
		}

		if pred != nil {
			logger.Warnf("Trigger %s: predicates apply to event triggers only, ignored", name)
		}
		s, err := spec.ParseCounter(tc.Counter)
		if err != nil {
			release()
			return nil, err
		}
		if ctrs == nil {
			src, rel, err := counterSource(tt.Counters)
			if err != nil {
				release()
				return nil, err
			}
			ctrs = src
			releases = append(releases, rel)
		}
		tr, err := trigger.NewCounterTrigger(trigger.CounterConfig{
			Name:           name,
			Spec:           s,
			Source:         ctrs,
			Interval:       tc.PollInterval,
			ArmImmediately: tc.ArmImmediately(),
			OnTriggered:    monitor.Callback,
			Metrics:        reg.ForTrigger(name),
		})
		if err != nil {
			release()
			return nil, err
		}
		monitor.Add(tr)
	}
	return release, nil
}
