package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/completion"
	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
)

// openModel loads the configured model once and publishes it in a registry.
func openModel(ctx context.Context, cfg config.LocalLlamaConfig, log logger.Logger) (*model.Registry, error) {
	b, err := backend.Open(cfg.Backend, backend.Options{LibraryPath: cfg.LibraryPath, Logger: log})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := model.Load(ctx, cfg.ModelPath, model.Options{
		ContextSize: cfg.ContextSize,
		GPULayers:   cfg.GPULayers,
		Contexts:    cfg.Contexts,
		Backend:     b,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("model ready", "elapsed", time.Since(start))

	reg := model.NewRegistry()
	if err := reg.Set(res); err != nil {
		_ = res.Dispose()
		return nil, err
	}
	return reg, nil
}

func newAdapter(reg *model.Registry, gen config.GenerationConfig, log logger.Logger, mp metric.MeterProvider, tp trace.TracerProvider) *completion.Adapter {
	opts := []completion.Option{
		completion.WithLogger(log),
		completion.WithWaitTimeout(gen.WaitTimeout),
		completion.WithChatDefaults(inference.GenerationConfig{
			MaxTokens:     gen.ChatMaxTokens,
			StopSequences: gen.ChatStopSequences,
		}),
		completion.WithTextDefaults(inference.GenerationConfig{
			MaxTokens: gen.TextMaxTokens,
		}),
	}
	if mp != nil {
		opts = append(opts, completion.WithMeterProvider(mp))
	}
	if tp != nil {
		opts = append(opts, completion.WithTracerProvider(tp))
	}
	return completion.New(reg, opts...)
}
