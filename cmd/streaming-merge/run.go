package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RuiFG/streaming-merge/accumulation"
	"github.com/RuiFG/streaming-merge/common/safe"
	"github.com/RuiFG/streaming-merge/config"
	"github.com/RuiFG/streaming-merge/connector/codec"
	"github.com/RuiFG/streaming-merge/connector/file"
	"github.com/RuiFG/streaming-merge/connector/kafka"
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/merge"
	"github.com/RuiFG/streaming-merge/store"
	"github.com/RuiFG/streaming-merge/task"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"
)

const inputBufferSize = 1024

var configPath string

func init() {
	runCommand := &cobra.Command{
		Use:   "run",
		Short: "run the merge until both inputs end or a signal arrives",
		RunE:  Run,
	}
	runCommand.Flags().StringVarP(&configPath, "config", "c", "", "config file, application.yml in . or ./config/ by default")
	Command.AddCommand(runCommand)
}

func Run(cmd *cobra.Command, _ []string) error {
	application, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logOptions, err := application.LogOptions()
	if err != nil {
		return err
	}
	log.Setup(logOptions)
	logger := log.Global()
	defer func() { _ = logger.Sync() }()

	m := newMetrics(logger, application.MetricsAddress)
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warnw("failed to close metrics.", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch application.Merge.Accumulation {
	case "sum":
		value := func(r codec.Record) float64 { return r.Value }
		return runMerge[float64, float64](ctx, application, logger, m.scope,
			accumulation.Sum[codec.Record, codec.Record, float64]{Value1: value, Value2: value})
	case "count":
		return runMerge[accumulation.Counts, accumulation.Counts](ctx, application, logger, m.scope,
			accumulation.Count[codec.Record, codec.Record]{})
	case "cogroup":
		return runMerge[accumulation.Group[codec.Record, codec.Record], accumulation.Group[codec.Record, codec.Record]](
			ctx, application, logger, m.scope, accumulation.CoGroup[codec.Record, codec.Record]{})
	default:
		return errors.Errorf("unknown accumulation %q", application.Merge.Accumulation)
	}
}

func recordTimestamp(r codec.Record) int64 { return r.Timestamp }

func recordKey(r codec.Record) string { return r.Key }

func newBackend(application config.Application, logger log.Logger) (store.Backend, error) {
	if application.CheckpointsDir == "" {
		logger.Warn("checkpoints_dir is empty, checkpoints are kept in memory.")
		return store.NewMemoryBackend(application.RetainedCheckpoints), nil
	}
	return store.NewFSBackend(logger, application.CheckpointsDir, application.RetainedCheckpoints, application.MergedCheckpoints)
}

func runMerge[ACC, V any](ctx context.Context, application config.Application, logger log.Logger, scope tally.Scope,
	m accumulation.Merge[codec.Record, codec.Record, ACC, V]) (err error) {
	sink := codec.NewSink[V](logger, os.Stdout, application.Output.Watermarks)
	fns := merge.Functions[codec.Record, codec.Record, string, ACC, codec.Output[V]]{
		Extractor1:   recordTimestamp,
		Extractor2:   recordTimestamp,
		KeySelector1: recordKey,
		KeySelector2: recordKey,
		Initializer:  m.Initial,
		Accumulate1:  m.Accumulate1,
		Accumulate2:  m.Accumulate2,
		Combine:      m.Combine,
		Finalize: func(w window.Window, key string, acc ACC) (codec.Output[V], error) {
			value, err := m.Output(acc)
			return codec.NewOutput(w, key, value), err
		},
	}
	opts, err := application.Merge.Options()
	if err != nil {
		return err
	}
	operator, err := merge.New(fns, append(opts, window.WithLogger(logger), window.WithMetricsScope(scope))...)
	if err != nil {
		return err
	}
	if err = operator.Open(sink); err != nil {
		return err
	}

	backend, err := newBackend(application, logger)
	if err != nil {
		_ = operator.Close()
		return err
	}
	in1 := make(chan element.Element, inputBufferSize)
	in2 := make(chan element.Element, inputBufferSize)
	t, err := task.New(task.Options{
		Name:                   application.Merge.Name,
		ProcessingTimeInterval: application.Merge.ProcessingTimeInterval,
		CheckpointInterval:     application.CheckpointInterval,
		Backend:                backend,
		NodeID:                 application.NodeID,
		Logger:                 logger,
		Scope:                  scope,
	}, task.TwoInput(operator), in1, in2)
	if err != nil {
		return multierr.Combine(err, operator.Close(), backend.Close())
	}

	type source struct {
		run    runFunc
		closer func() error
		out    chan<- element.Element
	}
	var sources []source
	for i, input := range []config.Input{application.Input1, application.Input2} {
		position, restored := t.Position(i + 1)
		run, closer, err := newSource(i+1, input, position, restored, logger, scope)
		if err != nil {
			for _, s := range sources {
				_ = s.closer()
			}
			return multierr.Combine(err, operator.Close(), backend.Close())
		}
		sources = append(sources, source{run: run, closer: closer, out: []chan element.Element{in1, in2}[i]})
	}

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()
	sourceCtx, cancelSources := context.WithCancel(ctx)
	defer cancelSources()
	var sourceErrors []<-chan error
	for _, s := range sources {
		s := s
		sourceErrors = append(sourceErrors, safe.Go(func() error {
			defer func() {
				if err := s.closer(); err != nil {
					logger.Warnw("failed to close source.", "err", err)
				}
			}()
			if err := s.run(sourceCtx, s.out); err != nil {
				cancelTask()
				return err
			}
			return nil
		}))
	}

	err = t.Run(taskCtx)
	cancelSources()
	for _, c := range sourceErrors {
		err = multierr.Append(err, <-c)
	}
	return multierr.Append(err, sink.Err())
}

type runFunc func(ctx context.Context, out chan<- element.Element) error

func newSource(index int, input config.Input, position int64, restored bool,
	logger log.Logger, scope tally.Scope) (runFunc, func() error, error) {
	generator, err := input.Generator()
	if err != nil {
		return nil, nil, err
	}
	name := fmt.Sprintf("input%d", index)
	noop := func() error { return nil }
	switch input.Type {
	case "file":
		var offset int64
		if restored {
			offset = position
		}
		source, err := file.New(file.Options{
			Name:              name,
			Path:              input.File.Path,
			Follow:            input.File.Follow,
			Offset:            offset,
			Generator:         generator,
			WatermarkInterval: input.WatermarkInterval,
			Logger:            logger,
			Scope:             scope,
		})
		if err != nil {
			return nil, nil, err
		}
		return source.Run, noop, nil
	case "kafka":
		offset := sarama.OffsetOldest
		if input.Kafka.Start == "newest" {
			offset = sarama.OffsetNewest
		}
		if restored {
			offset = position
		}
		source, err := kafka.New(kafka.Options{
			Name:              name,
			Addresses:         input.Kafka.Addresses,
			Topic:             input.Kafka.Topic,
			Partition:         input.Kafka.Partition,
			Offset:            offset,
			Generator:         generator,
			WatermarkInterval: input.WatermarkInterval,
			Logger:            logger,
			Scope:             scope,
		})
		if err != nil {
			return nil, nil, err
		}
		return source.Run, source.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown input type %q", input.Type)
	}
}
