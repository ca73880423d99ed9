package kafka

import (
	"context"
	"time"

	"github.com/RuiFG/streaming-merge/connector/codec"
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

type Options struct {
	Name      string
	Addresses []string
	Topic     string
	Partition int32
	//Offset is the next offset to read, sarama.OffsetOldest or sarama.OffsetNewest when nothing was restored
	Offset            int64
	Generator         watermark.Generator
	WatermarkInterval time.Duration
	SaramaConfig      *sarama.Config
	Logger            log.Logger
	Scope             tally.Scope
}

// Source reads NDJSON records from one partition of a topic.
type Source struct {
	Options
	logger   log.Logger
	consumer sarama.Consumer
	errors   tally.Counter
}

func (o *Options) complete() error {
	if o.Topic == "" {
		return errors.New("kafka source topic can't be empty")
	}
	if o.Name == "" {
		o.Name = "kafka"
	}
	if o.Logger == nil {
		o.Logger = log.Global()
	}
	if o.Scope == nil {
		o.Scope = tally.NoopScope
	}
	if o.SaramaConfig == nil {
		o.SaramaConfig = sarama.NewConfig()
		o.SaramaConfig.Consumer.Return.Errors = true
	}
	return nil
}

func New(options Options) (*Source, error) {
	if err := options.complete(); err != nil {
		return nil, err
	}
	if len(options.Addresses) == 0 {
		return nil, errors.New("kafka source addresses can't be empty")
	}
	consumer, err := sarama.NewConsumer(options.Addresses, options.SaramaConfig)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create kafka consumer")
	}
	return NewWithConsumer(consumer, options)
}

// NewWithConsumer reads through an existing consumer, the source owns it afterwards.
func NewWithConsumer(consumer sarama.Consumer, options Options) (*Source, error) {
	if err := options.complete(); err != nil {
		return nil, err
	}
	return &Source{
		Options:  options,
		logger:   options.Logger.Named(options.Name + ".source"),
		consumer: consumer,
		errors:   options.Scope.Tagged(map[string]string{"source": options.Name}).Counter("consume_errors"),
	}, nil
}

// Run sends the records of the partition to out until ctx is done and closes out on return.
func (s *Source) Run(ctx context.Context, out chan<- element.Element) error {
	defer close(out)
	partitionConsumer, err := s.consumer.ConsumePartition(s.Topic, s.Partition, s.Offset)
	if err != nil {
		return errors.WithMessagef(err, "failed to consume %s/%d", s.Topic, s.Partition)
	}
	defer func() {
		if err := partitionConsumer.Close(); err != nil {
			s.logger.Warnw("failed to close partition consumer.", "err", err)
		}
	}()
	s.logger.Infow("consuming partition.", "topic", s.Topic, "partition", s.Partition, "offset", s.Offset)

	stream := codec.NewStream(ctx, s.logger, s.Scope.Tagged(map[string]string{"source": s.Name}), out, s.Generator)
	var ticks <-chan time.Time
	if s.WatermarkInterval > 0 {
		ticker := time.NewTicker(s.WatermarkInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			err = stream.Periodic()
		case consumerError, ok := <-partitionConsumer.Errors():
			if ok {
				s.errors.Inc(1)
				s.logger.Warnw("can't consume kafka.", "err", consumerError)
			}
		case message, ok := <-partitionConsumer.Messages():
			if !ok {
				return nil
			}
			err = stream.Line(message.Value, message.Offset+1)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Source) Close() error {
	return s.consumer.Close()
}
