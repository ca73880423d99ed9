package kafka

import (
	"context"
	"testing"

	"github.com/RuiFG/streaming-merge/connector/codec"
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceConsumesPartition(t *testing.T) {
	consumer := mocks.NewConsumer(t, mocks.NewTestConfig())
	partitionConsumer := consumer.ExpectConsumePartition("clicks", 0, sarama.OffsetOldest)
	first := &sarama.ConsumerMessage{Value: []byte(`{"key":"a","ts":3,"value":1}`)}
	partitionConsumer.YieldMessage(first)
	partitionConsumer.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`broken`)})
	last := &sarama.ConsumerMessage{Value: []byte(`{"watermark":10}`)}
	partitionConsumer.YieldMessage(last)

	source, err := NewWithConsumer(consumer, Options{Topic: "clicks", Offset: sarama.OffsetOldest, Logger: log.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan element.Element)
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, out) }()

	e := (<-out).(element.Positioned)
	assert.Equal(t, codec.Record{Key: "a", Timestamp: 3, Value: 1}, e.Element.(*element.Event[codec.Record]).Value)
	assert.Equal(t, first.Offset+1, e.Position)
	assert.Equal(t, element.Positioned{Element: element.Watermark(10), Position: last.Offset + 1}, <-out)

	cancel()
	assert.NoError(t, <-done)
	_, ok := <-out
	assert.False(t, ok)
}

func TestOptionsValidation(t *testing.T) {
	_, err := NewWithConsumer(nil, Options{})
	assert.Error(t, err)
	_, err = New(Options{Topic: "clicks"})
	assert.Error(t, err)
}
