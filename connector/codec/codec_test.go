package codec

import (
	"bytes"
	"testing"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	e, err := Decode([]byte(`{"key":"a","ts":3,"value":1.5}`))
	require.NoError(t, err)
	event, ok := e.(*element.Event[Record])
	require.True(t, ok)
	assert.Equal(t, Record{Key: "a", Timestamp: 3, Value: 1.5}, event.Value)
	assert.Equal(t, int64(3), event.Timestamp)
	assert.True(t, event.HasTimestamp)

	e, err = Decode([]byte(`{"watermark":10}`))
	require.NoError(t, err)
	assert.Equal(t, element.Watermark(10), e)

	e, err = Decode([]byte(`{"key":"","ts":0}`))
	require.NoError(t, err)
	assert.Equal(t, Record{}, e.(*element.Event[Record]).Value)

	_, err = Decode([]byte(`{"key":"a"}`))
	assert.True(t, errors.Is(err, ErrUnknownRecord))
	_, err = Decode([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownRecord))
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownRecord))
}

func TestSink(t *testing.T) {
	buffer := &bytes.Buffer{}
	sink := NewSink[float64](log.Nop(), buffer, true)
	sink.EmitEvent(element.NewEvent(NewOutput(window.Window{Start: 0, End: 10}, "a", 3.5), 9))
	sink.EmitWatermark(10)
	sink.EmitWatermark(element.MaxWatermark)
	require.NoError(t, sink.Err())
	assert.Equal(t, "{\"start\":0,\"end\":10,\"key\":\"a\",\"value\":3.5}\n{\"watermark\":10}\n", buffer.String())

	buffer.Reset()
	sink = NewSink[float64](log.Nop(), buffer, false)
	sink.EmitWatermark(10)
	assert.Empty(t, buffer.String())
}
