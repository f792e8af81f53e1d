package intake

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/pipeline"
	"testing"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, req pipeline.Request) (client.WorkflowRun, error) {
	args := m.Called(ctx, req)
	run, _ := args.Get(0).(client.WorkflowRun)
	return run, args.Error(1)
}

var defaults = config.Defaults{SourceBucket: "in", Transform: "GRAYSCALE"}

func startedRun() *mocks.WorkflowRun {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("image-processing-1")
	run.On("GetRunID").Return("run-1")
	return run
}

func TestHandler_AppliesDefaults(t *testing.T) {
	s := &mockStarter{}
	want := pipeline.Request{SourceBucket: "in", SourceKey: "cat.jpg", Transform: pipeline.Grayscale}
	s.On("Start", mock.Anything, want).Return(startedRun(), nil).Once()

	h := NewHandler(s, defaults, zerolog.Nop())
	require.NoError(t, h.Handle(context.Background(), kafka.Message{Value: []byte(`{"source_key":"cat.jpg"}`)}))
	s.AssertExpectations(t)
}

func TestHandler_KeepsExplicitFields(t *testing.T) {
	s := &mockStarter{}
	want := pipeline.Request{SourceBucket: "other", SourceKey: "a/b.png", DestBucket: "out", Transform: pipeline.Sepia}
	s.On("Start", mock.Anything, want).Return(startedRun(), nil).Once()

	h := NewHandler(s, defaults, zerolog.Nop())
	msg := kafka.Message{Value: []byte(`{"source_bucket":"other","source_key":"a/b.png","dest_bucket":"out","transform":"SEPIA"}`)}
	require.NoError(t, h.Handle(context.Background(), msg))
	s.AssertExpectations(t)
}

func TestHandler_Rejects(t *testing.T) {
	s := &mockStarter{}
	h := NewHandler(s, config.Defaults{}, zerolog.Nop())

	assert.Error(t, h.Handle(context.Background(), kafka.Message{Value: []byte(`not json`)}))
	assert.Error(t, h.Handle(context.Background(), kafka.Message{Value: []byte(`{"source_key":"cat.jpg"}`)}))
	s.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestHandler_StartFailure(t *testing.T) {
	s := &mockStarter{}
	s.On("Start", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable")).Once()

	h := NewHandler(s, defaults, zerolog.Nop())
	err := h.Handle(context.Background(), kafka.Message{Value: []byte(`{"source_key":"cat.jpg"}`)})
	assert.ErrorContains(t, err, "unavailable")
}

type fakeReader struct {
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

type handlerFunc func(ctx context.Context, msg kafka.Message) error

func (f handlerFunc) Handle(ctx context.Context, msg kafka.Message) error {
	return f(ctx, msg)
}

func TestConsumer_CommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeReader{
		messages: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		cancel:   cancel,
	}
	var handled []int64
	h := handlerFunc(func(_ context.Context, msg kafka.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 2 {
			return errors.New("poison")
		}
		return nil
	})

	require.NoError(t, NewConsumer(r, h, zerolog.Nop()).Run(ctx))
	assert.Equal(t, []int64{1, 2, 3}, handled)
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

type brokenReader struct{}

func (brokenReader) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("broker down")
}

func (brokenReader) CommitMessages(context.Context, ...kafka.Message) error {
	return nil
}

func TestConsumer_FetchError(t *testing.T) {
	h := handlerFunc(func(context.Context, kafka.Message) error { return nil })
	err := NewConsumer(brokenReader{}, h, zerolog.Nop()).Run(context.Background())
	assert.ErrorContains(t, err, "broker down")
}
