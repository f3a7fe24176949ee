package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hookbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type mockBot struct {
	mock.Mock
	name  string
	order *[]string
}

func (m *mockBot) Name() string     { return m.name }
func (m *mockBot) Platform() string { return "mock" }

func (m *mockBot) SendChannel(ctx context.Context, id string, msg domain.Message) error {
	*m.order = append(*m.order, m.name+":channel:"+id)
	return m.Called(id, msg).Error(0)
}

func (m *mockBot) SendPrivate(ctx context.Context, id string, msg domain.Message) error {
	*m.order = append(*m.order, m.name+":private:"+id)
	return m.Called(id, msg).Error(0)
}

func TestDeliver_OrderAndSameMessage(t *testing.T) {
	var order []string
	msg := domain.Message{Elements: []domain.Element{domain.Text("hi"), domain.Mention("7")}}

	a := &mockBot{name: "a", order: &order}
	a.On("SendChannel", mock.Anything, msg).Return(nil)
	a.On("SendPrivate", mock.Anything, msg).Return(nil)
	b := &mockBot{name: "b", order: &order}
	b.On("SendChannel", mock.Anything, msg).Return(nil)
	b.On("SendPrivate", mock.Anything, msg).Return(nil)

	reg := NewRegistry()
	reg.Add(a)
	reg.Add(b)

	report, err := New(reg, testLogger()).Deliver(context.Background(), msg, []string{"c1", "c2"}, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, Report{Attempted: 6}, report)
	assert.Equal(t, []string{
		"a:channel:c1", "a:channel:c2", "a:private:p1",
		"b:channel:c1", "b:channel:c2", "b:private:p1",
	}, order)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestDeliver_FailureDoesNotStopLaterSends(t *testing.T) {
	var order []string
	msg := domain.Message{Elements: []domain.Element{domain.Text("x")}}
	boom := errors.New("boom")

	a := &mockBot{name: "a", order: &order}
	a.On("SendChannel", "c1", msg).Return(boom)
	a.On("SendChannel", "c2", msg).Return(nil)
	a.On("SendPrivate", "p1", msg).Return(nil)

	reg := NewRegistry()
	reg.Add(a)

	report, err := New(reg, testLogger()).Deliver(context.Background(), msg, []string{"c1", "c2"}, []string{"p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a channel c1")
	assert.Equal(t, Report{Attempted: 3, Failed: 1}, report)
	assert.Len(t, order, 3)
}

func TestDeliver_NoBots(t *testing.T) {
	report, err := New(NewRegistry(), testLogger()).Deliver(context.Background(), domain.Message{}, []string{"c"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestDeliver_CancelledContext(t *testing.T) {
	var order []string
	a := &mockBot{name: "a", order: &order}
	reg := NewRegistry()
	reg.Add(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(reg, testLogger()).Deliver(ctx, domain.Message{}, []string{"c"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, order)
}

func TestRegistry_AddReplaceRemove(t *testing.T) {
	var order []string
	reg := NewRegistry()
	reg.Add(&mockBot{name: "a", order: &order})
	reg.Add(&mockBot{name: "b", order: &order})
	replacement := &mockBot{name: "a", order: &order}
	reg.Add(replacement)

	require.Equal(t, 2, reg.Len())
	assert.Same(t, replacement, reg.Bots()[0])

	reg.Remove("a")
	require.Equal(t, 1, reg.Len())
	assert.Equal(t, "b", reg.Bots()[0].Name())
}
