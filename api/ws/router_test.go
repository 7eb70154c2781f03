package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parleycomm/parley/chat/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

// newSession creates a minimal Session for testing.
func newSession(username string) *session.Session {
	return &session.Session{
		Username: username,
		SendChan: make(chan []byte, 256),
		Done:     make(chan struct{}),
	}
}

func makePacket(t *testing.T, seq uint64, action string, payload interface{}) []byte {
	t.Helper()
	p, _ := json.Marshal(payload)
	pkt := session.Packet{Seq: seq, Type: action, Payload: p}
	b, err := json.Marshal(pkt)
	require.NoError(t, err)
	return b
}

func TestRouter_On_Dispatch_Basic(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("get-channels", func(ctx context.Context, s *session.Session, payload json.RawMessage) error {
		called = true
		return nil
	})

	s := newSession("alice")
	r.Dispatch(s, makePacket(t, 1, "get-channels", nil))
	assert.True(t, called)
}

func TestRouter_Dispatch_MalformedJSON(t *testing.T) {
	r := NewRouter(nop())
	s := newSession("alice")
	// Should not panic
	r.Dispatch(s, []byte("not json"))
}

func TestRouter_Dispatch_UnknownAction(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("known", func(_ context.Context, _ *session.Session, _ json.RawMessage) error {
		called = true
		return nil
	})
	s := newSession("alice")
	r.Dispatch(s, makePacket(t, 1, "unknown", nil))
	assert.False(t, called)
}

func TestRouter_Dispatch_AntiReplay_RejectsOldSeq(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *session.Session, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s := newSession("alice")

	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	assert.Equal(t, 1, callCount)

	// Same seq → rejected (replay)
	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	assert.Equal(t, 1, callCount)

	// Lower seq → rejected
	r.Dispatch(s, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, callCount)
}

func TestRouter_Dispatch_SeqZero_SkipsAntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *session.Session, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s := newSession("alice")
	s.LastSeq = 100

	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 2, callCount)
}

func TestRouter_Dispatch_PayloadPassed(t *testing.T) {
	r := NewRouter(nop())
	var got sendMessagePayload
	r.On("send-message", func(_ context.Context, _ *session.Session, raw json.RawMessage) error {
		return json.Unmarshal(raw, &got)
	})
	s := newSession("alice")
	r.Dispatch(s, makePacket(t, 1, "send-message", sendMessagePayload{ChannelID: 7, Payload: "hi"}))
	assert.EqualValues(t, 7, got.ChannelID)
	assert.Equal(t, "hi", got.Payload)
}

func TestRouter_Dispatch_TraceIDAssigned(t *testing.T) {
	r := NewRouter(nop())
	var fromCtx string
	r.On("msg", func(ctx context.Context, _ *session.Session, _ json.RawMessage) error {
		fromCtx = TraceIDFromCtx(ctx)
		return nil
	})
	s := newSession("alice")
	r.Dispatch(s, makePacket(t, 1, "msg", nil))
	assert.NotEmpty(t, fromCtx)
	assert.Equal(t, s.TraceID, fromCtx)
}
