package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for signaling message")
	}
	var zero T
	return zero
}

func TestRelay_OfferAnswer(t *testing.T) {
	srv := httptest.NewServer(NewServer(zerolog.Nop()))
	defer srv.Close()
	ctx := context.Background()

	type relayed struct {
		from    string
		payload json.RawMessage
	}
	offers := make(chan relayed, 1)
	answers := make(chan relayed, 1)
	pubReady := make(chan struct{}, 1)
	viewReady := make(chan struct{}, 1)

	var pub *Client
	pub = NewClient(wsURL(srv), "pub-1", RolePublisher, Handler{
		OnRegistered: func() { pubReady <- struct{}{} },
		OnOffer: func(from string, payload json.RawMessage) {
			offers <- relayed{from, payload}
			_ = pub.SendAnswer(from, json.RawMessage(`{"sdp":"answer"}`))
		},
	}, zerolog.Nop())
	require.NoError(t, pub.Connect(ctx))
	defer pub.Close()
	waitFor(t, pubReady)

	view := NewClient(wsURL(srv), "view-1", RoleViewer, Handler{
		OnRegistered: func() { viewReady <- struct{}{} },
		OnAnswer: func(from string, payload json.RawMessage) {
			answers <- relayed{from, payload}
		},
	}, zerolog.Nop())
	require.NoError(t, view.Connect(ctx))
	defer view.Close()
	waitFor(t, viewReady)

	require.NoError(t, view.SendOffer("pub-1", json.RawMessage(`{"sdp":"offer"}`)))

	offer := waitFor(t, offers)
	assert.Equal(t, "view-1", offer.from)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(offer.payload))

	answer := waitFor(t, answers)
	assert.Equal(t, "pub-1", answer.from)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(answer.payload))
}

func TestRelay_ListPublishersAndUnknownTarget(t *testing.T) {
	srv := httptest.NewServer(NewServer(zerolog.Nop()))
	defer srv.Close()
	ctx := context.Background()

	pubReady := make(chan struct{}, 1)
	pub := NewClient(wsURL(srv), "pub-1", RolePublisher, Handler{
		OnRegistered: func() { pubReady <- struct{}{} },
	}, zerolog.Nop())
	require.NoError(t, pub.Connect(ctx))
	defer pub.Close()
	waitFor(t, pubReady)

	lists := make(chan []PublisherInfo, 2)
	errs := make(chan string, 1)
	viewReady := make(chan struct{}, 1)
	view := NewClient(wsURL(srv), "view-1", RoleViewer, Handler{
		OnRegistered:        func() { viewReady <- struct{}{} },
		OnPublishersUpdated: func(p []PublisherInfo) { lists <- p },
		OnError:             func(msg string) { errs <- msg },
	}, zerolog.Nop())
	require.NoError(t, view.Connect(ctx))
	defer view.Close()
	waitFor(t, viewReady)

	require.NoError(t, view.RequestPublisherList())
	list := waitFor(t, lists)
	assert.Equal(t, []PublisherInfo{{ID: "pub-1", Online: true}}, list)

	require.NoError(t, view.SendOffer("nobody", json.RawMessage(`{}`)))
	assert.Contains(t, waitFor(t, errs), "unknown target")
}

func TestRelay_RejectsInvalidMessages(t *testing.T) {
	srv := httptest.NewServer(NewServer(zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	roundTrip := func(msg Message) Message {
		t.Helper()
		require.NoError(t, conn.WriteJSON(msg))
		var reply Message
		require.NoError(t, conn.ReadJSON(&reply))
		return reply
	}

	reply := roundTrip(Message{Type: TypeRegister, ID: "cam", Role: "admin"})
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Error, "unknown role")

	reply = roundTrip(Message{Type: TypePing})
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Error, "register first")

	reply = roundTrip(Message{Type: TypeRegister, ID: "cam", Role: RolePublisher})
	assert.Equal(t, TypeRegistered, reply.Type)
	assert.Equal(t, "cam", reply.ID)

	reply = roundTrip(Message{Type: TypeOffer, Payload: json.RawMessage(`{}`)})
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Error, "missing target")

	reply = roundTrip(Message{Type: TypeRegister, ID: "other", Role: RoleViewer})
	assert.Contains(t, reply.Error, "already registered")

	reply = roundTrip(Message{Type: TypePing})
	assert.Equal(t, TypePong, reply.Type)
}

func TestClient_SendAfterClose(t *testing.T) {
	srv := httptest.NewServer(NewServer(zerolog.Nop()))
	defer srv.Close()

	c := NewClient(wsURL(srv), "x", RoleViewer, Handler{}, zerolog.Nop())
	assert.ErrorIs(t, c.RequestPublisherList(), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	c.Close()
	c.Close()

	assert.ErrorIs(t, c.RequestPublisherList(), ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}
