package application

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubController struct {
	key string
}

func (c stubController) Register(r *mux.Router) {}
func (c stubController) Key() string            { return c.key }

type catalogService struct {
	name string
}

func TestApplication_Registry(t *testing.T) {
	app := New(&ApplicationOptions{})

	app.RegisterControllers(stubController{key: "/b"}, stubController{key: "/a"}, stubController{key: "/b"})
	controllers := app.Controllers()
	require.Len(t, controllers, 2)
	assert.Equal(t, "/a", controllers[0].Key())
	assert.Equal(t, "/b", controllers[1].Key())

	svc := &catalogService{name: "screens"}
	app.RegisterServices(svc)
	got := app.Service(catalogService{}).(*catalogService)
	assert.Same(t, svc, got)
	assert.Panics(t, func() { app.Service(stubController{}) })

	assert.Equal(t, []string{"en", "ko"}, app.GetSupportedLanguages())
	assert.NotNil(t, app.EventPublisher())
	assert.NotNil(t, app.Logger())
}

func TestApplication_RegisterLocaleFiles(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.RegisterLocaleFiles(fstest.MapFS{
		"locales/en.toml": &fstest.MapFile{Data: []byte("[Reports]\nTitle = \"Reports\"\n")},
	})
	l := i18n.NewLocalizer(app.Bundle(), "en")
	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: "Reports.Title"})
	require.NoError(t, err)
	assert.Equal(t, "Reports", msg)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(&HuberOptions{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "/?channel=grid/1")
	other := dial(t, srv, "/?channel=grid/2")
	defer other.Close()

	require.Eventually(t, func() bool {
		return hub.ConnectionsInChannel("grid/1") == 1 && hub.ConnectionsInChannel("grid/2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, hub.Broadcast("grid/1", []byte(`{"kind":"row_count"}`)))
	assert.Equal(t, 0, hub.Broadcast("grid/3", []byte(`{}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"row_count"}`, string(msg))

	visited := 0
	require.NoError(t, hub.ForEach("grid/1", func(ctx context.Context, c *Connection) error {
		visited++
		assert.NotNil(t, c.Context())
		return nil
	}))
	assert.Equal(t, 1, visited)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	require.Eventually(t, func() bool {
		return hub.ConnectionsInChannel("grid/1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_OnConnectRejects(t *testing.T) {
	hub := NewHub(&HuberOptions{
		OnConnect: func(r *http.Request, conn *Connection) error {
			return ErrConnectionClosed
		},
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "/?channel=grid/1")
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.ConnectionsInChannel("grid/1"))
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := &Connection{send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.SendMessage([]byte("a")))
	assert.ErrorIs(t, c.SendMessage([]byte("b")), ErrSlowConsumer)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.SendMessage([]byte("c")), ErrConnectionClosed)
}
