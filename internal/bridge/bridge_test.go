package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/model"
)

// pipeChannel is an in-memory Channel. The test writes to in and reads out.
type pipeChannel struct {
	in  chan Message
	out chan Message
}

func newPipe() *pipeChannel {
	return &pipeChannel{in: make(chan Message, 8), out: make(chan Message, 8)}
}

func (p *pipeChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-p.in:
		if !ok {
			return Message{}, io.EOF
		}
		return m, nil
	}
}

func (p *pipeChannel) Send(_ context.Context, m Message) error {
	p.out <- m
	return nil
}

func next(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

// recordingLoader keeps the last dataset, mimicking a session's single slot.
type recordingLoader struct {
	current *model.Dataset
}

func (l *recordingLoader) LoadDataset(_ context.Context, name string, data []byte) (*model.Dataset, error) {
	ds, err := ingest.Load(name, data)
	if err != nil {
		return nil, err
	}
	l.current = ds
	return ds, nil
}

func TestServe(t *testing.T) {
	pipe := newPipe()
	loader := &recordingLoader{}
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), pipe, loader) }()

	assert.Equal(t, TypeReady, next(t, pipe.out).Type)

	pipe.in <- Message{Type: TypeLoadDataset, Name: "a.csv", CSV: "Site,Files\nA,1\nB,2\n"}
	changed := next(t, pipe.out)
	assert.Equal(t, TypeDatasetChanged, changed.Type)
	assert.Equal(t, "a.csv", changed.Name)
	require.NotNil(t, changed.RowCount)
	assert.Equal(t, 2, *changed.RowCount)
	assert.Equal(t, []string{"Site", "Files"}, changed.Headers)

	pipe.in <- Message{Type: "something-else"}
	pipe.in <- Message{Type: TypeLoadDataset, CSV: "Site\nC\n"}
	changed = next(t, pipe.out)
	assert.Equal(t, DefaultName, changed.Name)
	assert.Equal(t, 1, *changed.RowCount)
	assert.Equal(t, "C", loader.current.Rows[0].Get("Site"), "second push must replace the first")

	close(pipe.in)
	assert.NoError(t, <-done)
}

func TestServe_LoadFailureKeepsPrevious(t *testing.T) {
	pipe := newPipe()
	loader := &recordingLoader{}
	go Serve(context.Background(), pipe, loader)
	next(t, pipe.out)

	pipe.in <- Message{Type: TypeLoadDataset, Name: "ok.csv", CSV: "Site\nA\n"}
	next(t, pipe.out)
	first := loader.current

	pipe.in <- Message{Type: TypeLoadDataset, Name: "bad.csv", CSV: "Site\n\xff\xfe\xfd"}
	failed := next(t, pipe.out)
	assert.Equal(t, TypeError, failed.Type)
	assert.Contains(t, failed.Error, ingest.ErrUndecodable.Error())
	assert.Same(t, first, loader.current)
	close(pipe.in)
}

func TestServe_EmptyDatasetReportsZeroRows(t *testing.T) {
	pipe := newPipe()
	go Serve(context.Background(), pipe, &recordingLoader{})
	next(t, pipe.out)

	pipe.in <- Message{Type: TypeLoadDataset, Name: "empty.csv", CSV: ""}
	changed := next(t, pipe.out)

	b, err := json.Marshal(changed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"spdash:dataset-changed","name":"empty.csv","rowCount":0,"headers":[]}`, string(b))
	close(pipe.in)
}

func TestServe_ContextCancel(t *testing.T) {
	pipe := newPipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, pipe, &recordingLoader{}) }()
	next(t, pipe.out)

	cancel()
	assert.NoError(t, <-done)
}

func TestMessageContract(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"spdash:load-dataset","name":"x.csv","csv":"a,b"}`), &m))
	assert.Equal(t, TypeLoadDataset, m.Type)
	assert.Equal(t, "a,b", m.CSV)

	b, err := json.Marshal(Ready())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"spdash:ready"}`, string(b))

	b, err = json.Marshal(Failure(errors.New("nope")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"spdash:error","error":"nope"}`, string(b))
}

func TestHub(t *testing.T) {
	h := NewHub()
	a1 := h.Subscribe("a")
	a2 := h.Subscribe("a")
	b := h.Subscribe("b")
	assert.Equal(t, 2, h.Subscribers("a"))

	h.Publish("a", Ready())
	assert.Equal(t, TypeReady, next(t, a1).Type)
	assert.Equal(t, TypeReady, next(t, a2).Type)
	select {
	case <-b:
		t.Fatal("session b must not see session a's messages")
	default:
	}

	h.Unsubscribe("a", a1)
	h.Unsubscribe("a", a1)
	assert.Equal(t, 1, h.Subscribers("a"))
	_, open := <-a1
	assert.False(t, open)

	h.Unsubscribe("a", a2)
	h.Unsubscribe("b", b)
	assert.Equal(t, 0, h.Subscribers("a"))
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("s")
	defer h.Unsubscribe("s", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("s", Ready())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestWSChannel(t *testing.T) {
	loader := &recordingLoader{}
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		Serve(context.Background(), NewWSChannel(conn), loader)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var m Message
	require.NoError(t, websocket.JSON.Receive(conn, &m))
	assert.Equal(t, TypeReady, m.Type)

	require.NoError(t, websocket.JSON.Send(conn, Message{Type: TypeLoadDataset, Name: "ws.csv", CSV: "Site\nA\nB\n"}))
	require.NoError(t, websocket.JSON.Receive(conn, &m))
	assert.Equal(t, TypeDatasetChanged, m.Type)
	assert.Equal(t, 2, *m.RowCount)
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer h.Unsubscribe("a", a)
	defer h.Unsubscribe("b", b)

	h.Broadcast(Ready())
	assert.Equal(t, TypeReady, next(t, a).Type)
	assert.Equal(t, TypeReady, next(t, b).Type)
}
