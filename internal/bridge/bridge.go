// Package bridge implements the message contract between the dashboard and
// a host page that embeds it. The host pushes CSV text; the dashboard
// answers with readiness and dataset-change notifications.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/siteinventory/spdash/internal/model"
)

// Message types. These strings are part of the host contract.
const (
	TypeLoadDataset    = "spdash:load-dataset"
	TypeReady          = "spdash:ready"
	TypeDatasetChanged = "spdash:dataset-changed"
	TypeError          = "spdash:error"
)

// Message is a single envelope in either direction. Only the fields that
// belong to Type are set.
type Message struct {
	Type     string   `json:"type"`
	Name     string   `json:"name,omitempty"`
	CSV      string   `json:"csv,omitempty"`
	RowCount *int     `json:"rowCount,omitempty"`
	Headers  []string `json:"headers,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// MarshalJSON always emits headers on dataset-changed, even when empty.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Type != TypeDatasetChanged {
		return json.Marshal(plain(m))
	}
	headers := m.Headers
	if headers == nil {
		headers = []string{}
	}
	return json.Marshal(struct {
		plain
		Headers []string `json:"headers"`
	}{plain(m), headers})
}

// Ready is the announcement sent when the dashboard can accept data.
func Ready() Message {
	return Message{Type: TypeReady}
}

// DatasetChanged describes a newly loaded dataset.
func DatasetChanged(ds *model.Dataset) Message {
	n := len(ds.Rows)
	return Message{Type: TypeDatasetChanged, Name: ds.Name, RowCount: &n, Headers: ds.Headers}
}

// Failure reports a dataset that could not be loaded.
func Failure(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}

// Channel carries messages to and from the host.
type Channel interface {
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, msg Message) error
}

// Loader installs pushed CSV text as the current dataset.
type Loader interface {
	LoadDataset(ctx context.Context, name string, data []byte) (*model.Dataset, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, name string, data []byte) (*model.Dataset, error)

// LoadDataset calls f.
func (f LoaderFunc) LoadDataset(ctx context.Context, name string, data []byte) (*model.Dataset, error) {
	return f(ctx, name, data)
}

// DefaultName is used when the host pushes a dataset without a name.
const DefaultName = "embedded.csv"

// Serve announces readiness on ch and then loads every pushed dataset,
// replacing the previous one, until the channel closes or ctx ends. A load
// failure is reported to the host and leaves the previous dataset in place.
// Messages of unknown type are ignored.
func Serve(ctx context.Context, ch Channel, loader Loader) error {
	if err := ch.Send(ctx, Ready()); err != nil {
		return fmt.Errorf("announcing ready: %w", err)
	}
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}
		if msg.Type != TypeLoadDataset {
			continue
		}

		name := msg.Name
		if name == "" {
			name = DefaultName
		}
		var reply Message
		ds, err := loader.LoadDataset(ctx, name, []byte(msg.CSV))
		if err != nil {
			reply = Failure(err)
		} else {
			reply = DatasetChanged(ds)
		}
		if err := ch.Send(ctx, reply); err != nil {
			return fmt.Errorf("sending %s: %w", reply.Type, err)
		}
	}
}
