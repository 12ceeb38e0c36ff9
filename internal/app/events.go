package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"fmeta-go/internal/meta"
)

// Event input formats accepted by IngestEvents.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DecodeEvents reads gateway events from r. JSON input is a single object, an
// array, or a stream of objects (one per line is fine). YAML input is a
// mapping, a sequence, or several documents.
func DecodeEvents(r io.Reader, format string) ([]*meta.Event, error) {
	switch format {
	case FormatJSON, "":
		return decodeJSONEvents(r)
	case FormatYAML, "yml":
		return decodeYAMLEvents(r)
	default:
		return nil, fmt.Errorf("unknown event format %q", format)
	}
}

func decodeJSONEvents(r io.Reader) ([]*meta.Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var events []*meta.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("decoding event list: %w", err)
		}
		return events, nil
	}

	var events []*meta.Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var ev meta.Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(events)+1, err)
		}
		events = append(events, &ev)
	}
}

func decodeYAMLEvents(r io.Reader) ([]*meta.Event, error) {
	var events []*meta.Event
	dec := yaml.NewDecoder(r)
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding yaml document: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		body := doc.Content[0]
		if body.Kind == yaml.SequenceNode {
			var list []*meta.Event
			if err := body.Decode(&list); err != nil {
				return nil, fmt.Errorf("decoding event list: %w", err)
			}
			events = append(events, list...)
			continue
		}
		var ev meta.Event
		if err := body.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(events)+1, err)
		}
		events = append(events, &ev)
	}
}

// IngestEvents decodes events from r and stages them in the spool. It stops
// at the first event that fails validation; earlier events stay staged.
func (a *App) IngestEvents(r io.Reader, format string) (int, error) {
	events, err := DecodeEvents(r, format)
	if err != nil {
		return 0, err
	}
	for i, ev := range events {
		if err := a.service.StageEvent(a.spool, ev); err != nil {
			return i, fmt.Errorf("staging event %d: %w", i+1, err)
		}
	}
	return len(events), nil
}

// ProcessEvents drains the spool in arrival order.
func (a *App) ProcessEvents(ctx context.Context) (int, error) {
	var n int
	err := a.mutate(func() error {
		var err error
		n, err = a.service.ProcessSpool(ctx, a.spool)
		return err
	})
	return n, err
}

// HandleEvent applies one event immediately, bypassing the spool.
func (a *App) HandleEvent(ctx context.Context, ev *meta.Event) (*meta.ReconcileResult, error) {
	var res *meta.ReconcileResult
	err := a.mutate(func() error {
		var err error
		res, err = a.service.HandleEvent(ctx, ev)
		return err
	})
	return res, err
}

// QueuedEvents reports how many events wait in the spool.
func (a *App) QueuedEvents() (int, error) {
	return a.spool.Count()
}
