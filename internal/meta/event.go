package meta

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Event types reported by the storage gateway.
const (
	EventFileAdded   = "file_added"
	EventFileUpdated = "file_updated"
	EventFileMoved   = "addon_file_moved"
	EventFileRenamed = "addon_file_renamed"
)

// Event is a storage gateway notification. It is fired after the physical change
// already happened. file_added and file_updated carry only a Destination.
type Event struct {
	Type        string     `json:"event_type" yaml:"event_type"`
	Actor       string     `json:"actor" yaml:"actor"`
	Source      *EventItem `json:"source,omitempty" yaml:"source,omitempty"`
	Destination *EventItem `json:"destination" yaml:"destination"`
}

// EventItem describes one side of an event. NodeID is the owning project.
// Children lists the relocated tree below a moved folder, as reported by the gateway.
type EventItem struct {
	Provider     string       `json:"provider" yaml:"provider"`
	Path         string       `json:"path" yaml:"path"`
	Materialized string       `json:"materialized" yaml:"materialized"`
	NodeID       string       `json:"node_id" yaml:"node_id"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind         string       `json:"kind,omitempty" yaml:"kind,omitempty"`
	Children     []*EventItem `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsFolder reports whether the item names a folder, by kind or trailing slash.
func (i *EventItem) IsFolder() bool {
	if i.Kind != "" {
		return i.Kind == "folder"
	}
	return strings.HasSuffix(i.Path, "/")
}

// IsMove reports whether the event drives reconciliation.
func (e *Event) IsMove() bool {
	return e.Type == EventFileMoved || e.Type == EventFileRenamed
}

// Validate checks the event's shape. Errors wrap ErrInvalidEvent.
func (e *Event) Validate() error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.Type, validation.Required,
			validation.In(EventFileAdded, EventFileUpdated, EventFileMoved, EventFileRenamed)),
		validation.Field(&e.Destination, validation.Required),
		validation.Field(&e.Source, validation.When(e.IsMove(), validation.Required)),
	)
	if err == nil {
		err = e.Destination.validate()
	}
	if err == nil && e.Source != nil {
		err = e.Source.validate()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func (i *EventItem) validate() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Provider, validation.Required),
		validation.Field(&i.Path, validation.Required, validation.By(absolutePath)),
		validation.Field(&i.NodeID, validation.Required),
		validation.Field(&i.Kind, validation.In("file", "folder")),
	)
}

func absolutePath(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") {
		return fmt.Errorf("must start with /")
	}
	return nil
}
