// Package models holds the entity types stored by the serializations in
// package store.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID identifies an entity by UUID and type.
type ID struct {
	UUID uuid.UUID `json:"uuid"`
	Type string    `json:"type"`
}

// NewID returns a random ID of the given type.
func NewID(typ string) ID {
	return ID{UUID: uuid.New(), Type: typ}
}

// ParseID parses the "type:uuid" form produced by String.
func ParseID(s string) (ID, error) {
	typ, raw, ok := strings.Cut(s, ":")
	if !ok || typ == "" {
		return ID{}, fmt.Errorf("invalid entity id %q: expected type:uuid", s)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return ID{}, fmt.Errorf("invalid entity id %q: %w", s, err)
	}
	return ID{UUID: u, Type: typ}, nil
}

func (id ID) IsZero() bool   { return id.UUID == uuid.Nil && id.Type == "" }
func (id ID) String() string { return id.Type + ":" + id.UUID.String() }

// CollectionScope is the tenant-qualified collection an entity lives in.
type CollectionScope struct {
	Application ID     `json:"application"`
	Owner       ID     `json:"owner"`
	Name        string `json:"name"`
}

func (s CollectionScope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Application, s.Owner, s.Name)
}

// Status is the state of one entity version.
type Status int

const (
	StatusComplete Status = iota + 1
	StatusPartial
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Entity is the payload of a version.
type Entity struct {
	ID     ID             `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// MvccEntity is one version of an entity. Entity is nil for versions that
// were marked deleted.
type MvccEntity struct {
	ID      ID
	Version uuid.UUID
	Status  Status
	Entity  *Entity
}

// NewVersion returns a time-based (version 1) UUID for a new entity
// version. Versions of the same entity order by their timestamp.
func NewVersion() (uuid.UUID, error) {
	return uuid.NewUUID()
}

// VersionTime returns the timestamp embedded in a time-based version.
func VersionTime(version uuid.UUID) time.Time {
	sec, nsec := version.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

// EntitySet is the result of loading several entities at once.
type EntitySet struct {
	entities map[ID]MvccEntity
}

func NewEntitySet() *EntitySet {
	return &EntitySet{entities: make(map[ID]MvccEntity)}
}

// Add stores entity, replacing any previous version of the same ID.
func (s *EntitySet) Add(entity MvccEntity) {
	s.entities[entity.ID] = entity
}

// Entity returns the loaded version of id.
func (s *EntitySet) Entity(id ID) (MvccEntity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

func (s *EntitySet) Len() int {
	return len(s.entities)
}

// IDs returns the loaded IDs sorted by their string form.
func (s *EntitySet) IDs() []ID {
	ids := make([]ID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
