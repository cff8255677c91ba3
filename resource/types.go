package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wippyai/asset-runtime/errors"
)

// ID identifies a resource across its lifetime, independent of where the
// loaded object lives in memory. Typically an asset path.
type ID string

// Descriptor is an opaque per-type parameter bundle passed unmodified from
// the caller to Resource.Load.
type Descriptor any

// Resource is implemented by every concrete asset type. The manager calls
// these methods only from its routines, never concurrently for one object.
//
// Load and Reload report expected, partial failures by returning an
// *errors.Error (see errors.AsFailure). Any other error is treated as a
// programming error. Unload must not fail.
type Resource interface {
	Load(ctx context.Context, m *Manager, desc Descriptor) error

	// Reload refreshes the object in place. The previous contents must stay
	// usable until the new ones are ready.
	Reload(ctx context.Context, m *Manager) error

	Unload(m *Manager)
}

// Status is the load state of a manifest.
type Status int32

const (
	StatusUnloaded Status = iota
	StatusProcessing
	StatusLoaded
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusProcessing:
		return "processing"
	case StatusLoaded:
		return "loaded"
	case StatusInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// GCStrategy decides who may reclaim a resource.
type GCStrategy int32

const (
	// GCManual resources are only unloaded through Manager.UnloadResource.
	GCManual GCStrategy = iota
	// GCReferenceCount resources are unloaded by TriggerReferenceGC once no
	// handle references them.
	GCReferenceCount
	// GCSceneDeletion resources are unloaded by TriggerSceneGC regardless of
	// references.
	GCSceneDeletion
)

func (s GCStrategy) String() string {
	switch s {
	case GCManual:
		return "manual"
	case GCReferenceCount:
		return "reference_count"
	case GCSceneDeletion:
		return "scene_deletion"
	default:
		return fmt.Sprintf("strategy(%d)", int32(s))
	}
}

// ParseGCStrategy parses the String form of a strategy.
func ParseGCStrategy(s string) (GCStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return GCManual, nil
	case "reference_count", "refcount", "reference":
		return GCReferenceCount, nil
	case "scene_deletion", "scene":
		return GCSceneDeletion, nil
	}
	return GCManual, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown gc strategy %q", s))
}

// CollectionMode controls whether out-of-memory load failures
// opportunistically trigger a reference-count sweep.
type CollectionMode int32

const (
	CollectionAutomatic CollectionMode = iota
	CollectionManual
)

func (c CollectionMode) String() string {
	if c == CollectionManual {
		return "manual"
	}
	return "automatic"
}

// ParseCollectionMode parses the String form of a collection mode.
func ParseCollectionMode(s string) (CollectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic", "auto":
		return CollectionAutomatic, nil
	case "manual":
		return CollectionManual, nil
	}
	return CollectionAutomatic, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown collection mode %q", s))
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventLoaded
	EventReloaded
	EventLoadFailed
	EventUnloaded
	EventSweep
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventLoaded:
		return "loaded"
	case EventReloaded:
		return "reloaded"
	case EventLoadFailed:
		return "load_failed"
	case EventUnloaded:
		return "unloaded"
	case EventSweep:
		return "sweep"
	case EventDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Err error
	ID  ID
	// Kind is the failure code for EventLoadFailed.
	Kind errors.Kind
	// Op correlates the events of one routine run.
	Op uuid.UUID
	// Count is the number of unloaded manifests for EventSweep.
	Count    int
	Status   Status
	Strategy GCStrategy
	Type     EventType
	// Reload is set when EventLoadFailed came from ReloadingRoutine.
	Reload bool
}

// Observer receives notifications about resource lifecycle events.
// Observers are called synchronously from the goroutine running the routine
// and must not block.
type Observer interface {
	OnResourceEvent(Event)
}

// ManifestInfo is a point-in-time view of one manifest.
type ManifestInfo struct {
	ID         ID
	References int64
	Status     Status
	Strategy   GCStrategy
}

// Stats holds manager counters.
type Stats struct {
	Manifests       int
	InFlight        int64
	Loads           uint64
	Reloads         uint64
	Unloads         uint64
	Failures        uint64
	SceneSweeps     uint64
	ReferenceSweeps uint64
	Collected       uint64
}
