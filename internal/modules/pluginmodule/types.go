package pluginmodule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mantonx/vvf/internal/errors"
	plugins "github.com/mantonx/vvf/sdk"
)

// Origin says where an extension came from. Lower ranks win when the same
// extension is discovered through several origins.
type Origin int

const (
	OriginBuiltIn Origin = iota
	OriginInstalledPackage
	OriginSideloadedFile
	OriginRemote
)

// Rank returns the tie-break rank, lower is preferred.
func (o Origin) Rank() int {
	return int(o)
}

func (o Origin) String() string {
	switch o {
	case OriginBuiltIn:
		return "builtin"
	case OriginInstalledPackage:
		return "installed"
	case OriginSideloadedFile:
		return "sideload"
	case OriginRemote:
		return "remote"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// MarshalText encodes the origin by name.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an origin name.
func (o *Origin) UnmarshalText(text []byte) error {
	parsed, err := ParseOrigin(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOrigin parses an origin name.
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(s) {
	case "builtin", "built-in":
		return OriginBuiltIn, nil
	case "installed", "package":
		return OriginInstalledPackage, nil
	case "sideload", "sideloaded", "file":
		return OriginSideloadedFile, nil
	case "remote":
		return OriginRemote, nil
	}
	return 0, fmt.Errorf("unknown origin %q", s)
}

// Runtime names tell instantiators how to execute a locator.
const (
	RuntimeBuiltin = "builtin"
	RuntimeProcess = "process"
	RuntimeScript  = "script"
)

// ExtensionMetadata describes one discovered extension. Values are built
// once per scan and never mutated after publication.
type ExtensionMetadata struct {
	ID           string                   `json:"id"`
	EntryPoint   string                   `json:"entry_point"`
	Locator      string                   `json:"locator"`
	Origin       Origin                   `json:"origin"`
	Capabilities []plugins.CapabilityKind `json:"capabilities"`

	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
	UpdateURL   string `json:"update_url,omitempty"`
	RepoURL     string `json:"repo_url,omitempty"`

	Runtime  string            `json:"runtime"`
	Settings map[string]string `json:"settings,omitempty"`

	// Enabled is the default used when no enablement has been stored.
	Enabled bool `json:"enabled"`
}

// HasCapability reports whether the metadata declares kind.
func (m *ExtensionMetadata) HasCapability(kind plugins.CapabilityKind) bool {
	for _, k := range m.Capabilities {
		if k == kind {
			return true
		}
	}
	return false
}

// CapabilityKey is the sorted, comma joined capability set.
func (m *ExtensionMetadata) CapabilityKey() string {
	kinds := make([]string, len(m.Capabilities))
	for i, k := range m.Capabilities {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ",")
}

// Clone returns a deep copy.
func (m *ExtensionMetadata) Clone() *ExtensionMetadata {
	c := *m
	c.Capabilities = append([]plugins.CapabilityKind(nil), m.Capabilities...)
	if m.Settings != nil {
		c.Settings = make(map[string]string, len(m.Settings))
		for k, v := range m.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

// Validate checks the fields every parser must fill in.
func (m *ExtensionMetadata) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("missing id")
	case strings.ContainsAny(m.ID, ",/"):
		return fmt.Errorf("id %q must not contain ',' or '/'", m.ID)
	case m.EntryPoint == "":
		return fmt.Errorf("missing entry point")
	case len(m.Capabilities) == 0:
		return fmt.Errorf("no capability kinds declared")
	}
	return nil
}

// RawDescriptor is one unparsed candidate produced by a ManifestSource.
type RawDescriptor struct {
	Source     string            // source name, for error reporting
	Locator    string            // path, URL or registry key
	Data       []byte            // descriptor content, may be empty
	Attributes map[string]string // source specific hints for the parser
}

// ManifestSource enumerates the raw descriptors of one origin.
type ManifestSource interface {
	Name() string
	Origin() Origin
	// Enumerate lists every candidate. It fails only when the origin as a
	// whole is unreachable.
	Enumerate(ctx context.Context) ([]RawDescriptor, error)
	// Subscribe registers a no-payload "contents may have changed" signal.
	Subscribe(onChange func()) (unsubscribe func())
}

// ManifestParser turns one descriptor into metadata.
type ManifestParser interface {
	Parse(desc RawDescriptor) (*ExtensionMetadata, error)
}

// PluginInstantiator constructs the capability instance for metadata.
type PluginInstantiator interface {
	Instantiate(ctx context.Context, meta *ExtensionMetadata) (plugins.Extension, error)
}

// ErrorKind classifies reported errors.
type ErrorKind string

const (
	ErrorKindParse ErrorKind = "parse"
	ErrorKindLoad  ErrorKind = "load"
	ErrorKindScan  ErrorKind = "scan"
	ErrorKindOther ErrorKind = "other"
)

// ErrorEvent is one reported failure.
type ErrorEvent struct {
	ID          string                 `json:"id"`
	Kind        plugins.CapabilityKind `json:"kind"`
	ExtensionID string                 `json:"extension_id,omitempty"`
	ErrorKind   ErrorKind              `json:"error_kind"`
	Origin      Origin                 `json:"origin"`
	Source      string                 `json:"source,omitempty"`
	Message     string                 `json:"message"`
	Time        time.Time              `json:"time"`
	Err         error                  `json:"-"`
}

// NewErrorEvent classifies err by its code and stamps the event.
func NewErrorEvent(kind plugins.CapabilityKind, origin Origin, source string, err error) ErrorEvent {
	ek := ErrorKindOther
	switch apperrors.CodeOf(err) {
	case apperrors.CodeParse:
		ek = ErrorKindParse
	case apperrors.CodeLoad:
		ek = ErrorKindLoad
	case apperrors.CodeScan:
		ek = ErrorKindScan
	}
	return ErrorEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		ExtensionID: apperrors.ExtensionIDOf(err),
		ErrorKind:   ek,
		Origin:      origin,
		Source:      source,
		Message:     err.Error(),
		Time:        time.Now(),
		Err:         err,
	}
}
