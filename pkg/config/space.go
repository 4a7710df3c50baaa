package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// SpaceFile is the on-disk YAML shape describing a space's static
// scaffolding: which participants exist, their kind, their initial
// capability grants, and the join token each resolves to. The gateway core
// never parses this itself (spec.md §1 keeps static space/capability
// configuration out of the core's scope); this type exists so whatever
// loads the file — an operator CLI, a cmd/ entrypoint — has a stable,
// typed target to unmarshal into.
type SpaceFile struct {
	Space        string                `yaml:"space"`
	Participants []ParticipantScaffold `yaml:"participants"`
}

// ParticipantScaffold is one participant's static configuration entry.
type ParticipantScaffold struct {
	ID           string              `yaml:"id"`
	Kind         string              `yaml:"kind"`
	DisplayName  string              `yaml:"display_name,omitempty"`
	Token        string              `yaml:"token"`
	Capabilities []matcher.Capability `yaml:"capabilities,omitempty"`
}

// LoadSpaceFile reads and parses a space scaffolding file from path.
func LoadSpaceFile(path string) (*SpaceFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read space file: %w", err)
	}
	var sf SpaceFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("config: parse space file: %w", err)
	}
	return &sf, nil
}

// Apply configures every participant in sf against reg, returning the
// first configuration error encountered (if any participant's kind is
// invalid or its configuration is otherwise rejected).
func (sf *SpaceFile) Apply(reg registry.Registry) error {
	for _, p := range sf.Participants {
		participant := &registry.Participant{
			ID:                     p.ID,
			Kind:                   registry.Kind(p.Kind),
			DisplayName:            p.DisplayName,
			ConfiguredCapabilities: matcher.Set(p.Capabilities),
		}
		if err := reg.Configure(participant, p.Token); err != nil {
			return fmt.Errorf("config: configure participant %q: %w", p.ID, err)
		}
	}
	return nil
}
