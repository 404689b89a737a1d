package flatfile

import (
	"context"

	"github.com/tinkerbell/sprout/internal/emulator/ec2"
)

// Backend is a file-based implementation of a backend for the metadata emulator.
type Backend struct {
	// Map of IPv4 addresses to instances. Both the public and local address of an instance
	// resolve to it.
	instances map[string]Instance
}

// NewBackend returns a new instance of Backend.
func NewBackend(instances []Instance) *Backend {
	return &Backend{instances: toIPInstanceMap(instances)}
}

// GetEC2Instance satisfies ec2.Client.
func (b *Backend) GetEC2Instance(_ context.Context, ip string) (ec2.Instance, error) {
	i, ok := b.instances[ip]
	if !ok {
		return ec2.Instance{}, ec2.ErrInstanceNotFound
	}

	return toEC2Instance(i), nil
}

// IsHealthy satisfies healthcheck.Client.
func (b *Backend) IsHealthy(context.Context) bool {
	return true
}

func toEC2Instance(i Instance) ec2.Instance {
	keys := make([]ec2.PublicKey, 0, len(i.Metadata.PublicKeys))
	for _, k := range i.Metadata.PublicKeys {
		keys = append(keys, ec2.PublicKey{Name: k.Name, Key: k.Key})
	}

	return ec2.Instance{
		Userdata: i.Userdata,
		Metadata: ec2.Metadata{
			InstanceID:       i.Metadata.ID,
			Hostname:         i.Metadata.Hostname,
			LocalHostname:    i.Metadata.LocalHostname,
			InstanceType:     i.Metadata.InstanceType,
			AvailabilityZone: i.Metadata.Placement.AvailabilityZone,
			Region:           i.Metadata.Placement.Region,
			Tags:             i.Metadata.Tags,
			PublicKeys:       keys,
			PublicIPv4:       i.Metadata.IPv4.Public,
			LocalIPv4:        i.Metadata.IPv4.Local,
		},
	}
}

// Instance is a representation of a machine instance.
type Instance struct {
	Userdata string `yaml:"userdata"`
	Metadata struct {
		ID            string   `yaml:"id"`
		Hostname      string   `yaml:"hostname"`
		LocalHostname string   `yaml:"localHostname"`
		InstanceType  string   `yaml:"instanceType"`
		Tags          []string `yaml:"tags"`
		Placement     struct {
			AvailabilityZone string `yaml:"availabilityZone"`
			Region           string `yaml:"region"`
		} `yaml:"placement"`
		PublicKeys []struct {
			Name string `yaml:"name"`
			Key  string `yaml:"key"`
		} `yaml:"publicKeys"`
		IPv4 struct {
			Local  string `yaml:"local"`
			Public string `yaml:"public"`
		} `yaml:"ipv4"`
	} `yaml:"metadata"`
}

func toIPInstanceMap(instances []Instance) map[string]Instance {
	m := make(map[string]Instance, 2*len(instances))
	for _, i := range instances {
		for _, ip := range []string{i.Metadata.IPv4.Public, i.Metadata.IPv4.Local} {
			if ip != "" {
				m[ip] = i
			}
		}
	}
	return m
}
