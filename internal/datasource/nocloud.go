package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/metadata"
	"gopkg.in/yaml.v2"
)

const (
	noCloudMetaData      = "meta-data"
	noCloudUserData      = "user-data"
	noCloudVendorData    = "vendor-data"
	noCloudNetworkConfig = "network-config"
)

func (r *Registry) probeNoCloud(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	return r.readLocal(ctx, log, c, noCloudMetaData, noCloudUserData, noCloudVendorData, noCloudNetworkConfig)
}

type noCloudMeta struct {
	InstanceID    string      `yaml:"instance-id"`
	LocalHostname string      `yaml:"local-hostname"`
	Hostname      string      `yaml:"hostname"`
	PublicKeys    interface{} `yaml:"public-keys"`
}

func normalizeNoCloud(raw Raw) (metadata.Metadata, error) {
	doc, ok := raw[noCloudMetaData]
	if !ok {
		return metadata.Metadata{}, malformed("missing %v", noCloudMetaData)
	}

	var meta noCloudMeta
	if err := yaml.Unmarshal(doc, &meta); err != nil {
		return metadata.Metadata{}, malformed("%v: %v", noCloudMetaData, err)
	}

	md := metadata.Metadata{
		InstanceID:    strings.TrimSpace(meta.InstanceID),
		UserData:      raw[noCloudUserData],
		VendorData:    raw[noCloudVendorData],
		NetworkConfig: raw[noCloudNetworkConfig],
	}

	md.Hostname = metadata.OptionalNonEmpty(meta.LocalHostname)
	if md.Hostname == nil {
		md.Hostname = metadata.OptionalNonEmpty(meta.Hostname)
	}

	keys, err := flattenKeys(meta.PublicKeys)
	if err != nil {
		return metadata.Metadata{}, malformed("public-keys: %v", err)
	}
	md.AddPublicKeys(keys...)

	return md, nil
}

// flattenKeys accepts a newline separated string, a list or a map of keys. Map values are
// ordered by key.
func flattenKeys(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Split(t, "\n"), nil
	case []interface{}:
		var keys []string
		for _, item := range t {
			more, err := flattenKeys(item)
			if err != nil {
				return nil, err
			}
			keys = append(keys, more...)
		}
		return keys, nil
	case map[interface{}]interface{}:
		names := make([]string, 0, len(t))
		byName := make(map[string]interface{}, len(t))
		for k, item := range t {
			name := fmt.Sprint(k)
			names = append(names, name)
			byName[name] = item
		}
		sort.Strings(names)

		var keys []string
		for _, name := range names {
			more, err := flattenKeys(byName[name])
			if err != nil {
				return nil, err
			}
			keys = append(keys, more...)
		}
		return keys, nil
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}
