package datasource

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/metadata"
)

const (
	openStackMetaData    = "openstack/latest/meta_data.json"
	openStackUserData    = "openstack/latest/user_data"
	openStackVendorData  = "openstack/latest/vendor_data.json"
	openStackNetworkData = "openstack/latest/network_data.json"
)

func (r *Registry) probeConfigDrive(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	return r.readLocal(ctx, log, c, openStackMetaData, openStackUserData, openStackVendorData, openStackNetworkData)
}

func (r *Registry) probeOpenStack(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	if err := r.platformCheck(c, dmi.isOpenStack); err != nil {
		return nil, err
	}

	client := r.client(log, c)
	base := strings.TrimSuffix(c.Options.URL, "/") + "/"

	doc, err := client.Get(ctx, base+openStackMetaData)
	if err != nil {
		return nil, err
	}

	raw := Raw{openStackMetaData: doc}
	for _, name := range []string{openStackUserData, openStackVendorData, openStackNetworkData} {
		body, ok, err := getOptional(ctx, client, base+name)
		if err != nil {
			return nil, err
		}
		if ok {
			raw[name] = body
		}
	}

	return raw, nil
}

type openStackMeta struct {
	UUID             string            `json:"uuid"`
	Hostname         string            `json:"hostname"`
	Name             string            `json:"name"`
	AvailabilityZone string            `json:"availability_zone"`
	PublicKeys       map[string]string `json:"public_keys"`
}

func normalizeOpenStack(raw Raw) (metadata.Metadata, error) {
	doc, ok := raw[openStackMetaData]
	if !ok {
		return metadata.Metadata{}, malformed("missing %v", openStackMetaData)
	}

	var meta openStackMeta
	if err := json.Unmarshal(doc, &meta); err != nil {
		return metadata.Metadata{}, malformed("%v: %v", openStackMetaData, err)
	}

	md := metadata.Metadata{
		InstanceID:       strings.TrimSpace(meta.UUID),
		AvailabilityZone: metadata.OptionalNonEmpty(meta.AvailabilityZone),
		UserData:         raw[openStackUserData],
		VendorData:       raw[openStackVendorData],
		NetworkConfig:    raw[openStackNetworkData],
	}

	md.Hostname = metadata.OptionalNonEmpty(meta.Hostname)
	if md.Hostname == nil {
		md.Hostname = metadata.OptionalNonEmpty(meta.Name)
	}

	names := make([]string, 0, len(meta.PublicKeys))
	for name := range meta.PublicKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		md.AddPublicKeys(meta.PublicKeys[name])
	}

	return md, nil
}
