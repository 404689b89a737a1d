package ec2

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tinkerbell/sprout/internal/http/httperror"
)

const publicKeysEndpoint = "/meta-data/public-keys"

type filterFunc func(i Instance) string

var dataRoutes = []struct {
	Endpoint string
	Filter   filterFunc
}{
	{
		Endpoint: "/user-data",
		Filter: func(i Instance) string {
			return i.Userdata
		},
	},
	{
		Endpoint: "/meta-data/instance-id",
		Filter: func(i Instance) string {
			return i.Metadata.InstanceID
		},
	},
	{
		Endpoint: "/meta-data/hostname",
		Filter: func(i Instance) string {
			return i.Metadata.Hostname
		},
	},
	{
		Endpoint: "/meta-data/local-hostname",
		Filter: func(i Instance) string {
			return i.Metadata.LocalHostname
		},
	},
	{
		Endpoint: "/meta-data/instance-type",
		Filter: func(i Instance) string {
			return i.Metadata.InstanceType
		},
	},
	{
		Endpoint: "/meta-data/placement/availability-zone",
		Filter: func(i Instance) string {
			return i.Metadata.AvailabilityZone
		},
	},
	{
		Endpoint: "/meta-data/placement/region",
		Filter: func(i Instance) string {
			return i.Metadata.Region
		},
	},
	{
		Endpoint: "/meta-data/tags",
		Filter: func(i Instance) string {
			return join(i.Metadata.Tags)
		},
	},
	{
		Endpoint: "/meta-data/public-ipv4",
		Filter: func(i Instance) string {
			return i.Metadata.PublicIPv4
		},
	},
	{
		Endpoint: "/meta-data/local-ipv4",
		Filter: func(i Instance) string {
			return i.Metadata.LocalIPv4
		},
	},
}

// publicKeyIndex renders the public-keys listing as index=name lines.
func publicKeyIndex(i Instance) string {
	lines := make([]string, len(i.Metadata.PublicKeys))
	for idx, k := range i.Metadata.PublicKeys {
		lines[idx] = fmt.Sprintf("%d=%s", idx, k.Name)
	}
	return join(lines)
}

func lookupKey(i Instance, index string) (PublicKey, error) {
	idx, err := strconv.Atoi(index)
	if err != nil || idx < 0 || idx >= len(i.Metadata.PublicKeys) {
		return PublicKey{}, httperror.Newf(http.StatusNotFound, "no public key at index %q", index)
	}
	return i.Metadata.PublicKeys[idx], nil
}
