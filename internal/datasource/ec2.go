package datasource

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/metadata"
)

const (
	ec2TokenHeader    = "X-aws-ec2-metadata-token"
	ec2TokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	ec2TokenSkew      = time.Minute
)

// Documents of an EC2 payload, relative to /latest/.
const (
	ec2InstanceID       = "meta-data/instance-id"
	ec2LocalHostname    = "meta-data/local-hostname"
	ec2AvailabilityZone = "meta-data/placement/availability-zone"
	ec2Region           = "meta-data/placement/region"
	ec2InstanceType     = "meta-data/instance-type"
	ec2PublicKeys       = "meta-data/public-keys"
	ec2UserData         = "user-data"
)

func ec2OpenSSHKey(index string) string {
	return ec2PublicKeys + "/" + index + "/openssh-key"
}

func (r *Registry) probeEC2(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	if err := r.platformCheck(c, dmi.isEC2); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(c.Options.URL, "/") + "/latest/"

	client := r.client(log, c, fetch.WithToken(fetch.TokenConfig{
		URL:           base + "api/token",
		TTL:           c.Options.TokenTTL,
		Skew:          ec2TokenSkew,
		TTLHeader:     ec2TokenTTLHeader,
		Header:        ec2TokenHeader,
		Mode:          c.Options.TokenMode,
		AllowFallback: true,
	}))

	id, err := client.Get(ctx, base+ec2InstanceID)
	if err != nil {
		return nil, err
	}
	raw := Raw{ec2InstanceID: id}

	for _, name := range []string{ec2LocalHostname, ec2AvailabilityZone, ec2Region, ec2InstanceType, ec2PublicKeys, ec2UserData} {
		body, ok, err := getOptional(ctx, client, base+name)
		if err != nil {
			return nil, err
		}
		if ok {
			raw[name] = body
		}
	}

	for _, index := range ec2KeyIndexes(raw[ec2PublicKeys]) {
		name := ec2OpenSSHKey(index)
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

// ec2KeyIndexes parses a public-keys listing of "<index>=<name>" lines into indexes sorted
// numerically.
func ec2KeyIndexes(listing []byte) []string {
	var indexes []string
	for _, line := range strings.Split(string(listing), "\n") {
		index, _, _ := strings.Cut(strings.TrimSpace(line), "=")
		if _, err := strconv.Atoi(index); err != nil {
			continue
		}
		indexes = append(indexes, index)
	}

	sort.SliceStable(indexes, func(i, j int) bool {
		a, _ := strconv.Atoi(indexes[i])
		b, _ := strconv.Atoi(indexes[j])
		return a < b
	})

	return indexes
}

func normalizeEC2(raw Raw) (metadata.Metadata, error) {
	id, ok := raw[ec2InstanceID]
	if !ok {
		return metadata.Metadata{}, malformed("missing %v", ec2InstanceID)
	}

	md := metadata.Metadata{
		InstanceID:       strings.TrimSpace(string(id)),
		Hostname:         optionalDoc(raw, ec2LocalHostname),
		AvailabilityZone: optionalDoc(raw, ec2AvailabilityZone),
		Region:           optionalDoc(raw, ec2Region),
		InstanceType:     optionalDoc(raw, ec2InstanceType),
		UserData:         raw[ec2UserData],
	}

	if md.Region == nil && md.AvailabilityZone != nil {
		az := *md.AvailabilityZone
		if n := len(az); n > 1 && az[n-1] >= 'a' && az[n-1] <= 'z' {
			md.Region = metadata.Optional(az[:n-1])
		}
	}

	for _, index := range ec2KeyIndexes(raw[ec2PublicKeys]) {
		if key, ok := raw[ec2OpenSSHKey(index)]; ok {
			md.AddPublicKeys(string(key))
		}
	}

	return md, nil
}

// optionalDoc returns the trimmed document name, or nil if raw lacks it.
func optionalDoc(raw Raw, name string) *string {
	doc, ok := raw[name]
	if !ok {
		return nil
	}
	return metadata.Optional(strings.TrimSpace(string(doc)))
}
