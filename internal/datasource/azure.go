package datasource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/metadata"
)

const azureAPIVersion = "2021-02-01"

// Documents of an Azure payload.
const (
	azureInstance = "metadata/instance"
	azureUserData = "metadata/instance/compute/userData"
)

func (r *Registry) probeAzure(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	if err := r.platformCheck(c, dmi.isAzure); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(c.Options.URL, "/") + "/"
	client := r.client(log, c, fetch.WithHeader("Metadata", "true"))

	doc, err := client.Get(ctx, base+azureInstance+"?api-version="+azureAPIVersion)
	if err != nil {
		return nil, err
	}
	if !json.Valid(doc) {
		return nil, fetch.Malformed(base+azureInstance, errors.New("invalid json"))
	}
	raw := Raw{azureInstance: doc}

	ud, ok, err := getOptional(ctx, client, base+azureUserData+"?api-version="+azureAPIVersion+"&format=text")
	if err != nil {
		return nil, err
	}
	if ok {
		raw[azureUserData] = ud
	}

	return raw, nil
}

type azureMeta struct {
	Compute struct {
		VMID         string `json:"vmId"`
		Name         string `json:"name"`
		ComputerName string `json:"computerName"`
		OSProfile    struct {
			ComputerName string `json:"computerName"`
		} `json:"osProfile"`
		Location   string `json:"location"`
		Zone       string `json:"zone"`
		VMSize     string `json:"vmSize"`
		PublicKeys []struct {
			KeyData string `json:"keyData"`
		} `json:"publicKeys"`
	} `json:"compute"`
}

func normalizeAzure(raw Raw) (metadata.Metadata, error) {
	doc, ok := raw[azureInstance]
	if !ok {
		return metadata.Metadata{}, malformed("missing %v", azureInstance)
	}

	var meta azureMeta
	if err := json.Unmarshal(doc, &meta); err != nil {
		return metadata.Metadata{}, malformed("%v: %v", azureInstance, err)
	}
	compute := meta.Compute

	md := metadata.Metadata{
		InstanceID:   strings.TrimSpace(compute.VMID),
		Region:       metadata.OptionalNonEmpty(compute.Location),
		InstanceType: metadata.OptionalNonEmpty(compute.VMSize),
	}

	for _, name := range []string{compute.OSProfile.ComputerName, compute.ComputerName, compute.Name} {
		if md.Hostname = metadata.OptionalNonEmpty(name); md.Hostname != nil {
			break
		}
	}

	if zone := strings.TrimSpace(compute.Zone); zone != "" && compute.Location != "" {
		md.AvailabilityZone = metadata.Optional(compute.Location + "-" + zone)
	}

	for _, k := range compute.PublicKeys {
		md.AddPublicKeys(k.KeyData)
	}

	if encoded := strings.TrimSpace(string(raw[azureUserData])); encoded != "" {
		ud, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return metadata.Metadata{}, malformed("%v: %v", azureUserData, err)
		}
		md.UserData = ud
	}

	return md, nil
}
