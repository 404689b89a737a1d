package datasource

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/fetch"
	"github.com/tinkerbell/sprout/internal/metadata"
)

const (
	gceFlavorHeader = "Metadata-Flavor"
	gceFlavor       = "Google"
)

// Documents of a GCE payload, relative to the metadata base URL.
const (
	gceInstanceID          = "instance/id"
	gceHostname            = "instance/hostname"
	gceZone                = "instance/zone"
	gceMachineType         = "instance/machine-type"
	gceUserData            = "instance/attributes/user-data"
	gceStartupScript       = "instance/attributes/startup-script"
	gceInstanceSSHKeys     = "instance/attributes/ssh-keys"
	gceBlockProjectSSHKeys = "instance/attributes/block-project-ssh-keys"
	gceProjectSSHKeys      = "project/attributes/ssh-keys"
)

var errNotGoogle = errors.New("response is not from a Google metadata server")

func gceResponseCheck(resp *http.Response) error {
	if resp.Header.Get(gceFlavorHeader) != gceFlavor {
		return errNotGoogle
	}
	return nil
}

func (r *Registry) probeGCE(ctx context.Context, log logr.Logger, c Candidate) (Raw, error) {
	if err := r.platformCheck(c, dmi.isGCE); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(c.Options.URL, "/") + "/"

	client := r.client(log, c,
		fetch.WithHeader(gceFlavorHeader, gceFlavor),
		fetch.WithResponseCheck(gceResponseCheck),
	)

	id, err := client.Get(ctx, base+gceInstanceID)
	if err != nil {
		return nil, err
	}
	raw := Raw{gceInstanceID: id}

	optional := []string{
		gceHostname,
		gceZone,
		gceMachineType,
		gceUserData,
		gceStartupScript,
		gceInstanceSSHKeys,
		gceBlockProjectSSHKeys,
		gceProjectSSHKeys,
	}
	for _, name := range optional {
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

func normalizeGCE(raw Raw) (metadata.Metadata, error) {
	id, ok := raw[gceInstanceID]
	if !ok {
		return metadata.Metadata{}, malformed("missing %v", gceInstanceID)
	}

	md := metadata.Metadata{
		InstanceID: strings.TrimSpace(string(id)),
		Hostname:   optionalDoc(raw, gceHostname),
	}

	if zone := optionalDoc(raw, gceZone); zone != nil {
		az := lastSegment(*zone)
		md.AvailabilityZone = metadata.Optional(az)
		if i := strings.LastIndex(az, "-"); i > 0 {
			md.Region = metadata.Optional(az[:i])
		}
	}

	if mt := optionalDoc(raw, gceMachineType); mt != nil {
		md.InstanceType = metadata.Optional(lastSegment(*mt))
	}

	if ud, ok := raw[gceUserData]; ok {
		md.UserData = ud
	} else if script, ok := raw[gceStartupScript]; ok {
		md.UserData = script
	}

	md.AddPublicKeys(gceSSHKeys(raw[gceInstanceSSHKeys])...)
	if !strings.EqualFold(strings.TrimSpace(string(raw[gceBlockProjectSSHKeys])), "true") {
		md.AddPublicKeys(gceSSHKeys(raw[gceProjectSSHKeys])...)
	}

	return md, nil
}

func lastSegment(s string) string {
	return s[strings.LastIndex(s, "/")+1:]
}

// gceSSHKeys parses "user:key" lines, dropping the user prefix.
func gceSSHKeys(doc []byte) []string {
	var keys []string
	for _, line := range strings.Split(string(doc), "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, ":"); i > 0 && !strings.ContainsAny(line[:i], " \t") {
			line = line[i+1:]
		}
		keys = append(keys, line)
	}
	return keys
}
