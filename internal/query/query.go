// Package query evaluates jq expressions against a persisted detection record.
package query

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/itchyny/gojq"
	"github.com/pkg/errors"
	"github.com/tinkerbell/sprout/internal/state"
)

// Document renders rec as the generic JSON value queries run against. Raw documents are exposed
// as strings rather than base64 so expressions such as .metadata."user-data" read naturally.
//
//	{
//	  "datasource": "ec2",
//	  "instance-id": "i-0123",
//	  "fetched-at": "2006-01-02T15:04:05Z",
//	  "metadata": {"instance-id": "i-0123", "user-data": "#cloud-config\n...", ...}
//	}
func Document(rec state.Record) (map[string]interface{}, error) {
	raw, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshal metadata")
	}

	md := make(map[string]interface{})
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}

	for key, blob := range map[string][]byte{
		"user-data":      rec.Metadata.UserData,
		"vendor-data":    rec.Metadata.VendorData,
		"network-config": rec.Metadata.NetworkConfig,
	} {
		if blob == nil {
			md[key] = nil
			continue
		}
		md[key] = string(blob)
	}

	return map[string]interface{}{
		"datasource":  rec.Datasource,
		"instance-id": rec.InstanceID,
		"fetched-at":  rec.FetchedAt.UTC().Format(time.RFC3339),
		"metadata":    md,
	}, nil
}

// Evaluate runs expr against rec. Each result is written on its own line: strings verbatim,
// everything else as JSON. Null results are omitted.
func Evaluate(expr string, rec state.Record) ([]byte, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, errors.Wrap(err, "parse query")
	}

	input, err := Document(rec)
	if err != nil {
		return nil, err
	}

	var result bytes.Buffer
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		if v == nil {
			continue
		}

		switch vv := v.(type) {
		case error:
			return nil, errors.Wrap(vv, "error while filtering with gojq")
		case string:
			result.WriteString(vv)
		default:
			marshalled, err := json.Marshal(vv)
			if err != nil {
				return nil, errors.Wrap(err, "error marshalling jq result")
			}
			result.Write(marshalled)
		}
		result.WriteRune('\n')
	}

	return bytes.TrimSuffix(result.Bytes(), []byte("\n")), nil
}
