// Package attestation reads verification evidence dropped by the
// verification client and merges it into completed measurements.
package attestation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
)

var ErrMalformed = errors.New("malformed attestation")

const schemaURL = "https://zkhotdog.schemas.local/attestation.schema.json"

const schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["attestationId"],
  "properties": {
    "attestationId": {"type": "integer", "minimum": 0},
    "merklePath": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "leafCount": {"type": "integer", "minimum": 0},
    "index": {"type": "integer", "minimum": 0}
  }
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("attestation schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
})

// Parse validates and decodes an attestation document. Absent merklePath,
// leafCount and index default to empty and zero.
func Parse(data []byte) (measurement.Attestation, error) {
	s, err := compileSchema()
	if err != nil {
		return measurement.Attestation{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return measurement.Attestation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(doc); err != nil {
		return measurement.Attestation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var a measurement.Attestation
	if err := json.Unmarshal(data, &a); err != nil {
		return measurement.Attestation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if a.MerklePath == nil {
		a.MerklePath = []string{}
	}
	if a.LeafCount > 0 && a.Index >= a.LeafCount {
		return measurement.Attestation{}, fmt.Errorf("%w: index %d outside %d leaves", ErrMalformed, a.Index, a.LeafCount)
	}
	return a, nil
}
