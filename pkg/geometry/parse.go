package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedPoint is returned when a point document does not match the
// point schema.
var ErrMalformedPoint = errors.New("malformed point")

const pointSchemaURL = "https://zkhotdog.schemas.local/point3d.schema.json"

const pointSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["x", "y", "z"],
  "properties": {
    "x": {"type": "number"},
    "y": {"type": "number"},
    "z": {"type": "number"}
  }
}`

var compilePointSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(pointSchemaURL, strings.NewReader(pointSchema)); err != nil {
		return nil, fmt.Errorf("point schema load failed: %w", err)
	}
	return c.Compile(pointSchemaURL)
})

// ParsePoint decodes a JSON point document such as {"x":1.5,"y":0,"z":-2}.
func ParsePoint(data []byte) (Point3D, error) {
	schema, err := compilePointSchema()
	if err != nil {
		return Point3D{}, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Point3D{}, fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Point3D{}, fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}

	var p Point3D
	if err := json.Unmarshal(data, &p); err != nil {
		return Point3D{}, fmt.Errorf("%w: %v", ErrMalformedPoint, err)
	}
	return p, nil
}
