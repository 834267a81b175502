package tiler

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starfield-io/skytile/pyramid"
	"github.com/starfield-io/skytile/storage"
	"github.com/starfield-io/skytile/toast"
)

// buildRequestSchema validates the JSON build requests workflow
// systems submit.  Angles are degrees here, unlike the radians used
// everywhere in-process, because the requests are written by people.
const buildRequestSchema = `{
	"type": "object",
	"required": ["depth", "store"],
	"additionalProperties": false,
	"properties": {
		"depth":           {"type": "integer", "minimum": 0, "maximum": 30},
		"store":           {"type": "string", "minLength": 1},
		"format":          {"type": "string", "enum": ["png", "jpg", "jpeg", "tiff", "f32"]},
		"base_level_only": {"type": "boolean"},
		"top_layer":       {"type": "integer", "minimum": 0, "maximum": 30},
		"overwrite":       {"type": "boolean"},
		"parallelism":     {"type": "integer", "minimum": 0},
		"bbox": {
			"type": "object",
			"required": ["ra_min_deg", "ra_max_deg", "dec_min_deg", "dec_max_deg"],
			"additionalProperties": false,
			"properties": {
				"ra_min_deg":  {"type": "number"},
				"ra_max_deg":  {"type": "number"},
				"dec_min_deg": {"type": "number", "minimum": -90, "maximum": 90},
				"dec_max_deg": {"type": "number", "minimum": -90, "maximum": 90}
			}
		},
		"ancestor": {"type": "string", "pattern": "^[0-9]+[/,][0-9]+[/,][0-9]+$"}
	}
}`

var compiledRequestSchema = jsonschema.MustCompileString("build-request.json", buildRequestSchema)

// BBoxSpec is a sky rectangle in degrees.  RAMinDeg > RAMaxDeg means
// the interval crosses the 0/360 seam.
type BBoxSpec struct {
	RAMinDeg  float64 `json:"ra_min_deg"`
	RAMaxDeg  float64 `json:"ra_max_deg"`
	DecMinDeg float64 `json:"dec_min_deg"`
	DecMaxDeg float64 `json:"dec_max_deg"`
}

// BuildRequest is a validated build description.  Store names an alias
// in the accompanying run configuration; Bbox and Ancestor, alone or
// together, restrict the build region.
type BuildRequest struct {
	Depth         int       `json:"depth"`
	Store         string    `json:"store"`
	Format        string    `json:"format,omitempty"`
	BaseLevelOnly bool      `json:"base_level_only,omitempty"`
	TopLayer      uint8     `json:"top_layer,omitempty"`
	Overwrite     bool      `json:"overwrite,omitempty"`
	Parallelism   int       `json:"parallelism,omitempty"`
	Bbox          *BBoxSpec `json:"bbox,omitempty"`
	Ancestor      string    `json:"ancestor,omitempty"`
}

// ParseBuildRequest checks a JSON build request against the embedded
// schema and decodes it.  Failures wrap ErrConfig.
func ParseBuildRequest(data []byte) (BuildRequest, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return BuildRequest{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := compiledRequestSchema.Validate(v); err != nil {
		return BuildRequest{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	var r BuildRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return BuildRequest{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return r, nil
}

// StoreAlias is the run-configuration alias the request builds into.
func (r BuildRequest) StoreAlias() storage.Alias {
	return storage.Alias(r.Store)
}

// Config assembles the build configuration the request describes,
// including the region filter from its bbox and ancestor clauses.
func (r BuildRequest) Config() (Config, error) {
	cfg := Config{
		BaseLevelOnly: r.BaseLevelOnly,
		TopLayer:      r.TopLayer,
		Overwrite:     r.Overwrite,
		Parallelism:   r.Parallelism,
		Format:        r.Format,
	}
	var filters []pyramid.Filter
	if r.Bbox != nil {
		const d2r = math.Pi / 180
		filters = append(filters, toast.BBoxFilter(
			r.Bbox.RAMinDeg*d2r, r.Bbox.RAMaxDeg*d2r,
			r.Bbox.DecMinDeg*d2r, r.Bbox.DecMaxDeg*d2r))
	}
	if r.Ancestor != "" {
		root, err := pyramid.ParseCoord(r.Ancestor)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ancestor: %v", ErrConfig, err)
		}
		if int(root.Depth) > r.Depth {
			return Config{}, fmt.Errorf("%w: ancestor %s deeper than build depth %d", ErrConfig, root, r.Depth)
		}
		filters = append(filters, pyramid.AncestorFilter(root))
	}
	switch len(filters) {
	case 0:
	case 1:
		cfg.Filter = filters[0]
	default:
		cfg.Filter = pyramid.And(filters...)
	}
	return cfg, nil
}
