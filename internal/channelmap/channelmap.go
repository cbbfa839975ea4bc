// Package channelmap loads and validates the signal -> channel-index
// mapping the VCT emitter consults (spec.md §6). A channel map is only
// meaningful for the VCT target; GASC never looks at one.
package channelmap

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aledsdavies/stilconv/internal/ast"
	"github.com/aledsdavies/stilconv/internal/errs"
)

const (
	// MaxChannelIndex is the highest addressable VCT channel slot.
	MaxChannelIndex = 255

	maxSchemaSize  = 1 << 20 // 1 MiB: a channel map is a small file
	maxSchemaDepth = 8
)

// Map is a signal name -> ordered list of channel indices (spec.md §6:
// "a mapping signal_name -> ordered list of channel indices in [0,255]").
type Map map[string][]int

// LoadCSV parses the tabular form: first row "Signal,Channel", additional
// columns are further channel indices for multi-channel signals. Grounded
// on the teacher's encoding/csv usage pattern in runtime/planner — there is
// no third-party CSV library anywhere in the pack, so this one reader is
// stdlib by necessity.
func LoadCSV(r io.Reader) (Map, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows may carry a variable number of channel columns

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errs.New(errs.ChannelMapParseError, "channel map CSV is empty")
		}
		return nil, errs.Wrap(errs.ChannelMapParseError, "reading CSV header", err)
	}
	if len(header) < 2 || header[0] != "Signal" || header[1] != "Channel" {
		return nil, errs.New(errs.ChannelMapParseError, `CSV header must start with "Signal,Channel"`)
	}

	m := make(Map)
	row := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.ChannelMapParseError, fmt.Sprintf("reading CSV row %d", row), err)
		}
		if len(record) < 2 {
			return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("row %d: missing channel column", row))
		}
		name := record[0]
		if name == "" {
			return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("row %d: missing signal name", row))
		}
		var channels []int
		for _, cell := range record[1:] {
			if cell == "" {
				return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("row %d: missing channel index", row))
			}
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("row %d: non-integer channel %q", row, cell))
			}
			channels = append(channels, n)
		}
		m[name] = channels
		row++
	}
	return m, nil
}

var jsonMapSchema = []byte(`{
	"type": "object",
	"additionalProperties": {
		"type": "array",
		"items": {"type": "integer", "minimum": 0, "maximum": 255}
	}
}`)

// LoadJSON parses the structured-text form: `{"<signal>": [<channels...>]}`,
// validated against a fixed schema before decoding (grounded on the
// teacher's Validator.compileSchema security controls: schema size/depth
// caps defend against a hostile or merely huge channel-map file).
func LoadJSON(r io.Reader) (Map, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "reading JSON channel map", err)
	}
	if len(raw) > maxSchemaSize {
		return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("channel map too large: %d bytes (max %d)", len(raw), maxSchemaSize))
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("channelmap.json", bytes.NewReader(jsonMapSchema)); err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "compiling channel-map schema", err)
	}
	schema, err := compiler.Compile("channelmap.json")
	if err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "compiling channel-map schema", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "decoding channel-map JSON", err)
	}
	if depth := measureDepth(doc, 0); depth > maxSchemaDepth {
		return nil, errs.New(errs.ChannelMapParseError, fmt.Sprintf("channel map too deeply nested: %d levels (max %d)", depth, maxSchemaDepth))
	}
	if err := schema.Validate(doc); err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "channel map failed schema validation", err)
	}

	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Wrap(errs.ChannelMapParseError, "decoding channel-map JSON", err)
	}
	return m, nil
}

func measureDepth(v interface{}, depth int) int {
	switch t := v.(type) {
	case map[string]interface{}:
		max := depth
		for _, sub := range t {
			if d := measureDepth(sub, depth+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := depth
		for _, sub := range t {
			if d := measureDepth(sub, depth+1); d > max {
				max = d
			}
		}
		return max
	default:
		return depth
	}
}

// WarningFunc receives a non-fatal channel-map warning, e.g. a STIL signal
// with no corresponding map entry, or a map entry naming an unknown signal.
type WarningFunc func(message string)

// Validate checks a loaded Map against the declared signal table: channel
// indices must be unique across signals (ChannelMapConflict is fatal),
// and any signal present in one side but not the other is warned about —
// with a fuzzy "did you mean" suggestion grounded on the teacher's
// findClosestMatch (runtime/planner/planner.go).
func Validate(m Map, signals *ast.SignalTable, warn WarningFunc) error {
	seen := make(map[int]string)
	for name, channels := range m {
		for _, ch := range channels {
			if ch < 0 || ch > MaxChannelIndex {
				return errs.New(errs.ChannelMapConflict, fmt.Sprintf("channel %d for signal %q is out of range [0,%d]", ch, name, MaxChannelIndex))
			}
			if owner, ok := seen[ch]; ok && owner != name {
				return errs.New(errs.ChannelMapConflict, fmt.Sprintf("channel %d is assigned to both %q and %q", ch, owner, name))
			}
			seen[ch] = name
		}
	}

	declared := signals.Names()
	declaredSet := make(map[string]bool, len(declared))
	for _, n := range declared {
		declaredSet[n] = true
	}

	for _, name := range declared {
		if _, ok := m[name]; !ok && warn != nil {
			warn(fmt.Sprintf("signal %q has no channel-map entry; its driven WFCs are dropped", name))
		}
	}

	mapNames := make([]string, 0, len(m))
	for name := range m {
		mapNames = append(mapNames, name)
	}
	sort.Strings(mapNames)
	for _, name := range mapNames {
		if declaredSet[name] {
			continue
		}
		if warn == nil {
			continue
		}
		if suggestion := closestMatch(name, declared); suggestion != "" {
			warn(fmt.Sprintf("channel map references unknown signal %q, did you mean %q?", name, suggestion))
		} else {
			warn(fmt.Sprintf("channel map references unknown signal %q", name))
		}
	}
	return nil
}

func closestMatch(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	return ranks[0].Target
}
