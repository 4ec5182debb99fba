// Package feed reads ADT event feeds from YAML files.
//
// A feed file holds a list of flat event records, each with a kind
// discriminator and the fields of that kind:
//
//	name: ward-3 morning
//	source_system: PAS
//	events:
//	  - kind: admit
//	    patient_key: MRN-1
//	    encounter_key: ENC-1
//	    event_time: 2024-03-01T08:10:00Z
//	    location: ward-3
//
// Records are validated against an embedded CUE schema before they are
// decoded into ir events. A record of a kind the schema does not know is
// kept as ir.Unsupported with a warning, so the engine can reject it
// explicitly.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/admitlog/internal/ir"
)

// Issue codes.
const (
	CodeParse       = "E201" // YAML syntax or structure
	CodeSchema      = "E202" // record violates the schema
	CodeUnsupported = "E203" // kind unknown to the schema (warning)
	CodeEmpty       = "E204" // feed without events
	CodeRead        = "E205" // file cannot be read
)

// Issue is one problem found in a feed file.
type Issue struct {
	File string `json:"file"`

	// Index is the position of the record in the events list, or -1 for
	// file-level issues.
	Index   int    `json:"index"`
	Line    int    `json:"line,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

func (i Issue) Error() string {
	var b strings.Builder
	b.WriteString(i.File)
	if i.Line > 0 {
		fmt.Fprintf(&b, ":%d", i.Line)
	}
	if i.Index >= 0 {
		fmt.Fprintf(&b, ": events[%d]", i.Index)
	}
	if i.Kind != "" {
		fmt.Fprintf(&b, " (%s)", i.Kind)
	}
	fmt.Fprintf(&b, ": %s: %s", i.Code, i.Message)
	return b.String()
}

// ValidationError carries the blocking issues of a feed.
type ValidationError struct {
	File   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return e.Issues[0].Error()
	}
	return fmt.Sprintf("%s: %d issues, first: %s", e.File, len(e.Issues), e.Issues[0].Error())
}

// Feed is a decoded feed file.
type Feed struct {
	Name   string
	File   string
	Events []ir.Event

	// Warnings holds non-blocking issues such as unsupported kinds.
	Warnings []Issue
}

type document struct {
	Name         string      `yaml:"name"`
	SourceSystem string      `yaml:"source_system"`
	Events       []yaml.Node `yaml:"events"`
}

// Load reads and decodes a feed file.
func Load(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes feed data. file names the data in issues. Any blocking
// issue fails the whole feed with a ValidationError.
func Parse(file string, data []byte) (*Feed, error) {
	f, issues := parse(file, data)
	var blocking []Issue
	for _, i := range issues {
		if i.Warning {
			f.Warnings = append(f.Warnings, i)
			continue
		}
		blocking = append(blocking, i)
	}
	if len(blocking) > 0 {
		return nil, &ValidationError{File: file, Issues: blocking}
	}
	return f, nil
}

// Check returns every issue of a feed file, warnings included.
func Check(path string) []Issue {
	data, err := os.ReadFile(path)
	if err != nil {
		return []Issue{{File: path, Index: -1, Code: CodeRead, Message: err.Error()}}
	}
	_, issues := parse(path, data)
	return issues
}

func parse(file string, data []byte) (*Feed, []Issue) {
	f := &Feed{File: file}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return f, []Issue{{File: file, Index: -1, Code: CodeParse, Message: err.Error()}}
	}
	f.Name = doc.Name
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	if len(doc.Events) == 0 {
		return f, []Issue{{File: file, Index: -1, Code: CodeEmpty, Message: "feed has no events"}}
	}

	var issues []Issue
	f.Events, issues = DecodeNodes(file, doc.SourceSystem, doc.Events)
	return f, issues
}

// DecodeNodes validates and decodes event records. sourceSystem is used
// for records that name none. Records with blocking issues are left out
// of the returned events.
func DecodeNodes(file, sourceSystem string, nodes []yaml.Node) ([]ir.Event, []Issue) {
	v, err := loadValidator()
	if err != nil {
		return nil, []Issue{{File: file, Index: -1, Code: CodeSchema, Message: err.Error()}}
	}

	var (
		events []ir.Event
		issues []Issue
	)
	for i := range nodes {
		node := &nodes[i]
		issue := func(code, kind, msg string, warning bool) Issue {
			return Issue{File: file, Index: i, Line: node.Line, Kind: kind, Code: code, Message: msg, Warning: warning}
		}

		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			issues = append(issues, issue(CodeParse, "", err.Error(), false))
			continue
		}
		if _, ok := fields["source_system"]; !ok && sourceSystem != "" {
			fields["source_system"] = sourceSystem
		}
		kind, _ := fields["kind"].(string)
		if kind == "" {
			issues = append(issues, issue(CodeSchema, "", "kind is required", false))
			continue
		}

		record, err := json.Marshal(fields)
		if err != nil {
			issues = append(issues, issue(CodeParse, kind, err.Error(), false))
			continue
		}

		if !v.knows(kind) {
			issues = append(issues, issue(CodeUnsupported, kind, fmt.Sprintf("unsupported event kind %q", kind), true))
		} else if msgs := v.check(kind, record); len(msgs) > 0 {
			for _, m := range msgs {
				issues = append(issues, issue(CodeSchema, kind, m, false))
			}
			continue
		}

		ev, err := ir.DecodeEvent(record)
		if err != nil {
			issues = append(issues, issue(CodeSchema, kind, err.Error(), false))
			continue
		}
		events = append(events, ev)
	}
	return events, issues
}

// Expand resolves paths to feed files. Directories contribute their
// .yaml and .yml files in lexical order.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("feed path: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ext := filepath.Ext(path); !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}
