package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://postbox.dev/schemas/"

// Schema files by message type.
var schemaByType = map[string]string{
	TypeHello:         "hello.schema.json",
	TypeWelcome:       "welcome.schema.json",
	TypeInstruction:   "instruction.schema.json",
	TypeResult:        "result.schema.json",
	TypeEvent:         "event_msg.schema.json",
	TypeEventBatchReq: "event_batch_req.schema.json",
	TypeEventBatch:    "event_batch.schema.json",
}

// Validator checks wire messages against the embedded JSON Schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	files, err := fs.Glob(schemaFS, "schemas/*.json")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		b, err := schemaFS.ReadFile(f)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+path.Base(f), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", f, err)
		}
	}
	v := &Validator{byType: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaByType {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.byType[typ] = s
	}
	return v, nil
}

// MustValidator panics when the embedded schemas do not compile.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw JSON against the schema for its "type" field.
func (v *Validator) Validate(raw []byte) error {
	base, err := DecodeBase(raw)
	if err != nil {
		return err
	}
	s, ok := v.byType[base.Type]
	if !ok {
		return fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// ValidateMessage marshals msg and validates it.
func (v *Validator) ValidateMessage(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return v.Validate(b)
}

// ValidateEvent checks a single event payload.
func (v *Validator) ValidateEvent(e Event) error {
	return v.ValidateMessage(EventMsg{Type: TypeEvent, ProtocolVersion: Version, Cursor: 1, Event: e})
}
