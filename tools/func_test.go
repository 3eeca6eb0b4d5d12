package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"
)

type lookupArgs struct {
	City string `json:"city" jsonschema:"City to look up"`
	Kind string `json:"kind,omitempty" jsonschema:"Optional category"`
}

func newLookupTool(t *testing.T) *FuncTool[lookupArgs] {
	t.Helper()
	tool, err := NewFunc("lookup", "Look up a city", func(_ context.Context, args lookupArgs) (string, error) {
		if args.City == "nowhere" {
			return "", errors.New("unknown city")
		}
		return strings.ToUpper(args.City) + "/" + args.Kind, nil
	})
	if err != nil {
		t.Fatalf("NewFunc failed: %v", err)
	}
	return tool
}

func TestNewFuncMetadata(t *testing.T) {
	meta := newLookupTool(t).Metadata()

	if meta.Name != "lookup" {
		t.Errorf("expected name 'lookup', got '%s'", meta.Name)
	}
	if len(meta.Parameters) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(meta.Parameters))
	}
	want := ToolParameter{Name: "city", ParamType: "string", Description: "City to look up", Required: true}
	if meta.Parameters[0] != want {
		t.Errorf("expected %+v, got %+v", want, meta.Parameters[0])
	}
	if meta.Parameters[1].Required {
		t.Error("expected kind to be optional")
	}
	if meta.Schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", meta.Schema["type"])
	}
}

func TestNewFuncRejectsNonStruct(t *testing.T) {
	_, err := NewFunc("bad", "not a struct", func(_ context.Context, s string) (string, error) { return s, nil })
	if err == nil {
		t.Error("expected error for non-struct arguments")
	}
}

func TestFuncToolValidate(t *testing.T) {
	tool := newLookupTool(t)

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{name: "valid", args: `{"city":"Paris"}`},
		{name: "valid with optional", args: `{"city":"Paris","kind":"museums"}`},
		{name: "missing required", args: `{"kind":"museums"}`, wantErr: true},
		{name: "wrong type", args: `{"city":42}`, wantErr: true},
		{name: "not an object", args: `[1,2]`, wantErr: true},
		{name: "empty", args: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.Validate(json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%s) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestFuncToolExecute(t *testing.T) {
	tool := newLookupTool(t)
	ctx := context.Background()

	result, err := tool.Execute(ctx, json.RawMessage(`{"city":"paris","kind":"food"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success() || result.Output != "PARIS/food" {
		t.Errorf("unexpected result %+v", result)
	}

	result, err = tool.Execute(ctx, json.RawMessage(`{"city":"nowhere"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	if result.Error.Error() != "unknown city" {
		t.Errorf("expected 'unknown city', got %q", result.Error)
	}
}

func TestDefinitions(t *testing.T) {
	reg, err := NewRegistryWith(newLookupTool(t), &flakyTool{name: "flaky"})
	if err != nil {
		t.Fatalf("NewRegistryWith failed: %v", err)
	}

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}

	if defs[0].Name != "flaky" || defs[0].Parameters["type"] != "object" {
		t.Errorf("unexpected first definition: %+v", defs[0])
	}
	if got := fmt.Sprint(defs[0].Parameters["required"]); got != "[input]" {
		t.Errorf("expected required [input], got %s", got)
	}

	if defs[1].Name != "lookup" {
		t.Errorf("expected lookup second, got %s", defs[1].Name)
	}
	props, ok := defs[1].Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %T", defs[1].Parameters["properties"])
	}
	if _, ok := props["city"]; !ok {
		t.Error("expected city property")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newLookupTool(t)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(newLookupTool(t)); err == nil {
		t.Error("expected duplicate name to be rejected")
	}

	if !reg.Has("lookup") {
		t.Error("expected lookup to be registered")
	}
	if names := reg.Names(); !slices.Equal(names, []string{"lookup"}) {
		t.Errorf("expected [lookup], got %v", names)
	}

	desc := reg.Description()
	if !strings.Contains(desc, "Tool: lookup") {
		t.Errorf("description lacks tool name:\n%s", desc)
	}
	if !strings.Contains(desc, "city (string): City to look up [required]") {
		t.Errorf("description lacks parameter:\n%s", desc)
	}
}

func TestToolResultJSON(t *testing.T) {
	tests := []struct {
		result ToolResult
		want   map[string]any
	}{
		{FailureResultf("boom %d", 1), map[string]any{"success": false, "output": "", "error": "boom 1"}},
		{SuccessResult("ok"), map[string]any{"success": true, "output": "ok"}},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.result)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("expected %v, got %s", tt.want, raw)
		}
	}
}
