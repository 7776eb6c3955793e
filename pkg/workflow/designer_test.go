package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileTestSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := "https://compliantcore.example/designer-test.schema.json"
	require.NoError(t, c.AddResource(schemaURL, strings.NewReader(`{
		"type": "object",
		"required": ["rules"],
		"properties": {"rules": {"type": "array"}}
	}`)))
	schema, err := c.Compile(schemaURL)
	require.NoError(t, err)
	return schema
}

type stubCompiler struct {
	packID string
	err    error
}

func (s *stubCompiler) Compile(ctx context.Context, designerOutput map[string]interface{}, outputFormat string) (string, error) {
	return s.packID, s.err
}

type stubOrchestrator struct {
	jobID string
	err   error
}

func (s *stubOrchestrator) SubmitJob(ctx context.Context, packID string, metadata map[string]interface{}) (string, error) {
	return s.jobID, s.err
}

func TestDesigner_Compile_ValidationErrorNoPackProduced(t *testing.T) {
	d := &Designer{
		Schema:   compileTestSchema(t),
		Compiler: &stubCompiler{packID: "should-not-be-used"},
	}
	result, err := d.Compile(context.Background(), CompileRequest{
		DesignerOutput: map[string]interface{}{"not_rules": true},
		ValidateSchema: true,
	})
	require.NoError(t, err)
	assert.Equal(t, CompileStatusValidationError, result.Status)
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.PackID)
}

func TestDesigner_Compile_CompileFailure(t *testing.T) {
	d := &Designer{
		Compiler: &stubCompiler{err: errors.New("compiler exploded")},
	}
	result, err := d.Compile(context.Background(), CompileRequest{
		DesignerOutput: map[string]interface{}{"rules": []interface{}{}},
	})
	require.NoError(t, err)
	assert.Equal(t, CompileStatusFailed, result.Status)
	assert.Contains(t, result.Error, "compiler exploded")
}

func TestDesigner_Compile_OrchestratorFailureRetainsPack(t *testing.T) {
	d := &Designer{
		Compiler:     &stubCompiler{packID: "pack-123"},
		Orchestrator: &stubOrchestrator{err: errors.New("queue unavailable")},
	}
	result, err := d.Compile(context.Background(), CompileRequest{
		DesignerOutput: map[string]interface{}{"rules": []interface{}{}},
	})
	require.NoError(t, err)
	assert.Equal(t, CompileStatusCompiled, result.Status)
	assert.Equal(t, "pack-123", result.PackID)
	assert.Empty(t, result.OrchestratorJobID)
	assert.Contains(t, result.Error, "orchestrator submission failed")
}

func TestDesigner_Compile_FullSuccess(t *testing.T) {
	d := &Designer{
		Schema:       compileTestSchema(t),
		Compiler:     &stubCompiler{packID: "pack-123"},
		Orchestrator: &stubOrchestrator{jobID: "job-456"},
	}
	result, err := d.Compile(context.Background(), CompileRequest{
		DesignerOutput: map[string]interface{}{"rules": []interface{}{}},
		ValidateSchema: true,
	})
	require.NoError(t, err)
	assert.Equal(t, CompileStatusCompiled, result.Status)
	assert.Equal(t, "pack-123", result.PackID)
	assert.Equal(t, "job-456", result.OrchestratorJobID)
	assert.Empty(t, result.Error)
}
