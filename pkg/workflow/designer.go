package workflow

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileStatus is the outcome status of a designer compile attempt.
type CompileStatus string

const (
	CompileStatusValidationError CompileStatus = "validation_error"
	CompileStatusFailed          CompileStatus = "failed"
	CompileStatusCompiled        CompileStatus = "compiled"
)

// PackCompiler turns a validated designer artifact into an executable rule
// pack. The concrete compiler is out of CORE's scope (spec.md §1); only the
// contract is specified.
type PackCompiler interface {
	Compile(ctx context.Context, designerOutput map[string]interface{}, outputFormat string) (packID string, err error)
}

// OrchestratorClient submits a compiled pack as an orchestrator job. Out of
// scope collaborator; only the contract is specified.
type OrchestratorClient interface {
	SubmitJob(ctx context.Context, packID string, metadata map[string]interface{}) (jobID string, err error)
}

// CompileRequest is the input to Compile, mirroring POST /designer/compile.
type CompileRequest struct {
	DesignerOutput map[string]interface{}
	OutputFormat   string
	ValidateSchema bool
	Metadata       map[string]interface{}
}

// CompileResult is the output of a designer compile attempt. Exactly one of
// the three failure-mode shapes applies, per spec.md §4.2.
type CompileResult struct {
	Status          CompileStatus
	Errors          []string // populated iff Status == validation_error
	PackID          string   // populated iff a pack was produced (failed-orchestrator-submit still retains it)
	OrchestratorJobID string // empty if orchestrator submission failed
	Error           string   // populated iff Status == failed, or diagnostic on orchestrator submit failure
}

// Designer runs the designer-artifact compile subflow: optional schema
// validation, pack compilation, and orchestrator job submission.
type Designer struct {
	Schema       *jsonschema.Schema // nil disables validation even if ValidateSchema is requested
	Compiler     PackCompiler
	Orchestrator OrchestratorClient
}

// Compile implements spec.md §4.2's three failure modes:
//   - validation failure -> {status: validation_error, errors: [...]}, no pack produced
//   - compile failure -> failed with error
//   - orchestrator submission failure -> compiled with orchestrator_job_id=nil
//     and a diagnostic message; the pack itself is retained
func (d *Designer) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	if req.ValidateSchema && d.Schema != nil {
		if err := d.Schema.Validate(req.DesignerOutput); err != nil {
			return &CompileResult{
				Status: CompileStatusValidationError,
				Errors: []string{err.Error()},
			}, nil
		}
	}

	if d.Compiler == nil {
		return nil, fmt.Errorf("workflow: no pack compiler configured")
	}
	packID, err := d.Compiler.Compile(ctx, req.DesignerOutput, req.OutputFormat)
	if err != nil {
		return &CompileResult{
			Status: CompileStatusFailed,
			Error:  err.Error(),
		}, nil
	}

	result := &CompileResult{Status: CompileStatusCompiled, PackID: packID}

	if d.Orchestrator == nil {
		result.Error = "no orchestrator configured; pack compiled but not submitted"
		return result, nil
	}

	jobID, err := d.Orchestrator.SubmitJob(ctx, packID, req.Metadata)
	if err != nil {
		result.Error = fmt.Sprintf("orchestrator submission failed: %v", err)
		return result, nil
	}

	result.OrchestratorJobID = jobID
	return result, nil
}
