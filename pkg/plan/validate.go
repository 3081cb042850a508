package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/phoenix-pocx/phoenixd/internal/assets/schemas"
)

// SchemaID is the schema identifier for plot plans.
const SchemaID = "phoenixd/v1.0.0/plot-plan"

var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("plan schema not found")

	// ErrValidationFailed indicates the plan failed validation.
	ErrValidationFailed = errors.New("plan validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/items/3/units").
	Path string

	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "plan validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a typed plan against the schema and the structural rules
// the schema cannot express.
func Validate(p *Plan) error {
	if p == nil {
		return ValidationErrors{{Message: "plan is nil"}}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize plan for validation: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	return checkStructure(p)
}

// ValidateRaw checks raw JSON data against the embedded plan schema,
// including rejection of unknown fields.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// checkStructure enforces that items of one batch are contiguous. A batch
// split by another item would run as two engine invocations.
func checkStructure(p *Plan) error {
	var errs ValidationErrors
	seen := make(map[uint32]int)
	for i, it := range p.Items {
		if !it.Type.Valid() {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/items/%d/type", i),
				Message: fmt.Sprintf("unknown item type %q", it.Type),
			})
			continue
		}
		id, ok := it.Batch()
		if !ok {
			continue
		}
		if last, found := seen[id]; found && last != i-1 {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/items/%d/batchId", i),
				Message: fmt.Sprintf("batch %d is not contiguous (previous item at %d)", id, last),
			})
		}
		seen[id] = i
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.PlotPlanSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded plot-plan schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.PlotPlanSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile plan schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
