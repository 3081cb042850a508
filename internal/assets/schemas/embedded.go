// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so plan validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// PlotPlanSchema is the embedded plot-plan JSON schema.
//
//go:embed plot-plan.schema.json
var PlotPlanSchema []byte
