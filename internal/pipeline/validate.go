package pipeline

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a Pipeline's struct-tag constraints and the cross-field
// invariants the tags cannot express: unique names, non-empty levels,
// Delta source/destination mutual-exclusion rules, and destination
// write-mode completeness.
func Validate(p *Pipeline) error {
	if err := structValidator.Struct(p); err != nil {
		return aqerrors.New(aqerrors.SchemaValidation, "validate", err)
	}

	var problems []string

	names := make(map[string]struct{})
	addName := func(kind, name string) {
		if _, dup := names[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate name %q (%s)", name, kind))
			return
		}
		names[name] = struct{}{}
	}

	for _, s := range p.Sources {
		addName("source", s.Name)
		switch s.Kind {
		case SourceFile, SourceDirectory:
			if s.Path == "" {
				problems = append(problems, fmt.Sprintf("source %q: path is required for type %q", s.Name, s.Kind))
			}
			if s.Format == "" {
				problems = append(problems, fmt.Sprintf("source %q: format is required for type %q", s.Name, s.Kind))
			}
		case SourceOdbc:
			if s.ConnectionString == "" || s.Query == "" {
				problems = append(problems, fmt.Sprintf("source %q: connection_string and query are required for odbc", s.Name))
			}
		case SourceDelta:
			if s.Path == "" {
				problems = append(problems, fmt.Sprintf("source %q: path is required for delta", s.Name))
			}
			if s.DeltaVersion != nil && s.DeltaTimestamp != nil {
				problems = append(problems, fmt.Sprintf("source %q: delta_version and delta_timestamp are mutually exclusive", s.Name))
			}
		}
	}

	stageCount := 0
	for levelIdx, level := range p.Stages {
		if len(level) == 0 {
			problems = append(problems, fmt.Sprintf("stage level %d: must have at least one stage", levelIdx))
			continue
		}
		for _, s := range level {
			stageCount++
			addName("stage", s.Name)
			if strings.TrimSpace(s.Query) == "" {
				problems = append(problems, fmt.Sprintf("stage %q: query must not be empty", s.Name))
			}
			if s.Show != nil && *s.Show < 0 {
				problems = append(problems, fmt.Sprintf("stage %q: show must be >= 0", s.Name))
			}
		}
	}

	// An empty pipeline (no stages) is only valid if its destination is
	// not in_memory and at least one source exists; otherwise there is
	// nothing for the run to produce.
	if stageCount == 0 {
		destInMemory := p.Destination != nil && p.Destination.Kind == SourceInMemory
		if destInMemory || len(p.Sources) == 0 {
			problems = append(problems, "pipeline has no stages: nothing for the destination (or a bare run) to produce")
		}
	}

	if d := p.Destination; d != nil {
		addName("destination", d.Name)
		switch d.Kind {
		case SourceInMemory:
			// no further requirements; the final dataset is registered
			// under d.Name.
		case SourceFile:
			if d.Path == "" || d.Format == "" {
				problems = append(problems, fmt.Sprintf("destination %q: path and format are required for file", d.Name))
			}
			if d.SingleFile && len(d.PartitionColumns) > 0 {
				problems = append(problems, fmt.Sprintf("destination %q: single_file requires partition_columns to be empty", d.Name))
			}
		case SourceDelta:
			if d.Path == "" {
				problems = append(problems, fmt.Sprintf("destination %q: path is required for delta", d.Name))
			}
			switch d.WriteMode {
			case WriteUpsert:
				if len(d.MergeKeys) == 0 {
					problems = append(problems, fmt.Sprintf("destination %q: merge_keys required for upsert", d.Name))
				}
			case WriteReplace:
				if len(d.Predicates) == 0 {
					problems = append(problems, fmt.Sprintf("destination %q: predicates required for replace", d.Name))
				}
			case WriteAppend:
				// no extra requirements
			case "":
				problems = append(problems, fmt.Sprintf("destination %q: write_mode is required for delta", d.Name))
			default:
				problems = append(problems, fmt.Sprintf("destination %q: write_mode %q is not valid for delta", d.Name, d.WriteMode))
			}
		case SourceOdbc:
			if d.ConnectionString == "" || d.Table == "" {
				problems = append(problems, fmt.Sprintf("destination %q: connection_string and table are required for odbc", d.Name))
			}
			switch d.WriteMode {
			case WriteAppend:
			case WriteCustom:
				if d.InsertQuery == "" {
					problems = append(problems, fmt.Sprintf("destination %q: insert is required for custom write_mode", d.Name))
				}
			default:
				problems = append(problems, fmt.Sprintf("destination %q: write_mode %q is not valid for odbc", d.Name, d.WriteMode))
			}
		default:
			problems = append(problems, fmt.Sprintf("destination %q: unsupported destination type %q", d.Name, d.Kind))
		}
	}

	if len(problems) > 0 {
		return aqerrors.Newf(aqerrors.SchemaValidation, "validate", "%s", strings.Join(problems, "; "))
	}
	return nil
}
