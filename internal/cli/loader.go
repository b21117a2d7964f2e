package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/batteries/internal/compiler"
	"github.com/roach88/batteries/internal/model"
)

// LoadMode controls how errors are handled during type loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the record types loaded from a directory.
type LoadResult struct {
	Types     []*model.Type
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Registry indexes the loaded types by name.
func (r *LoadResult) Registry() (model.Registry, error) {
	return model.NewRegistry(r.Types...)
}

// LoadError represents an error that occurred during type loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadTypes loads and compiles the `record` definitions of the CUE package
// in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadTypes(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("types directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing types directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	// Load CUE instances
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	recordsVal := value.LookupPath(cue.ParsePath("record"))
	if recordsVal.Exists() {
		iter, iterErr := recordsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating records: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				typ, compileErr := compiler.CompileRecord(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "record."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Types = append(result.Types, typ)
			}
		}
	}

	if len(result.Types) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no record types found"})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeBadInput    = "E007" // Malformed flag or argument
	ErrCodeConfig      = "E008" // Config file or environment invalid

	// Record type compile errors
	ErrCodeRecordName  = "E120" // Missing record name
	ErrCodeAttributes  = "E121" // Missing or malformed attributes
	ErrCodeKind        = "E122" // Unknown or missing attribute kind
	ErrCodeBehavior    = "E123" // Malformed key/slug/serialize/logging block
	ErrCodeRecordRules = "E124" // Record type failed validation

	// Record operation errors
	ErrCodeConfiguration     = "E201" // Seed or configuration missing
	ErrCodeResourceExhausted = "E202" // Slug candidates exhausted
	ErrCodeSerialization     = "E203" // Value could not be serialized
	ErrCodeLogRequired       = "E204" // Write without a queued log message
	ErrCodeInvalidValue      = "E205" // Attribute value rejected
	ErrCodeRecordNotFound    = "E210" // No matching record
	ErrCodeConflict          = "E211" // Duplicate key or slug
	ErrCodeStore             = "E220" // Store or blob backend failure
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "name":
		return ErrCodeRecordName
	case "attributes":
		return ErrCodeAttributes
	case "kind":
		return ErrCodeKind
	case "key", "slug", "serialize", "logging", "keyed_on", "named_with",
		"soft_delete", "timestamps", "required", "deferred", "max_length", "srid":
		return ErrCodeBehavior
	case "record":
		return ErrCodeRecordRules
	default:
		return ErrCodeGeneric
	}
}
