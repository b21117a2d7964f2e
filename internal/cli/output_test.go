package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/model"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E201", "key seed attribute is null", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E201", resp.Error.Code)
	assert.Equal(t, "key seed attribute is null", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "load failed", map[string]string{"file": "post.cue"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "post.cue"}
	err := formatter.Error("E001", "load failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TreeTextIsCanonical(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Tree(map[string]any{"title": "Hello", "key": "abc", "views": int64(3)})
	require.NoError(t, err)
	assert.Equal(t, `{"key":"abc","title":"Hello","views":3}`+"\n", buf.String())
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("Processing %s", "post.cue")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Processing post.cue")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "post.cue")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Processing post.cue")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"configuration", model.NewConfigurationError("Post", "title", "key seed attribute is null"), ErrCodeConfiguration, ExitFailure},
		{"exhausted", model.NewResourceExhaustedError("Post", "slug", 100, "hello"), ErrCodeResourceExhausted, ExitFailure},
		{"serialization", model.NewSerializationError("Post", "cover", struct{}{}), ErrCodeSerialization, ExitFailure},
		{"log required", model.NewLogRequiredError("Invoice", "insert"), ErrCodeLogRequired, ExitFailure},
		{"invalid value", model.NewInvalidValueError("Post", "views", model.KindInt, "x", nil), ErrCodeInvalidValue, ExitFailure},
		{"not found", fmt.Errorf("lookup: %w", model.ErrNotFound), ErrCodeRecordNotFound, ExitFailure},
		{"conflict", fmt.Errorf("insert: %w", model.ErrConflict), ErrCodeConflict, ExitFailure},
		{"load error", &LoadError{Code: ErrCodeNotFound, Message: "missing"}, ErrCodeNotFound, ExitCommandError},
		{"store failure", errors.New("connection refused"), ErrCodeStore, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exit := classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantExit, exit)
		})
	}
}

func TestOutputFormatter_FailReportsCategory(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail("failed to insert record", model.NewLogRequiredError("Invoice", "insert"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeLogRequired, resp.Error.Code)
	assert.Equal(t, map[string]any{"category": "LOG_REQUIRED", "type": "Invoice"}, resp.Error.Details)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}
