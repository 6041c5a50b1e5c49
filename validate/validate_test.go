package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasmus-project/esrp/protocol"
)

func validRequest() *protocol.Request {
	return &protocol.Request{
		ESRPVersion: "1.0",
		RequestID:   "req-1",
		Caller:      protocol.Caller{System: "agent-runner"},
		Target:      protocol.Target{Service: "analysis", Operation: "lint"},
		Inputs: []protocol.IO{
			{Name: "source", ContentType: "text/plain", Data: "hello", Encoding: protocol.EncodingUTF8},
		},
	}
}

func TestRequest_ValidPasses(t *testing.T) {
	require.NoError(t, Request(validRequest()))
}

func TestRequest_NilRejected(t *testing.T) {
	err := Request(nil)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrEmptyField, err.(*protocol.Error).Kind)
}

func TestRequest_VersionChecks(t *testing.T) {
	cases := []struct {
		name    string
		version string
		wantErr protocol.ErrorKind
	}{
		{"malformed no dot", "1", protocol.ErrInvalidVersionFormat},
		{"malformed non-numeric", "a.b", protocol.ErrInvalidVersionFormat},
		{"incompatible major", "2.0", protocol.ErrVersionIncompatible},
		{"compatible major, any minor", "1.9", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.ESRPVersion = tc.version
			err := Request(req)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantErr, err.(*protocol.Error).Kind)
		})
	}
}

func TestRequest_RequiredFields(t *testing.T) {
	mutators := map[string]func(*protocol.Request){
		"request_id":       func(r *protocol.Request) { r.RequestID = "" },
		"caller.system":    func(r *protocol.Request) { r.Caller.System = "" },
		"target.service":   func(r *protocol.Request) { r.Target.Service = "" },
		"target.operation": func(r *protocol.Request) { r.Target.Operation = "" },
	}
	for name, mutate := range mutators {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(req)
			err := Request(req)
			require.Error(t, err)
			assert.Equal(t, protocol.ErrEmptyField, err.(*protocol.Error).Kind)
		})
	}
}

func TestRequest_EmptyInputsRejected(t *testing.T) {
	req := validRequest()
	req.Inputs = nil
	err := Request(req)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrEmptyInputs, err.(*protocol.Error).Kind)
}

func TestRequest_InputFieldsRequired(t *testing.T) {
	req := validRequest()
	req.Inputs[0].Name = ""
	err := Request(req)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrEmptyField, err.(*protocol.Error).Kind)
}

func TestRequest_PathEncodingRequiresWellFormedURI(t *testing.T) {
	req := validRequest()
	req.Inputs[0].Encoding = protocol.EncodingPath
	req.Inputs[0].Data = "not-a-workspace-uri"
	err := Request(req)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrInvalidEncoding, err.(*protocol.Error).Kind)

	req.Inputs[0].Data = "workspace://tmp/foo.bin"
	assert.NoError(t, Request(req))
}

func TestRequest_UnknownEncodingRejected(t *testing.T) {
	req := validRequest()
	req.Inputs[0].Encoding = "gzip"
	err := Request(req)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrInvalidEncoding, err.(*protocol.Error).Kind)
}

func TestRequestAll_CollectsMultipleViolations(t *testing.T) {
	req := validRequest()
	req.RequestID = ""
	req.Target.Service = ""
	req.Inputs = nil

	errs := RequestAll(req)
	assert.Len(t, errs, 3)
}

// === RESPONSE VALIDATION ===

func validResponse() *protocol.Response {
	return &protocol.Response{
		ESRPVersion: "1.0",
		RequestID:   "req-1",
		Status:      protocol.StatusSucceeded,
	}
}

func TestResponse_ValidPasses(t *testing.T) {
	require.NoError(t, Response(validResponse()))
}

func TestResponse_FailedRequiresError(t *testing.T) {
	resp := validResponse()
	resp.Status = protocol.StatusFailed
	err := Response(resp)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrMissingError, err.(*protocol.Error).Kind)

	resp.Error = protocol.NewError(protocol.ErrTimeout, "timed out")
	assert.NoError(t, Response(resp))
}

func TestResponse_AcceptedRequiresJob(t *testing.T) {
	resp := validResponse()
	resp.Status = protocol.StatusAccepted
	err := Response(resp)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrMissingJob, err.(*protocol.Error).Kind)

	resp.Job = &protocol.Job{JobID: "job-1", State: protocol.JobQueued}
	assert.NoError(t, Response(resp))
}

func TestResponse_UnknownStatusRejected(t *testing.T) {
	resp := validResponse()
	resp.Status = "bogus"
	err := Response(resp)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrEmptyField, err.(*protocol.Error).Kind)
}

func TestResponse_ArtifactValidation(t *testing.T) {
	validHash := "abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234"
	cases := []struct {
		name     string
		artifact protocol.Artifact
		wantErr  protocol.ErrorKind
	}{
		{
			name: "valid",
			artifact: protocol.Artifact{
				ArtifactID: "art-1", Kind: protocol.ArtifactKindFile,
				URI: "workspace://run/out.bin", SHA256: validHash, SizeBytes: 10,
				Retention: protocol.RetentionRun,
			},
			wantErr: "",
		},
		{
			name: "bad uri",
			artifact: protocol.Artifact{
				URI: "not-a-uri", SHA256: validHash, SizeBytes: 10,
			},
			wantErr: protocol.ErrInvalidArtifactUri,
		},
		{
			name: "bad sha256 length",
			artifact: protocol.Artifact{
				URI: "workspace://run/out.bin", SHA256: "abc", SizeBytes: 10,
			},
			wantErr: protocol.ErrInvalidSha256,
		},
		{
			name: "zero size",
			artifact: protocol.Artifact{
				URI: "workspace://run/out.bin", SHA256: validHash, SizeBytes: 0,
			},
			wantErr: protocol.ErrZeroArtifactSize,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := validResponse()
			resp.Artifacts = []protocol.Artifact{tc.artifact}
			err := Response(resp)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantErr, err.(*protocol.Error).Kind)
		})
	}
}

// === LENIENT DECODE / STRICT VALIDATE (invariant 13) ===

func TestRequest_UnknownFieldsAreNotAValidationConcern(t *testing.T) {
	// The validator only inspects named struct fields; unknown JSON keys
	// are already dropped at decode time by encoding/json's default
	// behavior and never reach this package. A Request built purely from
	// known fields must validate regardless of what the wire payload it
	// was decoded from additionally contained.
	req := validRequest()
	req.Context = &protocol.RequestContext{Tags: map[string]any{"extra": "allowed"}}
	assert.NoError(t, Request(req))
}
