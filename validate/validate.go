// Package validate is the syscall-argument boundary for ESRP envelopes:
// every Request decoded off the wire and every Response produced by a
// backend service passes through here before the rest of the kernel ever
// sees it. Decoding stays lenient (unknown fields are ignored per §8
// invariant 13); everything that matters is enforced in this package, once,
// so the rest of the codebase can assume well-formed data.
package validate

import (
	"strconv"
	"strings"

	"github.com/erasmus-project/esrp/protocol"
	"github.com/erasmus-project/esrp/workspace"
)

// =============================================================================
// VERSION VALIDATION
// =============================================================================

// validateVersion checks esrpVersion is "<major>.<minor>" with a major
// component matching the kernel's compile-time major version. Minor version
// is informational only — the kernel does not reject on it.
func validateVersion(esrpVersion string) error {
	parts := strings.SplitN(esrpVersion, ".", 2)
	if len(parts) != 2 {
		return protocol.NewFieldError(protocol.ErrInvalidVersionFormat, "esrp_version",
			"must be formatted as <major>.<minor>")
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return protocol.NewFieldError(protocol.ErrInvalidVersionFormat, "esrp_version",
			"major component is not an integer")
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return protocol.NewFieldError(protocol.ErrInvalidVersionFormat, "esrp_version",
			"minor component is not an integer")
	}
	if major != protocol.KernelVersionMajor {
		return protocol.NewFieldError(protocol.ErrVersionIncompatible, "esrp_version",
			"major version "+parts[0]+" is incompatible with kernel major version "+strconv.Itoa(protocol.KernelVersionMajor))
	}
	return nil
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// Request validates req against §3.1/§3.2's structural rules. It returns a
// single *protocol.Error describing the first violation found; callers that
// want every violation at once should use RequestAll.
func Request(req *protocol.Request) error {
	if errs := RequestAll(req); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// RequestAll runs every Request-level check and returns all violations
// found, in a stable order. An empty slice means req is valid.
func RequestAll(req *protocol.Request) []error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if req == nil {
		collect(protocol.NewError(protocol.ErrEmptyField, "request must not be nil"))
		return errs
	}

	collect(validateVersion(req.ESRPVersion))
	collect(requireNonEmpty("request_id", req.RequestID))
	collect(requireNonEmpty("caller.system", req.Caller.System))
	collect(requireNonEmpty("target.service", req.Target.Service))
	collect(requireNonEmpty("target.operation", req.Target.Operation))

	if len(req.Inputs) == 0 {
		collect(protocol.NewFieldError(protocol.ErrEmptyInputs, "inputs", "at least one input is required"))
	}
	for i, in := range req.Inputs {
		collect(validateIO("inputs["+strconv.Itoa(i)+"]", in))
	}

	if req.Mode != nil {
		collect(validateModeType(req.Mode.Type))
	}

	return errs
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return protocol.NewFieldError(protocol.ErrEmptyField, field, "must be non-empty")
	}
	return nil
}

func validateModeType(t protocol.ModeType) error {
	switch t {
	case protocol.ModeSync, protocol.ModeAsync:
		return nil
	default:
		return protocol.NewFieldError(protocol.ErrEmptyField, "mode.type", "must be sync or async")
	}
}

func validateIO(field string, in protocol.IO) error {
	if in.Name == "" {
		return protocol.NewFieldError(protocol.ErrEmptyField, field+".name", "must be non-empty")
	}
	if in.ContentType == "" {
		return protocol.NewFieldError(protocol.ErrEmptyField, field+".content_type", "must be non-empty")
	}
	switch in.Encoding {
	case protocol.EncodingUTF8, protocol.EncodingBase64:
		// no further structural check — content is opaque to validation
	case protocol.EncodingPath:
		if _, err := workspace.Parse(in.Data); err != nil {
			return protocol.NewFieldError(protocol.ErrInvalidEncoding, field+".data",
				"encoding=path requires a well-formed workspace:// URI")
		}
	default:
		return protocol.NewFieldError(protocol.ErrInvalidEncoding, field+".encoding",
			"must be one of utf-8, base64, path")
	}
	return nil
}

// =============================================================================
// RESPONSE VALIDATION
// =============================================================================

// Response validates resp against §3.3's status-conditional rules: a
// failed Response must carry Error, an accepted Response must carry Job,
// and every Artifact must carry a well-formed URI, a 64-character hex
// SHA-256, and a non-zero size.
func Response(resp *protocol.Response) error {
	if errs := ResponseAll(resp); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ResponseAll runs every Response-level check and returns all violations.
func ResponseAll(resp *protocol.Response) []error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if resp == nil {
		collect(protocol.NewError(protocol.ErrEmptyField, "response must not be nil"))
		return errs
	}

	collect(validateVersion(resp.ESRPVersion))
	collect(requireNonEmpty("request_id", resp.RequestID))

	switch resp.Status {
	case protocol.StatusFailed:
		if resp.Error == nil {
			collect(protocol.NewFieldError(protocol.ErrMissingError, "error", "a failed response must carry an error"))
		}
	case protocol.StatusAccepted:
		if resp.Job == nil {
			collect(protocol.NewFieldError(protocol.ErrMissingJob, "job", "an accepted response must carry a job"))
		}
	case protocol.StatusSucceeded:
		// no additional required field beyond the common ones above
	default:
		collect(protocol.NewFieldError(protocol.ErrEmptyField, "status", "must be succeeded, failed, or accepted"))
	}

	for i, artifact := range resp.Artifacts {
		collect(validateArtifact("artifacts["+strconv.Itoa(i)+"]", artifact))
	}

	return errs
}

func validateArtifact(field string, a protocol.Artifact) error {
	if _, err := workspace.Parse(a.URI); err != nil {
		return protocol.NewFieldError(protocol.ErrInvalidArtifactUri, field+".uri",
			"must be a well-formed workspace:// URI")
	}
	if !isHexSHA256(a.SHA256) {
		return protocol.NewFieldError(protocol.ErrInvalidSha256, field+".sha256",
			"must be a 64-character lowercase-or-uppercase hex string")
	}
	if a.SizeBytes == 0 {
		return protocol.NewFieldError(protocol.ErrZeroArtifactSize, field+".size_bytes",
			"must be non-zero")
	}
	return nil
}

func isHexSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
