// Package protocol holds the ESRP typed data model: the request/response
// envelope, artifacts, jobs, and the closed error taxonomy. Types here are
// pure data — validation lives in the validate package, canonicalization
// and hashing in the canonical and fingerprint packages.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// KernelVersionMajor and KernelVersionMinor are the kernel's own compile-time
// version. Per the configuration surface, this is the only version the
// kernel carries — requests are checked for major-version compatibility
// against it.
const (
	KernelVersionMajor = 1
	KernelVersionMinor = 0
)

// KernelVersion renders the compile-time kernel version as "major.minor".
func KernelVersion() string {
	return formatVersion(KernelVersionMajor, KernelVersionMinor)
}

// Caller identifies who issued a Request.
type Caller struct {
	System  string `json:"system"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// Clone returns a deep copy.
func (c Caller) Clone() Caller {
	return c
}

// Target names the service operation a Request invokes.
type Target struct {
	Service   string  `json:"service"`
	Operation string  `json:"operation"`
	Variant   *string `json:"variant,omitempty"`
}

// Clone returns a deep copy.
func (t Target) Clone() Target {
	clone := t
	if t.Variant != nil {
		v := *t.Variant
		clone.Variant = &v
	}
	return clone
}

// Encoding is the interpretation carried by an Input or Output's Data field.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
	EncodingPath   Encoding = "path"
)

// IO is a named typed payload shared by Request.Inputs and Response.Outputs.
// When Encoding is EncodingPath, Data is expected to hold a workspace:// URI.
type IO struct {
	Name        string         `json:"name"`
	ContentType string         `json:"content_type"`
	Data        string         `json:"data"`
	Encoding    Encoding       `json:"encoding"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy.
func (io IO) Clone() IO {
	clone := io
	clone.Metadata = deepCopyAnyMap(io.Metadata)
	return clone
}

func cloneIOSlice(ios []IO) []IO {
	if ios == nil {
		return nil
	}
	out := make([]IO, len(ios))
	for i, v := range ios {
		out[i] = v.Clone()
	}
	return out
}

// ModeType selects synchronous vs. asynchronous execution for a Request.
type ModeType string

const (
	ModeSync  ModeType = "sync"
	ModeAsync ModeType = "async"
)

// Mode controls execution semantics. The zero value is never valid on its
// own; use DefaultMode for the documented default.
type Mode struct {
	Type      ModeType `json:"type"`
	TimeoutMS int64    `json:"timeout_ms"`
}

// DefaultMode is the Request.Mode default: synchronous with a 10-minute
// timeout.
func DefaultMode() Mode {
	return Mode{Type: ModeSync, TimeoutMS: 600_000}
}

// RequestContext carries observability linkage, independent of business
// causation (see Request.CausationID).
type RequestContext struct {
	TraceID string         `json:"trace_id,omitempty"`
	SpanID  string         `json:"span_id,omitempty"`
	Tags    map[string]any `json:"tags,omitempty"`
}

// Clone returns a deep copy.
func (c *RequestContext) Clone() *RequestContext {
	if c == nil {
		return nil
	}
	return &RequestContext{
		TraceID: c.TraceID,
		SpanID:  c.SpanID,
		Tags:    deepCopyAnyMap(c.Tags),
	}
}

// Request represents a single invocation. It becomes immutable once
// serialized; callers must Clone before mutating a decoded instance they
// intend to keep using independently.
type Request struct {
	ESRPVersion string    `json:"esrp_version"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
	Caller      Caller    `json:"caller"`
	Target      Target    `json:"target"`
	Inputs      []IO      `json:"inputs"`
	Params      any       `json:"params,omitempty"`

	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
	ScopeID         string           `json:"scope_id,omitempty"`
	CausationID     string           `json:"causation_id,omitempty"`
	PayloadHash     string           `json:"payload_hash,omitempty"`
	Mode            *Mode            `json:"mode,omitempty"`
	Context         *RequestContext  `json:"context,omitempty"`
	ParamsSchemaRef string           `json:"params_schema_ref,omitempty"`
}

// UnmarshalJSON decodes a Request, routing Params through a json.Decoder
// with UseNumber() so integer-valued params survive as json.Number instead
// of being promoted to float64 by the default decoder. Without this, every
// JSON number in Params — including plain integers like {"rate":1} —
// would canonicalize as a rejected float (see canonical.Canonicalize),
// breaking fingerprinting and idempotency for any request with numeric
// params, which spec §3.1/§9 explicitly allow.
func (r *Request) UnmarshalJSON(data []byte) error {
	type rawRequest struct {
		ESRPVersion string          `json:"esrp_version"`
		RequestID   string          `json:"request_id"`
		Timestamp   time.Time       `json:"timestamp"`
		Caller      Caller          `json:"caller"`
		Target      Target          `json:"target"`
		Inputs      []IO            `json:"inputs"`
		Params      json.RawMessage `json:"params,omitempty"`

		IdempotencyKey  string          `json:"idempotency_key,omitempty"`
		ScopeID         string          `json:"scope_id,omitempty"`
		CausationID     string          `json:"causation_id,omitempty"`
		PayloadHash     string          `json:"payload_hash,omitempty"`
		Mode            *Mode           `json:"mode,omitempty"`
		Context         *RequestContext `json:"context,omitempty"`
		ParamsSchemaRef string          `json:"params_schema_ref,omitempty"`
	}

	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	params, err := decodeNumberPreserving(raw.Params)
	if err != nil {
		return err
	}

	r.ESRPVersion = raw.ESRPVersion
	r.RequestID = raw.RequestID
	r.Timestamp = raw.Timestamp
	r.Caller = raw.Caller
	r.Target = raw.Target
	r.Inputs = raw.Inputs
	r.Params = params
	r.IdempotencyKey = raw.IdempotencyKey
	r.ScopeID = raw.ScopeID
	r.CausationID = raw.CausationID
	r.PayloadHash = raw.PayloadHash
	r.Mode = raw.Mode
	r.Context = raw.Context
	r.ParamsSchemaRef = raw.ParamsSchemaRef
	return nil
}

// decodeNumberPreserving decodes raw into the dynamic tree canonicalize
// expects, representing every JSON number as json.Number rather than
// float64 so integer-valued numbers don't collapse into the rejected
// float representation. Returns nil for absent or literal-null input.
func decodeNumberPreserving(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// EffectiveMode returns Request.Mode, or DefaultMode if unset.
func (r *Request) EffectiveMode() Mode {
	if r.Mode != nil {
		return *r.Mode
	}
	return DefaultMode()
}

// Clone returns a deep copy of the Request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Caller = r.Caller.Clone()
	clone.Target = r.Target.Clone()
	clone.Inputs = cloneIOSlice(r.Inputs)
	clone.Params = deepCopyValue(r.Params)
	if r.Mode != nil {
		m := *r.Mode
		clone.Mode = &m
	}
	clone.Context = r.Context.Clone()
	return &clone
}

// FingerprintSubset is the {target, inputs, params} triple that the
// Payload Fingerprint component hashes. It is exposed here so the
// fingerprint package can build it from a Request without duplicating
// field selection.
type FingerprintSubset struct {
	Target Target `json:"target"`
	Inputs []IO   `json:"inputs"`
	Params any    `json:"params"`
}

// FingerprintSubset extracts the hashed subset of the Request.
func (r *Request) FingerprintSubset() FingerprintSubset {
	return FingerprintSubset{
		Target: r.Target.Clone(),
		Inputs: cloneIOSlice(r.Inputs),
		Params: deepCopyValue(r.Params),
	}
}

// Status is the closed set of Response outcomes.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAccepted  Status = "accepted"
)

// Timing carries start/finish instants for a Response.
type Timing struct {
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy.
func (t *Timing) Clone() *Timing {
	if t == nil {
		return nil
	}
	clone := Timing{}
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		clone.FinishedAt = &v
	}
	return &clone
}

// Response is produced once by the executing service and is immutable
// thereafter. See §3.3 for the status-conditional invariants enforced by
// the validate package.
type Response struct {
	ESRPVersion string     `json:"esrp_version"`
	RequestID   string     `json:"request_id"`
	Status      Status     `json:"status"`
	Timing      *Timing    `json:"timing,omitempty"`
	Outputs     []IO       `json:"outputs,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Job         *Job       `json:"job,omitempty"`
	Error       *Error     `json:"error,omitempty"`
}

// Clone returns a deep copy of the Response.
func (resp *Response) Clone() *Response {
	if resp == nil {
		return nil
	}
	clone := *resp
	clone.Timing = resp.Timing.Clone()
	clone.Outputs = cloneIOSlice(resp.Outputs)
	clone.Artifacts = cloneArtifactSlice(resp.Artifacts)
	clone.Job = resp.Job.Clone()
	clone.Error = resp.Error.Clone()
	return &clone
}

func formatVersion(major, minor int) string {
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}
