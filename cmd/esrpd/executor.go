package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erasmus-project/esrp/eventbus"
	"github.com/erasmus-project/esrp/jobfsm"
	"github.com/erasmus-project/esrp/observability"
	"github.com/erasmus-project/esrp/protocol"
	"github.com/erasmus-project/esrp/workspace"
)

// =============================================================================
// Reference Executor
// =============================================================================

// refExecutor is the reference httpbinding.Executor wired into cmd/esrpd. It
// has no opinion on what a caller's target.service/target.operation actually
// computes — it persists each input into the workspace store and returns one
// artifact per input, which is enough to exercise the full request path
// (validation, fingerprinting, job tracking, workspace I/O) end to end.
//
// A production deployment replaces refExecutor with a dispatcher that routes
// target.service/target.operation to real backend services; httpbinding's
// Executor interface is the seam for that.
type refExecutor struct {
	workspace workspace.Provider
	bus       *eventbus.Bus
	logger    Logger

	mu   sync.RWMutex
	jobs map[string]*jobfsm.Machine
}

func newRefExecutor(provider workspace.Provider, bus *eventbus.Bus, logger Logger) *refExecutor {
	return &refExecutor{
		workspace: provider,
		bus:       bus,
		logger:    logger,
		jobs:      make(map[string]*jobfsm.Machine),
	}
}

// Execute implements httpbinding.Executor.
func (e *refExecutor) Execute(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	mode := req.EffectiveMode()
	if mode.Type == protocol.ModeAsync {
		return e.executeAsync(ctx, req)
	}
	return e.executeSync(ctx, req)
}

// Job implements httpbinding.JobLookup.
func (e *refExecutor) Job(jobID string) (protocol.Job, bool) {
	e.mu.RLock()
	machine, ok := e.jobs[jobID]
	e.mu.RUnlock()
	if !ok {
		return protocol.Job{}, false
	}
	return machine.Job(), true
}

func (e *refExecutor) executeSync(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	startedAt := time.Now().UTC()
	artifacts, err := e.persistInputs(ctx, req)
	finishedAt := time.Now().UTC()
	elapsed := finishedAt.Sub(startedAt)

	status := "succeeded"
	defer func() {
		observability.RecordRequest(req.Target.Service, req.Target.Operation, status, elapsed.Seconds())
	}()

	timing := &protocol.Timing{StartedAt: &startedAt, FinishedAt: &finishedAt}

	if err != nil {
		status = "failed"
		return &protocol.Response{
			ESRPVersion: protocol.KernelVersion(),
			RequestID:   req.RequestID,
			Status:      protocol.StatusFailed,
			Error:       asResponseError(err),
			Timing:      timing,
		}, nil
	}

	return &protocol.Response{
		ESRPVersion: protocol.KernelVersion(),
		RequestID:   req.RequestID,
		Status:      protocol.StatusSucceeded,
		Artifacts:   artifacts,
		Timing:      timing,
	}, nil
}

func (e *refExecutor) executeAsync(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	jobID := uuid.New().String()
	machine := jobfsm.New(ctx, jobID, e.bus)

	e.mu.Lock()
	e.jobs[jobID] = machine
	e.mu.Unlock()

	observability.SetJobsActive(string(protocol.JobQueued), float64(e.countByState(protocol.JobQueued)))

	// Snapshot before runAsync starts so the accepted response always
	// reports the queued state the job was admitted in.
	job := machine.Job()

	go e.runAsync(machine, req)

	return &protocol.Response{
		ESRPVersion: protocol.KernelVersion(),
		RequestID:   req.RequestID,
		Status:      protocol.StatusAccepted,
		Job:         &job,
	}, nil
}

// runAsync drives a Machine through started -> succeeded/failed, detached
// from the HTTP request's context since the work outlives the request.
func (e *refExecutor) runAsync(machine *jobfsm.Machine, req *protocol.Request) {
	ctx := context.Background()
	start := time.Now()

	if err := machine.Transition(ctx, protocol.JobStarted, nil); err != nil {
		e.logger.Error("job_transition_rejected", "job_id", machine.Job().JobID, "to", "started", "err", err)
		return
	}
	observability.RecordJobTransition(string(protocol.JobQueued), string(protocol.JobStarted))

	artifacts, err := e.persistInputs(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if tErr := machine.Transition(ctx, protocol.JobFailed, map[string]any{
			"error": asResponseError(err).Message,
		}); tErr != nil {
			e.logger.Error("job_transition_rejected", "job_id", machine.Job().JobID, "to", "failed", "err", tErr)
		}
		observability.RecordJobTransition(string(protocol.JobStarted), string(protocol.JobFailed))
		observability.RecordRequest(req.Target.Service, req.Target.Operation, "failed", elapsed.Seconds())
		return
	}

	uris := make([]string, len(artifacts))
	for i, a := range artifacts {
		uris[i] = a.URI
	}
	if tErr := machine.Transition(ctx, protocol.JobSucceeded, map[string]any{"artifact_uris": uris}); tErr != nil {
		e.logger.Error("job_transition_rejected", "job_id", machine.Job().JobID, "to", "succeeded", "err", tErr)
	}
	observability.RecordJobTransition(string(protocol.JobStarted), string(protocol.JobSucceeded))
	observability.RecordRequest(req.Target.Service, req.Target.Operation, "succeeded", elapsed.Seconds())
}

func (e *refExecutor) countByState(state protocol.JobState) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, m := range e.jobs {
		if m.State() == state {
			n++
		}
	}
	return n
}

// persistInputs writes every request input into the workspace store under
// the caller's system as namespace, and returns one artifact per input.
func (e *refExecutor) persistInputs(ctx context.Context, req *protocol.Request) ([]protocol.Artifact, error) {
	namespace := req.Caller.System
	if namespace == "" {
		namespace = "anonymous"
	}

	artifacts := make([]protocol.Artifact, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		data, err := decodeIOBytes(in)
		if err != nil {
			observability.RecordWorkspaceOp("store", "error", 0)
			return nil, protocol.NewFieldError(protocol.ErrInvalidInputSemantic, in.Name, err.Error())
		}

		uri, err := e.workspace.Store(ctx, namespace, data)
		if err != nil {
			observability.RecordWorkspaceOp("store", "error", 0)
			return nil, protocol.NewError(protocol.ErrIoError, fmt.Sprintf("storing input %q: %s", in.Name, err.Error()))
		}
		observability.RecordWorkspaceOp("store", "ok", len(data))

		hash, err := e.workspace.Hash(ctx, uri)
		if err != nil {
			observability.RecordWorkspaceOp("hash", "error", 0)
			return nil, protocol.NewError(protocol.ErrIoError, fmt.Sprintf("hashing input %q: %s", in.Name, err.Error()))
		}

		artifacts = append(artifacts, protocol.Artifact{
			ArtifactID: uuid.New().String(),
			Kind:       protocol.ArtifactKindFile,
			URI:        uri.String(),
			SHA256:     hash,
			SizeBytes:  uint64(len(data)),
			Retention:  protocol.RetentionEphemeral,
		})
	}
	return artifacts, nil
}

// decodeIOBytes resolves an IO's payload to raw bytes according to its
// encoding. EncodingPath inputs are a workspace reference, not raw bytes,
// and are rejected here since the reference executor only persists data it
// is handed directly — dereferencing a caller-supplied workspace:// input
// is left to a real backend service that understands its own namespace
// conventions.
func decodeIOBytes(in protocol.IO) ([]byte, error) {
	switch in.Encoding {
	case protocol.EncodingUTF8:
		return []byte(in.Data), nil
	case protocol.EncodingBase64:
		return base64.StdEncoding.DecodeString(in.Data)
	default:
		return nil, fmt.Errorf("encoding %q is not a directly storable payload", in.Encoding)
	}
}

func asResponseError(err error) *protocol.Error {
	if kernelErr, ok := err.(*protocol.Error); ok {
		return kernelErr
	}
	return protocol.NewError(protocol.ErrUnknown, err.Error())
}
