// Package main provides esrpctl, a stdin/stdout JSON CLI for exercising the
// kernel's pure functions without standing up a server: canonicalization,
// hashing, fingerprinting, envelope validation, and fixture generation.
//
// Usage:
//
//	# Canonicalize a JSON value read from stdin
//	echo '{"b":1,"a":2}' | esrpctl canonicalize
//
//	# Hash a canonicalized JSON value
//	echo '{"b":1,"a":2}' | esrpctl hash
//
//	# Compute the payload fingerprint of a request record
//	cat request.json | esrpctl fingerprint
//
//	# Validate a request or response record
//	cat request.json | esrpctl validate request
//	cat response.json | esrpctl validate response
//
//	# Write golden fixtures for every *.json request record in a directory
//	esrpctl fixture ./testdata/requests
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/erasmus-project/esrp/canonical"
	"github.com/erasmus-project/esrp/fingerprint"
	"github.com/erasmus-project/esrp/protocol"
	"github.com/erasmus-project/esrp/validate"
)

const (
	cmdCanonicalize = "canonicalize"
	cmdHash         = "hash"
	cmdFingerprint  = "fingerprint"
	cmdValidate     = "validate"
	cmdFixture      = "fixture"
	cmdVersion      = "version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case cmdVersion:
		handleVersion()
	case cmdCanonicalize:
		handleCanonicalize()
	case cmdHash:
		handleHash()
	case cmdFingerprint:
		handleFingerprint()
	case cmdValidate:
		handleValidate(os.Args[2:])
	case cmdFixture:
		handleFixture(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: esrpctl <command> [args]

Commands:
  canonicalize        Read a JSON value from stdin, write its canonical bytes
  hash                Read a JSON value from stdin, write its canonical sha256
  fingerprint         Read a request record from stdin, write its payload_hash
  validate <kind>     Validate a request or response record read from stdin
                        kind is "request" or "response"
  fixture <dir>       Write canonical/<name>.json + .sha256 for every
                        <name>.json request record found in dir
  version             Print version information

Input/Output:
  All commands read JSON from stdin (except fixture, which reads a
  directory argument) and write JSON to stdout. Errors are written to
  stdout as a JSON object with "error", "code" and "message" fields, and
  the command exits non-zero.`)
}

func handleVersion() {
	writeJSON(map[string]string{
		"esrp_version": protocol.KernelVersion(),
	})
}

// handleCanonicalize reads a JSON value from stdin and writes its canonical
// encoding, raw, to stdout, followed by a single newline.
func handleCanonicalize() {
	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	value, err := canonical.Decode(input)
	if err != nil {
		writeError("decode_error", err.Error())
		os.Exit(1)
	}

	out, err := canonical.Canonicalize(value)
	if err != nil {
		writeError("canonicalize_error", err.Error())
		os.Exit(1)
	}

	os.Stdout.Write(out)
	fmt.Fprintln(os.Stdout)
}

// handleHash reads a JSON value from stdin and writes its canonical sha256
// as a JSON object.
func handleHash() {
	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	value, err := canonical.Decode(input)
	if err != nil {
		writeError("decode_error", err.Error())
		os.Exit(1)
	}

	hash, err := canonical.Hash(value)
	if err != nil {
		writeError("hash_error", err.Error())
		os.Exit(1)
	}

	writeJSON(map[string]string{"sha256": hash})
}

// handleFingerprint reads a full request record from stdin and writes the
// payload_hash its fingerprint subset would derive.
func handleFingerprint() {
	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	var req protocol.Request
	if err := json.Unmarshal(input, &req); err != nil {
		writeError("parse_error", fmt.Sprintf("invalid request JSON: %s", err.Error()))
		os.Exit(1)
	}

	hash, err := fingerprint.ComputeForRequest(&req)
	if err != nil {
		writeError("fingerprint_error", err.Error())
		os.Exit(1)
	}

	writeJSON(map[string]string{"payload_hash": hash})
}

// handleValidate reads a request or response record from stdin and reports
// whether it satisfies the validator's required-field checks.
func handleValidate(args []string) {
	if len(args) < 1 {
		writeError("usage_error", `validate requires a "request" or "response" argument`)
		os.Exit(1)
	}

	input, err := readInput()
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	var errs []error
	switch args[0] {
	case "request":
		var req protocol.Request
		if err := json.Unmarshal(input, &req); err != nil {
			writeError("parse_error", fmt.Sprintf("invalid request JSON: %s", err.Error()))
			os.Exit(1)
		}
		errs = validate.RequestAll(&req)
	case "response":
		var resp protocol.Response
		if err := json.Unmarshal(input, &resp); err != nil {
			writeError("parse_error", fmt.Sprintf("invalid response JSON: %s", err.Error()))
			os.Exit(1)
		}
		errs = validate.ResponseAll(&resp)
	default:
		writeError("usage_error", fmt.Sprintf("unknown validate kind %q, want request or response", args[0]))
		os.Exit(1)
	}

	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Error()
	}
	writeJSON(map[string]any{
		"valid":  len(errs) == 0,
		"errors": messages,
	})
}

// handleFixture reads every *.json request record in the given directory
// and writes a canonical/<name>.json + canonical/<name>.sha256 pair for
// each: the golden canonical bytes (no trailing newline) and their sha256
// in lowercase hex (also no trailing newline). Regenerating a fixture from
// its own canonical/<name>.json must reproduce the same bytes exactly.
func handleFixture(args []string) {
	if len(args) < 1 {
		writeError("usage_error", "fixture requires a directory argument")
		os.Exit(1)
	}
	dir := args[0]

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError("read_error", err.Error())
		os.Exit(1)
	}

	outDir := filepath.Join(dir, "canonical")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		writeError("write_error", err.Error())
		os.Exit(1)
	}

	written := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			writeError("read_error", err.Error())
			os.Exit(1)
		}

		value, err := canonical.Decode(raw)
		if err != nil {
			writeError("decode_error", fmt.Sprintf("%s: %s", entry.Name(), err.Error()))
			os.Exit(1)
		}
		canonicalBytes, err := canonical.Canonicalize(value)
		if err != nil {
			writeError("canonicalize_error", fmt.Sprintf("%s: %s", entry.Name(), err.Error()))
			os.Exit(1)
		}
		hash, err := canonical.Hash(value)
		if err != nil {
			writeError("hash_error", fmt.Sprintf("%s: %s", entry.Name(), err.Error()))
			os.Exit(1)
		}

		jsonPath := filepath.Join(outDir, name+".json")
		sha256Path := filepath.Join(outDir, name+".sha256")
		if err := os.WriteFile(jsonPath, canonicalBytes, 0o644); err != nil {
			writeError("write_error", err.Error())
			os.Exit(1)
		}
		if err := os.WriteFile(sha256Path, []byte(hash), 0o644); err != nil {
			writeError("write_error", err.Error())
			os.Exit(1)
		}
		written = append(written, name)
	}

	writeJSON(map[string]any{
		"fixtures_written": written,
		"output_dir":       outDir,
	})
}

// readInput reads all input from stdin.
func readInput() ([]byte, error) {
	reader := bufio.NewReader(os.Stdin)
	return io.ReadAll(reader)
}

// writeJSON writes a JSON object to stdout.
func writeJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %s\n", err.Error())
		os.Exit(1)
	}
}

// writeError writes an error response to stdout.
func writeError(code, message string) {
	writeJSON(map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	})
}
