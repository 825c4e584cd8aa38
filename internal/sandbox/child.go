package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const maxRequestBytes = 8 << 20

// InvokeFunc runs one work request inside the child and returns the tool's value.
type InvokeFunc func(ctx context.Context, req WorkRequest) (any, error)

// Serve is the child side of the ProcessWorker protocol: it reads one
// WorkRequest from in, invokes it, and writes one Result to out.
// Only a failure to write the result is returned.
func Serve(ctx context.Context, in io.Reader, out io.Writer, invoke InvokeFunc) error {
	var req WorkRequest
	if err := json.NewDecoder(io.LimitReader(in, maxRequestBytes)).Decode(&req); err != nil {
		return writeResult(out, Failure("decoding work request: %v", err))
	}
	return writeResult(out, run(ctx, req, invoke))
}

func run(ctx context.Context, req WorkRequest, invoke InvokeFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure("tool panicked: %v", r)
		}
	}()

	value, err := invoke(ctx, req)
	if err != nil {
		return Failure("%v", err)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return Failure("encoding tool result: %v", err)
	}
	return Result{Success: true, Payload: payload}
}

func writeResult(out io.Writer, res Result) error {
	if err := json.NewEncoder(out).Encode(res); err != nil {
		return fmt.Errorf("writing work result: %w", err)
	}
	return nil
}
