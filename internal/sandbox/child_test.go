package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeResult(t *testing.T, buf *bytes.Buffer) Result {
	t.Helper()
	var res Result
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("output is not a result: %v (%q)", err, buf.String())
	}
	return res
}

func TestServe(t *testing.T) {
	req := testRequest()
	in, _ := json.Marshal(req)

	tests := []struct {
		name        string
		input       string
		invoke      InvokeFunc
		wantSuccess bool
		want        string
	}{
		{
			name:  "success",
			input: string(in),
			invoke: func(_ context.Context, got WorkRequest) (any, error) {
				return map[string]any{"class": got.ClassPath}, nil
			},
			wantSuccess: true,
			want:        `{"class":"warden.tools.shell.Exec"}`,
		},
		{
			name:  "tool error",
			input: string(in),
			invoke: func(context.Context, WorkRequest) (any, error) {
				return nil, errors.New("permission denied")
			},
			want: "permission denied",
		},
		{
			name:  "tool panic",
			input: string(in),
			invoke: func(context.Context, WorkRequest) (any, error) {
				panic("nil map")
			},
			want: "tool panicked: nil map",
		},
		{
			name:  "malformed input",
			input: "{",
			invoke: func(context.Context, WorkRequest) (any, error) {
				t.Fatal("invoke must not run on malformed input")
				return nil, nil
			},
			want: "decoding work request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := Serve(context.Background(), strings.NewReader(tt.input), &out, tt.invoke); err != nil {
				t.Fatalf("Serve: %v", err)
			}
			res := decodeResult(t, &out)
			if res.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (%+v)", res.Success, tt.wantSuccess, res)
			}
			if tt.wantSuccess {
				if string(res.Payload) != tt.want {
					t.Errorf("payload = %s, want %s", res.Payload, tt.want)
				}
			} else if !strings.Contains(res.Error, tt.want) {
				t.Errorf("error = %q, want substring %q", res.Error, tt.want)
			}
		})
	}
}
