package services_test

import (
	"errors"
	"testing"

	"snag/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrNetwork, "fetch", "transfer", "download interrupted", cause)

	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected wrapped error to match ErrNetwork: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to preserve cause: %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect services.Kind
	}{
		{"resolve", services.Wrap(services.ErrResolve, "fetch", "resolve", "bad ref", nil), services.KindResolve},
		{"network", services.Wrap(services.ErrNetwork, "fetch", "transfer", "", errors.New("eof")), services.KindNetwork},
		{"format", services.Wrap(services.ErrUnsupportedFormat, "fetch", "resolve", "live stream", nil), services.KindUnsupportedFormat},
		{"codec", services.Wrap(services.ErrUnsupportedCodec, "transcode", "plan", "unknown preset", nil), services.KindUnsupportedCodec},
		{"toolchain", services.Wrap(services.ErrToolchain, "transcode", "run", "exit 1", nil), services.KindToolchain},
		{"timeout", services.Wrap(services.ErrTimeout, "transcode", "run", "deadline", nil), services.KindTimeout},
		{"delivery", services.Wrap(services.ErrDelivery, "deliver", "handoff", "", errors.New("refused")), services.KindDelivery},
		{"unknown", errors.New("unclassified"), services.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.KindOf(tc.err); got != tc.expect {
				t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.expect)
			}
		})
	}
}

func TestRetryableOnlyForNetwork(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrNetwork, "fetch", "transfer", "", nil)) {
		t.Fatal("network errors must be retryable")
	}
	for _, marker := range []error{
		services.ErrResolve,
		services.ErrUnsupportedFormat,
		services.ErrUnsupportedCodec,
		services.ErrToolchain,
		services.ErrTimeout,
		services.ErrDelivery,
	} {
		if services.Retryable(services.Wrap(marker, "stage", "op", "", nil)) {
			t.Fatalf("%v must not be retryable", marker)
		}
	}
}

func TestDetailStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrToolchain, "transcode", "run", "ffmpeg exited 1", nil)
	if got := services.Detail(err); got != "transcode: run: ffmpeg exited 1" {
		t.Fatalf("unexpected detail %q", got)
	}
	if got := services.Detail(nil); got != "" {
		t.Fatalf("expected empty detail for nil error, got %q", got)
	}
}
