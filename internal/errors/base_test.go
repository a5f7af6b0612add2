package errors

import "testing"

func TestWrap(t *testing.T) {
	err := Wrap(errStream, "read frame header")
	if err.Error() != "read frame header, err: stream failure" {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errStream, "shard %s offset %d", "btcusdt", 42)
	if err.Error() != "shard btcusdt offset 42, err: stream failure" {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestIsThroughWrap(t *testing.T) {
	err := Wrap(Wrapf(errStream, "inner"), "outer")
	if !Is(err, errStream) {
		t.Fatalf("wrapped sentinel not found in chain: %+v", err)
	}
}
