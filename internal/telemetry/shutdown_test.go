package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestShutdownAll_RunsEveryStep(t *testing.T) {
	errTracer := errors.New("exporter unreachable")
	errLogger := errors.New("batch not flushed")

	var ran []string
	step := func(name string, err error) namedShutdown {
		return namedShutdown{name, func(context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}

	err := shutdownAll(context.Background(), []namedShutdown{
		step("tracer", errTracer),
		step("meter", nil),
		step("logger", errLogger),
	})

	if strings.Join(ran, ",") != "tracer,meter,logger" {
		t.Errorf("ran = %v, want every step in order", ran)
	}
	if !errors.Is(err, errTracer) || !errors.Is(err, errLogger) {
		t.Fatalf("error = %v, want both step errors wrapped", err)
	}
	for _, want := range []string{"tracer shutdown", "logger shutdown"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to mention %q", err, want)
		}
	}
}

func TestShutdownAll_NoErrors(t *testing.T) {
	ok := func(context.Context) error { return nil }
	if err := shutdownAll(context.Background(), []namedShutdown{{"tracer", ok}, {"meter", ok}}); err != nil {
		t.Fatalf("shutdownAll() error = %v", err)
	}
}
