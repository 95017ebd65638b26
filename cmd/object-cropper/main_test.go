package main

import (
	"context"
	"reflect"
	"testing"

	"github.com/menta2k/object-cropper/internal/config"
)

func TestSplitList(t *testing.T) {
	got := splitList(" glasses, ,Sunglasses,goggles ")
	want := []string{"glasses", "Sunglasses", "goggles"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := splitList(""); len(got) != 0 {
		t.Errorf("Expected empty list, got %v", got)
	}
}

func TestNewLocalizerModelBackends(t *testing.T) {
	cfg := config.Default()

	for _, backend := range []string{config.BackendOllama, config.BackendLlamaCpp} {
		cfg.Detection.Backend = backend
		c, closeFn, err := newLocalizer(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%s: newLocalizer failed: %v", backend, err)
		}
		if c == nil {
			t.Errorf("%s: expected a client", backend)
		}
		closeFn()
	}

	cfg.Detection.Backend = "rekognition"
	if _, _, err := newLocalizer(context.Background(), cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
