package main

import (
	"testing"

	"github.com/lunDreame/ha-bestin/internal/infrastructure/config"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/logging"
	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

// TestControllableClasses verifies every dispatchable class has command
// table entries on every variant, the check buildPipeline runs at startup.
func TestControllableClasses(t *testing.T) {
	variants := []wallpad.Variant{
		wallpad.VariantDefault,
		wallpad.VariantAIO,
		wallpad.VariantDimming,
	}
	for _, variant := range variants {
		if err := wallpad.VerifyClasses(controllableClasses(variant)); err != nil {
			t.Errorf("VerifyClasses(%s) error = %v", variant, err)
		}
	}
}

func TestControllableClassesDimmingLight(t *testing.T) {
	hasDimming := func(classes []wallpad.DeviceClass) bool {
		for _, c := range classes {
			if c == wallpad.ClassDimmingLight {
				return true
			}
		}
		return false
	}

	if !hasDimming(controllableClasses(wallpad.VariantDimming)) {
		t.Error("dimming variant should include the dimming light class")
	}
	if hasDimming(controllableClasses(wallpad.VariantDefault)) {
		t.Error("default variant should not include the dimming light class")
	}
}

// TestBuildPipeline exercises the startup path: generation/variant
// parsing, the dispatch-table check and dialer construction.
func TestBuildPipeline(t *testing.T) {
	bus := config.BusConfig{
		Enabled:    true,
		Endpoint:   "/dev/ttyUSB0",
		BaudRate:   9600,
		Generation: "1.0",
		Variant:    "default",
	}

	if _, err := buildPipeline(bus, wallpad.BusControl, logging.Default()); err != nil {
		t.Fatalf("buildPipeline() error = %v", err)
	}

	bus.Generation = "3.0"
	if _, err := buildPipeline(bus, wallpad.BusControl, logging.Default()); err == nil {
		t.Error("buildPipeline() with unknown generation should fail")
	}
}
