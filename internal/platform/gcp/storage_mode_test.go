package gcp

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveObjectStorageConfig(t *testing.T) {
	cases := []struct {
		name         string
		mode, host   string
		wantMode     ObjectStorageMode
		wantFallback bool
		wantErr      ObjectStorageConfigErrorCode
	}{
		{name: "default gcs", wantMode: ObjectStorageModeGCS},
		{name: "explicit gcs ignores host", mode: "gcs", host: "http://fake-gcs:4443", wantMode: ObjectStorageModeGCS},
		{name: "explicit emulator", mode: "GCS_EMULATOR", host: "http://fake-gcs:4443", wantMode: ObjectStorageModeGCSEmulator},
		{name: "host implies emulator", host: "http://fake-gcs:4443", wantMode: ObjectStorageModeGCSEmulator, wantFallback: true},
		{name: "memory", mode: "memory", wantMode: ObjectStorageModeMemory},
		{name: "unknown mode", mode: "local", wantErr: ObjectStorageConfigErrorInvalidMode},
		{name: "emulator without host", mode: "gcs_emulator", wantErr: ObjectStorageConfigErrorMissingEmulatorHost},
		{name: "emulator host without scheme", mode: "gcs_emulator", host: "fake-gcs:4443", wantErr: ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ResolveObjectStorageConfig(tc.mode, tc.host)
			if tc.wantErr != "" {
				var cfgErr *ObjectStorageConfigError
				if !errors.As(err, &cfgErr) || cfgErr.Code != tc.wantErr {
					t.Fatalf("err = %v, want code %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveObjectStorageConfig: %v", err)
			}
			if cfg.Mode != tc.wantMode || cfg.CompatibilityFallback != tc.wantFallback {
				t.Fatalf("cfg = %+v, want mode=%q fallback=%v", cfg, tc.wantMode, tc.wantFallback)
			}
		})
	}
}

func TestResolveObjectStorageConfigFromEnv(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "memory")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil || cfg.Mode != ObjectStorageModeMemory || cfg.IsEmulatorMode() {
		t.Fatalf("cfg = %+v err = %v", cfg, err)
	}
	if cfg.ModeSource() != "explicit_or_default" {
		t.Fatalf("ModeSource = %q", cfg.ModeSource())
	}
}

func TestObjectStorageConfigErrorListsAllowedModes(t *testing.T) {
	msg := (&ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: "s3"}).Error()
	for _, mode := range supportedModes {
		if !strings.Contains(msg, string(mode)) {
			t.Fatalf("error message %q should list mode %q", msg, mode)
		}
	}
}
