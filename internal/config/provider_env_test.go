package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderResolvesSetVariables(t *testing.T) {
	var _ SecretProvider = NewEnvVarProvider()

	t.Setenv("SUBSYNC_TEST_SECRET_A", "alpha")

	result, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{
		"SUBSYNC_TEST_SECRET_A",
		"SUBSYNC_TEST_SECRET_MISSING",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch returned unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 result, got %v", result)
	}
	if result["SUBSYNC_TEST_SECRET_A"] != "alpha" {
		t.Errorf("result = %v", result)
	}
}
