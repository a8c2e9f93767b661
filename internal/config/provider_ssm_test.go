package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type mockSSMClient struct {
	values  map[string]string
	err     error
	batches [][]string
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.batches = append(m.batches, append([]string(nil), in.Names...))
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/prod/subsync/param_%02d", i)
		values[k] = fmt.Sprintf("v%d", i)
		keys = append(keys, k)
	}
	client := &mockSSMClient{values: values}

	result, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	if len(result) != 23 {
		t.Errorf("resolved %d values, want 23", len(result))
	}
	if len(client.batches) != 3 || len(client.batches[2]) != 3 {
		t.Errorf("batch sizes = %d batches, last=%d; want 3 batches, last=3", len(client.batches), len(client.batches[len(client.batches)-1]))
	}
}

func TestSSMProviderInvalidParameterFails(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), []string{"/a", "/b"})
	if err == nil || !strings.Contains(err.Error(), "/b") {
		t.Fatalf("expected not-found error naming /b, got %v", err)
	}
}

func TestSSMProviderClientError(t *testing.T) {
	boom := errors.New("AccessDenied")
	client := &mockSSMClient{err: boom}

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), []string{"/a"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	p := NewSSMProvider("us-east-1", "")
	result, err := p.GetParametersBatch(context.Background(), nil)
	if err != nil || result == nil || len(result) != 0 {
		t.Fatalf("expected empty non-nil map, got %v, %v", result, err)
	}
}

func TestSSMProviderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(ctx, []string{"/a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(client.batches) != 0 {
		t.Error("no SSM call should be made after cancellation")
	}
}
