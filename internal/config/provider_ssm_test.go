package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSMClient struct {
	values  map[string]string
	err     error
	batches [][]string
}

func (f *fakeSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = (*SSMProvider)(nil)
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	provider := NewSSMProvider("us-east-1")

	result, err := provider.GetParametersBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

// TestSSMProvider_Batches verifies keys are requested ten at a time.
func TestSSMProvider_Batches(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := range 23 {
		key := fmt.Sprintf("/prod/campaigntasks/secret-%d", i)
		keys = append(keys, key)
		values[key] = fmt.Sprintf("value-%d", i)
	}
	client := &fakeSSMClient{values: values}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), keys)

	require.NoError(t, err)
	assert.Len(t, result, 23)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameter(t *testing.T) {
	client := &fakeSSMClient{values: map[string]string{"/a": "1"}}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/a", "/missing"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
}

func TestSSMProvider_ClientError(t *testing.T) {
	client := &fakeSSMClient{err: errors.New("throttled")}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestSSMProvider_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeSSMClient{values: map[string]string{"/a": "1"}}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(ctx, []string{"/a"})

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.batches)
}
