package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	err    error
	inputs []*ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v}}, nil
}

func TestNewResolver_NilAPI(t *testing.T) {
	_, err := NewResolver(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestIsReference(t *testing.T) {
	require.True(t, IsReference("ssm:/promptbridge/bot-secret"))
	require.True(t, IsReference("  ssm:/x"))
	require.False(t, IsReference("plain-secret"))
	require.False(t, IsReference(""))
	require.True(t, AnyReference("a", "", "ssm:/b"))
	require.False(t, AnyReference("a", "b"))
}

func TestResolve_PassThrough(t *testing.T) {
	api := &fakeSSM{}
	r, err := NewResolver(api)
	require.NoError(t, err)

	v, err := r.Resolve(context.Background(), "literal")
	require.NoError(t, err)
	require.Equal(t, "literal", v)
	require.Empty(t, api.inputs)
}

func TestResolve_FetchesWithDecryptionAndCaches(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/promptbridge/token": "EAAG..."}}
	r, err := NewResolver(api)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := r.Resolve(context.Background(), "ssm:/promptbridge/token")
		require.NoError(t, err)
		require.Equal(t, "EAAG...", v)
	}
	require.Len(t, api.inputs, 1, "SSM must only be called once per parameter")
	require.True(t, *api.inputs[0].WithDecryption)
}

func TestResolve_Errors(t *testing.T) {
	r, err := NewResolver(&fakeSSM{err: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "ssm:/x")
	require.ErrorContains(t, err, "AccessDenied")

	r, err = NewResolver(&fakeSSM{})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "ssm:/missing")
	require.ErrorContains(t, err, "missing value")

	_, err = r.Resolve(context.Background(), "ssm:  ")
	require.ErrorContains(t, err, "name is required")
}

func TestResolveAll(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/a": "A", "/b": "B"}}
	r, err := NewResolver(api)
	require.NoError(t, err)

	first, second, plain := "ssm:/a", "ssm:/b", "p"
	require.NoError(t, r.ResolveAll(context.Background(), &first, nil, &second, &plain))
	require.Equal(t, "A", first)
	require.Equal(t, "B", second)
	require.Equal(t, "p", plain)

	bad := "ssm:/nope"
	require.Error(t, r.ResolveAll(context.Background(), &bad))
	require.Equal(t, "ssm:/nope", bad)
}
