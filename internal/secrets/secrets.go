// Package secrets resolves configuration values that reference AWS SSM Parameter Store.
//
// A value of the form "ssm:/promptbridge/bot-secret" is replaced by the decrypted
// parameter value; any other value is returned unchanged.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Prefix marks a value as an SSM parameter reference.
const Prefix = "ssm:"

// ssmAPI is the minimal AWS SSM interface required by Resolver.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// IsReference reports whether v names an SSM parameter.
func IsReference(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), Prefix)
}

// AnyReference reports whether any of values names an SSM parameter.
func AnyReference(values ...string) bool {
	for _, v := range values {
		if IsReference(v) {
			return true
		}
	}
	return false
}

// Resolver fetches SSM parameters once and caches them for the process lifetime.
type Resolver struct {
	api ssmAPI

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver creates a Resolver over the given SSM API implementation.
func NewResolver(api ssmAPI) (*Resolver, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &Resolver{api: api, cache: make(map[string]string)}, nil
}

// NewAWSResolver builds a Resolver using the default AWS credential chain.
// An empty region defers to the environment and shared config.
func NewAWSResolver(ctx context.Context, region string) (*Resolver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("secrets.NewAWSResolver: failed to load AWS config", "error", err)
		return nil, fmt.Errorf("secrets: load AWS config: %w", err)
	}
	return NewResolver(ssm.NewFromConfig(cfg))
}

// Resolve returns the parameter value for an "ssm:" reference, or v unchanged.
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	if !IsReference(v) {
		return v, nil
	}
	name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), Prefix))
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}

	r.mu.Lock()
	if cached, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	withDecryption := true
	out, err := r.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", name)
	}

	value := *out.Parameter.Value
	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	slog.Debug("secrets.Resolver: resolved parameter", "name", name)
	return value, nil
}

// ResolveAll resolves each pointed-to value in place. It stops at the first error.
func (r *Resolver) ResolveAll(ctx context.Context, targets ...*string) error {
	for _, target := range targets {
		if target == nil {
			continue
		}
		resolved, err := r.Resolve(ctx, *target)
		if err != nil {
			return err
		}
		*target = resolved
	}
	return nil
}
