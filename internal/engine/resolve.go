package engine

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/storage"
)

// referencePattern matches the four bracketed reference forms a variable
// value may contain: kind{{key}}.
var referencePattern = regexp.MustCompile(`(pipeline_secret|global_secret|pipeline_object|run_object)\{\{([^}]+)\}\}`)

// resolveScope carries the identifiers needed to resolve a reference in a
// value for one task execution.
type resolveScope struct {
	namespaceID string
	pipelineID  string
	runID       int64
	// allowGlobalSecret is false when resolving pipeline-config variables,
	// where global_secret references are forbidden (spec: caught at
	// registration as InvalidConfig, not at run time).
	allowGlobalSecret bool
}

// resolve substitutes every bracketed reference in text, using scope to
// qualify pipeline- and run-owned lookups. A value containing no references
// is returned unchanged without touching any store.
func (e *Engine) resolve(ctx context.Context, text string, scope resolveScope) (string, error) {
	var firstErr error

	out := referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}

		groups := referencePattern.FindStringSubmatch(match)
		kind, key := groups[1], groups[2]

		value, err := e.resolveOne(ctx, kind, key, scope)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (e *Engine) resolveOne(ctx context.Context, kind, key string, scope resolveScope) (string, error) {
	switch kind {
	case "global_secret":
		if !scope.allowGlobalSecret {
			return "", gofererr.InvalidArgument(key, "global_secret references are not permitted in pipeline-config variables")
		}
		secret, err := e.db.GetGlobalSecret(ctx, key)
		if err != nil {
			return "", gofererr.Wrap(err, storage.ErrNotFound, nil, fmt.Sprintf("resolving global_secret{{%s}}", key))
		}
		if !secret.MatchesNamespace(scope.namespaceID, namespaceFilterMatches) {
			return "", gofererr.PermissionDenied(fmt.Sprintf("global_secret{{%s}} is not visible to namespace %q", key, scope.namespaceID))
		}
		v, err := e.secrets.Get(globalSecretKey(key))
		if err != nil {
			return "", gofererr.Internal(fmt.Sprintf("reading global_secret{{%s}}", key), err)
		}
		return v, nil

	case "pipeline_secret":
		if _, err := e.db.GetPipelineSecret(ctx, scope.namespaceID, scope.pipelineID, key); err != nil {
			return "", gofererr.Wrap(err, storage.ErrNotFound, nil, fmt.Sprintf("resolving pipeline_secret{{%s}}", key))
		}
		v, err := e.secrets.Get(pipelineSecretKey(scope.namespaceID, scope.pipelineID, key))
		if err != nil {
			return "", gofererr.Internal(fmt.Sprintf("reading pipeline_secret{{%s}}", key), err)
		}
		return v, nil

	case "pipeline_object":
		v, err := e.objects.Get(pipelineObjectKey(scope.namespaceID, scope.pipelineID, key))
		if err != nil {
			return "", gofererr.Internal(fmt.Sprintf("reading pipeline_object{{%s}}", key), err)
		}
		return string(v), nil

	case "run_object":
		v, err := e.objects.Get(runObjectKey(scope.namespaceID, scope.pipelineID, scope.runID, key))
		if err != nil {
			return "", gofererr.Internal(fmt.Sprintf("reading run_object{{%s}}", key), err)
		}
		return string(v), nil

	default:
		return "", gofererr.InvalidArgument(key, fmt.Sprintf("unknown variable reference kind %q", kind))
	}
}

// namespaceFilterMatches adapts regexp.MatchString to the predicate shape
// models.GlobalSecret.MatchesNamespace expects, treating a malformed filter
// pattern as a non-match rather than a resolution error.
func namespaceFilterMatches(pattern, namespaceID string) bool {
	ok, err := regexp.MatchString(pattern, namespaceID)
	return err == nil && ok
}

// validatePipelineConfigVariables rejects global_secret references in
// pipeline-config-level variables at registration time.
func validatePipelineConfigVariables(vars map[string]string) error {
	for key, value := range vars {
		if matches := referencePattern.FindAllStringSubmatch(value, -1); matches != nil {
			for _, m := range matches {
				if m[1] == "global_secret" {
					return gofererr.InvalidArgument(key, "global_secret references are not permitted in pipeline-config variables")
				}
			}
		}
	}
	return nil
}
