package engine

import (
	"fmt"
	"strconv"
)

// Key formats for the secret/object stores, which are plain byte key/value
// stores with no notion of namespace or pipeline on their own; ownership and
// scoping live entirely in these key prefixes plus the Persistence Port
// metadata rows that authorize access to them.

func globalSecretKey(key string) string {
	return fmt.Sprintf("global_secret/%s", key)
}

func pipelineSecretKey(namespaceID, pipelineID, key string) string {
	return fmt.Sprintf("pipeline_secret/%s/%s/%s", namespaceID, pipelineID, key)
}

func pipelineObjectKey(namespaceID, pipelineID, key string) string {
	return fmt.Sprintf("pipeline_object/%s/%s/%s", namespaceID, pipelineID, key)
}

func runObjectKey(namespaceID, pipelineID string, runID int64, key string) string {
	return fmt.Sprintf("run_object/%s/%s/%s/%s", namespaceID, pipelineID, strconv.FormatInt(runID, 10), key)
}
