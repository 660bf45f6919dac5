// Package audit persists the intermediate artifacts of every request so the
// request can be replayed and checked later.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Artifact string

const (
	ArtifactResolution Artifact = "resolution"
	ArtifactExpansion  Artifact = "expansion"
	ArtifactBundlePre  Artifact = "bundle_pre"
	ArtifactBundlePost Artifact = "bundle_post"
	ArtifactEnvelope   Artifact = "envelope"
	ArtifactRawAnswer  Artifact = "raw_answer"
	ArtifactValidation Artifact = "validation"
	ArtifactResponse   Artifact = "response"
	ArtifactError      Artifact = "error"
)

// Artifacts lists every artifact kind in pipeline order.
var Artifacts = []Artifact{
	ArtifactResolution,
	ArtifactExpansion,
	ArtifactBundlePre,
	ArtifactBundlePost,
	ArtifactEnvelope,
	ArtifactRawAnswer,
	ArtifactValidation,
	ArtifactResponse,
	ArtifactError,
}

func ParseArtifact(s string) (Artifact, error) {
	s = strings.TrimSuffix(s, ".json")
	for _, a := range Artifacts {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown artifact %q", s)
}

var (
	ErrArtifactExists        = errors.New("artifact already exists")
	ErrArtifactNotFound      = errors.New("artifact not found")
	ErrArtifactPersistFailed = errors.New("artifact persist failed")
)

// ArtifactStore is write-once storage for artifact bodies.
// Put returns ErrArtifactExists when key was written before.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key is "<request_id>/<artifact>.json".
func Key(requestID string, a Artifact) string {
	return fmt.Sprintf("%s/%s.json", requestID, a)
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (string, Artifact, error) {
	requestID, name, ok := strings.Cut(key, "/")
	if !ok || requestID == "" {
		return "", "", fmt.Errorf("malformed artifact key %q", key)
	}
	a, err := ParseArtifact(name)
	if err != nil {
		return "", "", err
	}
	return requestID, a, nil
}
