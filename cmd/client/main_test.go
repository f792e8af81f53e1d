package main

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/objectstore"
	"image-processing-flow/internal/pipeline"
	"testing"
)

var defaults = config.Defaults{SourceBucket: "images", Transform: "GRAYSCALE"}

func TestBuildRequest_Defaults(t *testing.T) {
	req, err := buildRequest(startFlags{key: "raw/cat.jpg"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Request{SourceBucket: "images", SourceKey: "raw/cat.jpg", Transform: pipeline.Grayscale}, req)
}

func TestBuildRequest_SourceURI(t *testing.T) {
	req, err := buildRequest(startFlags{source: "s3://other/a/b.png", bucket: "ignored", key: "ignored", dest: "out", transform: "sepia"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "other", req.SourceBucket)
	assert.Equal(t, "a/b.png", req.SourceKey)
	assert.Equal(t, "out", req.DestBucket)
	assert.Equal(t, pipeline.TransformKind("sepia"), req.Transform)
}

func TestBuildRequest_Errors(t *testing.T) {
	_, err := buildRequest(startFlags{source: "http://x/y"}, defaults)
	var parseErr *objectstore.S3UriParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = buildRequest(startFlags{}, defaults)
	assert.Equal(t, pipeline.KindPermanentInput, pipeline.KindOf(err))
}
