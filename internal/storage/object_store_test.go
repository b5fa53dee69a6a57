package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmmarket/internal/config"
)

func TestPublicURL(t *testing.T) {
	cfg := config.StorageConfig{PublicURL: "https://cdn.farm.example/", BucketAvatars: "avatars"}
	assert.Equal(t, "https://cdn.farm.example/avatars/u1/a.png", PublicURL(cfg, "/u1/a.png"))

	cfg = config.StorageConfig{Endpoint: "minio:9000", BucketAvatars: "avatars"}
	assert.Equal(t, "http://minio:9000/avatars/u1/a.png", PublicURL(cfg, "u1/a.png"))

	cfg = config.StorageConfig{Endpoint: "https://s3.example", UseSSL: true, BucketAvatars: "av"}
	assert.Equal(t, "https://s3.example/av/k", PublicURL(cfg, "k"))
}

func TestNewObjectStore_ParsesSchemeEndpoint(t *testing.T) {
	store, err := NewObjectStore(config.StorageConfig{
		Endpoint:      "https://s3.example:9443",
		AccessKey:     "ak",
		SecretKey:     "sk",
		BucketAvatars: "avatars",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3.example:9443", store.client.EndpointURL().Host)
	assert.Equal(t, "https", store.client.EndpointURL().Scheme)
}
