package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// AzureStore enumerates and downloads blobs from one Azure Blob Storage container
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore creates a store from a storage account connection string
func NewAzureStore(connStr, container string) (*AzureStore, error) {
	if container == "" {
		return nil, fmt.Errorf("container name is required")
	}

	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureStore{client: client, container: container}, nil
}

// List pages through the container and returns the blobs whose names start with prefix
func (s *AzureStore) List(ctx context.Context, prefix string) ([]types.BlobInfo, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var blobs []types.BlobInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := types.BlobInfo{Name: *item.Name}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					info.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					info.LastModified = props.LastModified.UTC()
				}
			}
			blobs = append(blobs, info)
		}
	}

	return blobs, nil
}

// Open starts a streaming download of a blob
func (s *AzureStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	return resp.Body, nil
}
