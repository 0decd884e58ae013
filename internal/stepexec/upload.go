package stepexec

import (
	"context"
	"os"
	"strings"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
)

// UploadToObjectStoreExecutor is the root node of the detect-labels
// flow: it ensures the media is reachable at an object-store URI,
// uploading only when absent.
type UploadToObjectStoreExecutor struct {
	Blob external.BlobStore
}

func (e *UploadToObjectStoreExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	mediaID, _ := in.Payload["mediaId"].(string)
	fileRef, _ := in.Payload["fileRef"].(string)
	if mediaID == "" || fileRef == "" {
		return nil, errs.Terminal("invalid upload-to-object-store input: mediaId and fileRef are required", nil)
	}

	if isObjectURI(fileRef) {
		return map[string]any{"objectUri": fileRef, "uploaded": false, "alreadyExisted": true}, nil
	}

	key := "media/" + mediaID + "/source"
	exists, err := e.Blob.Exists(ctx, key)
	if err != nil {
		return nil, errs.Retryable("object store existence check failed", err)
	}
	if exists {
		uri, _ := e.Blob.Resolve(ctx, key)
		return map[string]any{"objectUri": uri, "uploaded": false, "alreadyExisted": true}, nil
	}

	data, err := os.ReadFile(fileRef)
	if err != nil {
		return nil, errs.Terminal("missing source file", err)
	}
	if err := e.Blob.Put(ctx, key, data); err != nil {
		return nil, errs.Retryable("object store upload failed", err)
	}

	uri, _ := e.Blob.Resolve(ctx, key)
	if in.Progress != nil {
		in.Progress(100)
	}
	return map[string]any{"objectUri": uri, "uploaded": true, "alreadyExisted": false}, nil
}

func isObjectURI(ref string) bool {
	return strings.Contains(ref, "://")
}
