package stepexec

import (
	"context"

	"github.com/dastron/mediaworker/internal/errs"
	"github.com/dastron/mediaworker/internal/external"
)

// processorVersion identifies this engine's current media-processing
// logic for cache validation.
const processorVersion = "mediaworker-v1"

// FinalizeExecutor registers derived blobs with the metadata store
// and patches the file ids onto the Media record that probe created.
// It does not create the Media record: a missing record fails the
// update as a retryable error. Each run registers new file records,
// and existing references on the Media record are not reused.
type FinalizeExecutor struct {
	Store external.MetadataStore
}

func (e *FinalizeExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	uploadID, _ := in.Payload["uploadId"].(string)
	if uploadID == "" {
		return nil, errs.Terminal("invalid finalize input: uploadId is required", nil)
	}

	probeOut, ok := in.Dep("probe", "probe")
	if !ok {
		return nil, errs.Terminal("finalize: missing probe output", nil)
	}
	mediaIDAny, ok := in.Dep("probe", "mediaId")
	if !ok {
		return nil, errs.Terminal("finalize: missing mediaId from probe", nil)
	}
	mediaID, ok := mediaIDAny.(string)
	if !ok || mediaID == "" {
		return nil, errs.Terminal("finalize: mediaId is not a string", nil)
	}

	out := map[string]any{
		"mediaId":          mediaID,
		"processorVersion": processorVersion,
		"probe":            probeOut,
	}

	patch := map[string]any{}

	if thumbPath, ok := in.Dep("thumbnail", "thumbnailPath"); ok {
		id, err := registerFile(ctx, e.Store, mediaID, "thumbnail", thumbPath.(string))
		if err != nil {
			return nil, errs.Retryable("register thumbnail blob", err)
		}
		out["thumbnailFileId"] = id
		patch["thumbnailFileId"] = id
	}
	if spritePath, ok := in.Dep("sprite", "spritePath"); ok {
		id, err := registerFile(ctx, e.Store, mediaID, "sprite", spritePath.(string))
		if err != nil {
			return nil, errs.Retryable("register sprite blob", err)
		}
		out["spriteFileId"] = id
		patch["spriteFileId"] = id
	}
	if proxyPath, ok := in.Dep("transcode", "proxyPath"); ok {
		id, err := registerFile(ctx, e.Store, mediaID, "proxy", proxyPath.(string))
		if err != nil {
			return nil, errs.Retryable("register proxy blob", err)
		}
		out["proxyFileId"] = id
		patch["proxyFileId"] = id
	}

	if len(patch) > 0 {
		if _, err := e.Store.Update(ctx, "media", mediaID, patch); err != nil {
			return nil, errs.Retryable("finalize media update", err)
		}
	}

	if in.Progress != nil {
		in.Progress(100)
	}

	return out, nil
}

// registerFile creates a file-attachment record for path and returns
// its id. A fresh record is returned for each call: the dedup
// responsibility for "already registered" lives in the caller's
// idempotent patch of the Media record, not in re-deriving the same
// file id across attempts.
func registerFile(ctx context.Context, store external.MetadataStore, mediaID, field, path string) (string, error) {
	rec, err := store.Create(ctx, "media_files", map[string]any{
		"mediaId": mediaID,
		"field":   field,
		"path":    path,
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
