package operation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// MaxAttachmentBytes is the largest file QBO accepts per attachment.
const MaxAttachmentBytes = 100 << 20

const defaultAttachEntity = "Purchase"

var attachmentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".pdf":  "application/pdf",
}

// AttachRequest names local files to attach to one entity.
type AttachRequest struct {
	// EntityType defaults to Purchase.
	EntityType string
	EntityID   string
	FilePaths  []string
}

// AttachResult lists the attachables created, in file order.
type AttachResult struct {
	AttachedReceiptIDs []string `json:"attachedReceiptIds"`
	AttachmentCount    int      `json:"attachmentCount"`
}

type attachment struct {
	path        string
	name        string
	contentType string
}

// AttachReceipts uploads files and links each to the entity. Every file is
// validated before the first upload.
func (e *Executor) AttachReceipts(ctx context.Context, req AttachRequest) Envelope[AttachResult] {
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		entityType = defaultAttachEntity
	}
	ctx, finish := e.span(ctx, "attach_receipt", entityType)
	result, err := e.attachReceipts(ctx, entityType, req)
	finish(err)
	if err != nil {
		return Failure[AttachResult](err)
	}
	return Success(result)
}

func (e *Executor) attachReceipts(ctx context.Context, entityType string, req AttachRequest) (AttachResult, error) {
	result := AttachResult{AttachedReceiptIDs: []string{}}
	if len(req.FilePaths) == 0 {
		return result, nil
	}
	entity, err := lookupEntity(entityType)
	if err != nil {
		return result, err
	}
	id := strings.TrimSpace(req.EntityID)
	if id == "" {
		return result, validation("%s id is required", entity.Name)
	}

	files := make([]attachment, 0, len(req.FilePaths))
	for _, path := range req.FilePaths {
		file, err := checkAttachment(path)
		if err != nil {
			return result, err
		}
		files = append(files, file)
	}

	if _, err := e.get(ctx, entity.Name, id); err != nil {
		return result, err
	}

	for _, file := range files {
		content, err := os.ReadFile(file.path)
		if err != nil {
			return result, partialAttach(result, validation("read %s: %v", file.name, err))
		}
		e.logger.Info("uploading attachment",
			"entity", entity.Name, "id", id, "file", file.name,
			"content_type", file.contentType, "bytes", len(content))
		upload := upstream.Upload{
			FileName:    file.name,
			ContentType: file.contentType,
			Content:     content,
			EntityType:  entity.Name,
			EntityID:    id,
		}
		attachable, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
			return api.Upload(ctx, upload)
		})
		if err != nil {
			return result, partialAttach(result, err)
		}
		result.AttachedReceiptIDs = append(result.AttachedReceiptIDs, stringID(attachable["Id"]))
		result.AttachmentCount++
	}
	return result, nil
}

func checkAttachment(path string) (attachment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return attachment{}, validation("file path is required")
	}
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || rest[0] == '/') {
		home, err := os.UserHomeDir()
		if err != nil {
			return attachment{}, validation("expand %s: %v", path, err)
		}
		path = home + rest
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return attachment{}, validation("resolve %s: %v", path, err)
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return attachment{}, validation("file not found: %s", path)
	case err != nil:
		return attachment{}, validation("stat %s: %v", path, err)
	case !info.Mode().IsRegular():
		return attachment{}, validation("not a file: %s", path)
	case info.Size() > MaxAttachmentBytes:
		return attachment{}, validation("%s is %d bytes; the limit is %d", path, info.Size(), MaxAttachmentBytes)
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := attachmentTypes[ext]
	if !ok {
		return attachment{}, apperrors.WithMetadata(apperrors.CodeUnsupportedMimeType,
			fmt.Sprintf("unsupported file extension %q", ext),
			map[string]string{"file": path, "supported": supportedTypes()})
	}
	return attachment{path: path, name: filepath.Base(path), contentType: contentType}, nil
}

func supportedTypes() string {
	var types []string
	for _, t := range attachmentTypes {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return strings.Join(types, ",")
}

// partialAttach keeps the failure's code and names the attachables already
// created so a caller does not upload them twice.
func partialAttach(done AttachResult, err error) error {
	if done.AttachmentCount == 0 {
		return err
	}
	return apperrors.Wrap(Classify(err),
		fmt.Sprintf("attached %s before failing", strings.Join(done.AttachedReceiptIDs, ",")), err)
}
